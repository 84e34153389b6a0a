package twitchinfra

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
	"songBot/internal/infrastructure/metrics"
)

const (
	DefaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws"

	welcomeTimeout   = 10 * time.Second
	keepaliveGrace   = 5 * time.Second
	defaultKeepalive = 10 * time.Second
	seenMessageLimit = 256
)

type eventSubEnvelope struct {
	Metadata struct {
		MessageID        string `json:"message_id"`
		MessageType      string `json:"message_type"`
		MessageTimestamp string `json:"message_timestamp"`
		SubscriptionType string `json:"subscription_type"`
	} `json:"metadata"`
	Payload json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		Status                  string `json:"status"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type chatMessageEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	ChatterUserID        string `json:"chatter_user_id"`
	ChatterUserLogin     string `json:"chatter_user_login"`
	ChatterUserName      string `json:"chatter_user_name"`
	MessageID            string `json:"message_id"`
	Message              struct {
		Text string `json:"text"`
	} `json:"message"`
}

// EventSubStream is one EventSub websocket session. Connect waits for the
// welcome message; Run reads until the session ends.
type EventSubStream struct {
	url    string
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	keepalive time.Duration
	closed    bool

	seen      map[string]struct{}
	seenOrder []string
}

func NewEventSubStream(url string) *EventSubStream {
	if strings.TrimSpace(url) == "" {
		url = DefaultEventSubURL
	}
	return &EventSubStream{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: welcomeTimeout},
		log:    logging.GetLogger(logging.TwitchModule).WithField("component", "eventsub"),
		seen:   make(map[string]struct{}),
	}
}

func (s *EventSubStream) Connect(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", errors.New("eventsub: stream closed")
	}
	conn, session, err := s.open(ctx, s.url)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return "", errors.New("eventsub: stream closed")
	}
	s.conn = conn
	s.sessionID = session.Session.ID
	s.keepalive = keepaliveFrom(session)

	s.log.WithField("session_id", s.sessionID).Debug("eventsub session opened")
	return s.sessionID, nil
}

func (s *EventSubStream) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// open dials url and reads the session_welcome.
func (s *EventSubStream) open(ctx context.Context, url string) (*websocket.Conn, sessionPayload, error) {
	var session sessionPayload

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, session, errors.Wrap(err, "eventsub: dial")
	}

	if err := conn.SetReadDeadline(time.Now().Add(welcomeTimeout)); err != nil {
		conn.Close()
		return nil, session, errors.Wrap(err, "eventsub: set deadline")
	}

	var env eventSubEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, session, errors.Wrap(err, "eventsub: read welcome")
	}
	if env.Metadata.MessageType != "session_welcome" {
		conn.Close()
		return nil, session, domain.NewError(domain.ErrProtocol, "eventsub welcome", errors.Errorf("unexpected %q", env.Metadata.MessageType))
	}
	if err := json.Unmarshal(env.Payload, &session); err != nil || session.Session.ID == "" {
		conn.Close()
		return nil, session, domain.NewError(domain.ErrProtocol, "eventsub welcome", errors.New("missing session id"))
	}

	return conn, session, nil
}

func keepaliveFrom(session sessionPayload) time.Duration {
	if session.Session.KeepaliveTimeoutSeconds > 0 {
		return time.Duration(session.Session.KeepaliveTimeoutSeconds) * time.Second
	}
	return defaultKeepalive
}

// Run delivers chat messages to handle until ctx is cancelled, Close is
// called (both return nil) or the session fails.
func (s *EventSubStream) Run(ctx context.Context, handle func(domain.Message)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		s.mu.Lock()
		conn, keepalive, closed := s.conn, s.keepalive, s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}
		if conn == nil {
			return errors.New("eventsub: not connected")
		}

		// Twitch sends a keepalive at least every keepalive seconds.
		_ = conn.SetReadDeadline(time.Now().Add(keepalive + keepaliveGrace))

		var env eventSubEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if s.isClosed() || ctx.Err() != nil {
				return nil
			}
			s.mu.Lock()
			swapped := s.conn != conn
			s.mu.Unlock()
			if swapped {
				continue
			}
			return domain.NewError(domain.ErrConnection, "eventsub read", err)
		}

		metrics.EventSubNotifications.WithLabelValues(env.Metadata.MessageType).Inc()

		switch env.Metadata.MessageType {
		case "session_keepalive":
		case "notification":
			if !s.markSeen(env.Metadata.MessageID) {
				continue
			}
			msg, ok := s.decodeChatMessage(env)
			if ok && handle != nil {
				handle(msg)
			}
		case "session_reconnect":
			if err := s.reconnect(ctx, env.Payload); err != nil {
				return err
			}
		case "revocation":
			return s.revoked(env.Payload)
		default:
			s.log.WithField("type", env.Metadata.MessageType).Debug("ignoring eventsub message")
		}
	}
}

func (s *EventSubStream) decodeChatMessage(env eventSubEnvelope) (domain.Message, bool) {
	if env.Metadata.SubscriptionType != chatMessageSubscription {
		return domain.Message{}, false
	}
	var payload notificationPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.log.WithError(err).Warn("bad notification payload")
		return domain.Message{}, false
	}
	var event chatMessageEvent
	if err := json.Unmarshal(payload.Event, &event); err != nil {
		s.log.WithError(err).Warn("bad chat message event")
		return domain.Message{}, false
	}

	received := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339Nano, env.Metadata.MessageTimestamp); err == nil {
		received = ts
	}

	return domain.Message{
		Platform:   domain.PlatformTwitch,
		ChannelID:  event.BroadcasterUserLogin,
		MessageID:  event.MessageID,
		UserID:     event.ChatterUserID,
		Username:   event.ChatterUserName,
		Text:       event.Message.Text,
		ReceivedAt: received,
	}, true
}

// reconnect moves to the URL Twitch hands out; subscriptions carry over.
func (s *EventSubStream) reconnect(ctx context.Context, raw json.RawMessage) error {
	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Session.ReconnectURL == "" {
		return domain.NewError(domain.ErrProtocol, "eventsub reconnect", errors.New("missing reconnect_url"))
	}

	conn, session, err := s.open(ctx, payload.Session.ReconnectURL)
	if err != nil {
		return domain.NewError(domain.ErrConnection, "eventsub reconnect", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	old := s.conn
	s.conn = conn
	s.sessionID = session.Session.ID
	s.keepalive = keepaliveFrom(session)
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.log.WithField("session_id", session.Session.ID).Info("eventsub session moved")
	return nil
}

func (s *EventSubStream) revoked(raw json.RawMessage) error {
	var payload notificationPayload
	_ = json.Unmarshal(raw, &payload)
	cause := errors.Errorf("subscription %s revoked: %s", payload.Subscription.ID, payload.Subscription.Status)
	if payload.Subscription.Status == "authorization_revoked" {
		return domain.NewError(domain.ErrAuth, "eventsub", cause)
	}
	return domain.NewError(domain.ErrConnection, "eventsub", cause)
}

// markSeen reports false for a message id already delivered.
func (s *EventSubStream) markSeen(id string) bool {
	if id == "" {
		return true
	}
	if _, dup := s.seen[id]; dup {
		return false
	}
	s.seen[id] = struct{}{}
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > seenMessageLimit {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	return true
}

func (s *EventSubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *EventSubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
