// Package twitchadapter owns the bot's single Twitch chat connection.
package twitchadapter

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
	"songBot/internal/infrastructure/metrics"
)

const (
	maxChatMessageLength = 500
	leaveTimeout         = 5 * time.Second
)

// API is the Helix surface the adapter uses.
type API interface {
	ValidateToken(ctx context.Context, token string) (domain.TokenInfo, bool, error)
	UserID(ctx context.Context, login string) (string, error)
	SendChatMessage(ctx context.Context, broadcasterID, senderID, text, replyTo string) error
	SubscribeChatMessages(ctx context.Context, sessionID, broadcasterID, botID string) (string, error)
	DeleteSubscription(ctx context.Context, id string) error
	SetToken(token string)
}

type APIFactory func(clientID, token string) (API, error)

// Stream is an inbound chat event session.
type Stream interface {
	Connect(ctx context.Context) (sessionID string, err error)
	Run(ctx context.Context, handle func(domain.Message)) error
	Close() error
}

type StreamFactory func() Stream

type MessageHandler func(ctx context.Context, msg domain.Message) error

type StateHook func(old, current domain.ConnectionState)

type Config struct {
	ClientID  string
	NewAPI    APIFactory
	NewStream StreamFactory

	// Settings persists reauth and command flags. Optional.
	Settings        domain.SettingsRepository
	CommandsEnabled bool
}

type session struct {
	api            API
	stream         Stream
	channel        string
	broadcasterID  string
	botID          string
	subscriptionID string
	cancel         context.CancelFunc
	done           chan struct{}
}

type Adapter struct {
	cfg Config
	log *logrus.Entry

	flight      singleflight.Group
	connectMu   sync.Mutex
	connecting  string
	lifecycleMu sync.Mutex

	mu              sync.RWMutex
	state           domain.ConnectionState
	session         *session
	broadcasterIDs  map[string]string
	handler         MessageHandler
	sink            MessageHandler
	commandsEnabled bool

	notifyMu sync.Mutex
	hooksMu  sync.RWMutex
	hooks    []StateHook
}

func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg:             cfg,
		log:             logging.GetLogger(logging.TwitchModule),
		state:           domain.StateDisconnected,
		broadcasterIDs:  make(map[string]string),
		commandsEnabled: cfg.CommandsEnabled,
	}
}

// SetHandler receives the messages that pass the commands filter.
func (a *Adapter) SetHandler(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// SetSink receives every inbound message, commands enabled or not.
func (a *Adapter) SetSink(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = h
}

// OnStateChange registers a hook that runs on every transition, in order.
// Hooks must not call back into the adapter's connect or leave.
func (a *Adapter) OnStateChange(h StateHook) {
	if h == nil {
		return
	}
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.hooks = append(a.hooks, h)
}

func (a *Adapter) State() domain.ConnectionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Channel is the joined channel login, empty when not connected.
func (a *Adapter) Channel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return ""
	}
	return a.session.channel
}

func (a *Adapter) CommandsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.commandsEnabled
}

func (a *Adapter) SetCommandsEnabled(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	a.commandsEnabled = enabled
	a.mu.Unlock()

	a.log.WithField("enabled", enabled).Info("chat commands toggled")
	if a.cfg.Settings == nil {
		return nil
	}
	return a.cfg.Settings.SetCommandsEnabled(ctx, enabled)
}

func (a *Adapter) setState(next domain.ConnectionState, force bool) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	old := a.state
	// ReauthRequired survives disconnects until a fresh token arrives.
	if old == next || (!force && old == domain.StateReauthRequired && next == domain.StateDisconnected) {
		a.mu.Unlock()
		return
	}
	a.state = next
	a.mu.Unlock()

	metrics.ConnectionState.Set(float64(next))
	a.log.WithFields(logrus.Fields{"from": old, "to": next}).Info("connection state changed")

	a.hooksMu.RLock()
	hooks := append([]StateHook(nil), a.hooks...)
	a.hooksMu.RUnlock()
	for _, h := range hooks {
		h(old, next)
	}
}

// MarkReauth records that Twitch refused the bot token somewhere outside the
// adapter. A live session is dropped and the state stays ReauthRequired
// until ClearReauth or a successful connect.
func (a *Adapter) MarkReauth(ctx context.Context) {
	a.markReauth(ctx)
}

func (a *Adapter) markReauth(ctx context.Context) {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()
	if sess != nil {
		// Callers may hold lifecycleMu, so the network teardown runs apart.
		sess.cancel()
		go a.release(sess)
	}

	a.setState(domain.StateReauthRequired, false)
	if a.cfg.Settings == nil {
		return
	}
	if err := a.cfg.Settings.SetReauthNeeded(ctx, true); err != nil {
		a.log.WithError(err).Warn("could not persist reauth flag")
	}
}

// ClearReauth is called once a new token has been stored.
func (a *Adapter) ClearReauth(ctx context.Context) {
	if a.State() == domain.StateReauthRequired {
		a.setState(domain.StateDisconnected, true)
	}
	if a.cfg.Settings == nil {
		return
	}
	if err := a.cfg.Settings.SetReauthNeeded(ctx, false); err != nil {
		a.log.WithError(err).Warn("could not clear reauth flag")
	}
}

// ValidateToken never fails: a network error counts as an invalid token.
// A false result moves the adapter to ReauthRequired.
func (a *Adapter) ValidateToken(ctx context.Context, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	api, err := a.newAPI(a.cfg.ClientID, token)
	if err != nil {
		a.log.WithError(err).Warn("token validation skipped")
		return false
	}

	info, valid, err := api.ValidateToken(ctx, token)
	if err != nil {
		a.log.WithError(err).Warn("token validation failed, treating token as invalid")
		a.markReauth(ctx)
		return false
	}
	if !valid {
		a.log.Warn("twitch rejected the stored token")
		a.markReauth(ctx)
		return false
	}
	if info.ClientID != "" && info.ClientID != a.cfg.ClientID {
		a.log.WithField("token_client_id", info.ClientID).Warn("token was issued for a different client id")
	}
	return true
}

func (a *Adapter) newAPI(clientID, token string) (API, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, domain.NewError(domain.ErrConfiguration, "twitch api", errors.New("client id is empty"))
	}
	if a.cfg.NewAPI == nil {
		return nil, domain.NewError(domain.ErrConfiguration, "twitch api", errors.New("no api factory"))
	}
	return a.cfg.NewAPI(clientID, token)
}

// ConnectToChannel joins channelName as the owner of token. Concurrent calls
// for the same channel share one attempt; a call for another channel while
// one is running fails with domain.ErrBusy.
func (a *Adapter) ConnectToChannel(ctx context.Context, channelName, token, clientID string) error {
	const op = "connect"
	channel := normalizeChannel(channelName)
	token = strings.TrimSpace(token)

	switch {
	case strings.TrimSpace(clientID) == "":
		return domain.NewError(domain.ErrConfiguration, op, errors.New("client id is empty"))
	case token == "":
		return domain.NewError(domain.ErrAuth, op, errors.New("no token"))
	case channel == "":
		return domain.NewError(domain.ErrConnection, op, errors.New("empty channel name"))
	}

	return a.single(ctx, "channel:"+channel, func() error {
		return a.connect(ctx, channel, token, clientID)
	})
}

// JoinChannel is ConnectToChannel for callers that already know both ids.
func (a *Adapter) JoinChannel(ctx context.Context, broadcasterID, botID, token, clientID string) error {
	const op = "join"
	token = strings.TrimSpace(token)
	switch {
	case strings.TrimSpace(clientID) == "":
		return domain.NewError(domain.ErrConfiguration, op, errors.New("client id is empty"))
	case token == "":
		return domain.NewError(domain.ErrAuth, op, errors.New("no token"))
	case broadcasterID == "" || botID == "":
		return domain.NewError(domain.ErrConnection, op, errors.New("broadcaster and bot ids are required"))
	}

	return a.single(ctx, "id:"+broadcasterID, func() error {
		if a.alreadyJoined(broadcasterID) {
			return nil
		}
		a.leaveCurrent(ctx)
		a.setState(domain.StateConnecting, false)
		api, err := a.newAPI(clientID, token)
		if err != nil {
			a.setState(domain.StateDisconnected, false)
			return err
		}
		return a.join(ctx, api, broadcasterID, broadcasterID, botID)
	})
}

func (a *Adapter) single(ctx context.Context, key string, fn func() error) error {
	a.connectMu.Lock()
	if a.connecting != "" && a.connecting != key {
		a.connectMu.Unlock()
		return domain.NewError(domain.ErrBusy, "connect", nil)
	}
	a.connecting = key
	a.connectMu.Unlock()

	_, err, shared := a.flight.Do(key, func() (any, error) {
		defer func() {
			a.connectMu.Lock()
			a.connecting = ""
			a.connectMu.Unlock()
		}()
		a.lifecycleMu.Lock()
		defer a.lifecycleMu.Unlock()
		return nil, fn()
	})
	if shared {
		a.log.WithField("key", key).Debug("joined in-flight connect")
	}
	return err
}

func (a *Adapter) alreadyJoined(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil && a.state == domain.StateConnected &&
		(a.session.channel == key || a.session.broadcasterID == key)
}

func (a *Adapter) connect(ctx context.Context, channel, token, clientID string) error {
	const op = "connect"
	if a.alreadyJoined(channel) {
		return nil
	}
	a.leaveCurrent(ctx)
	a.setState(domain.StateConnecting, false)

	api, err := a.newAPI(clientID, token)
	if err != nil {
		a.setState(domain.StateDisconnected, false)
		return err
	}

	info, valid, err := api.ValidateToken(ctx, token)
	if err != nil {
		a.setState(domain.StateDisconnected, false)
		return domain.NewError(domain.ErrConnection, op, err)
	}
	if !valid {
		a.markReauth(ctx)
		return domain.NewError(domain.ErrAuth, op, errors.New("twitch rejected the token"))
	}

	broadcasterID, err := a.resolveBroadcaster(ctx, api, channel)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			a.markReauth(ctx)
			return err
		}
		a.setState(domain.StateDisconnected, false)
		return domain.NewError(domain.ErrConnection, op, err)
	}

	a.log.WithFields(logrus.Fields{
		"channel": channel,
		"bot":     info.Login,
	}).Info("joining channel")

	return a.join(ctx, api, channel, broadcasterID, info.UserID)
}

func (a *Adapter) resolveBroadcaster(ctx context.Context, api API, channel string) (string, error) {
	a.mu.RLock()
	id, ok := a.broadcasterIDs[channel]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := api.UserID(ctx, channel)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.broadcasterIDs[channel] = id
	a.mu.Unlock()
	return id, nil
}

func (a *Adapter) join(ctx context.Context, api API, channel, broadcasterID, botID string) error {
	const op = "join"
	if a.cfg.NewStream == nil {
		a.setState(domain.StateDisconnected, false)
		return domain.NewError(domain.ErrConfiguration, op, errors.New("no stream factory"))
	}

	stream := a.cfg.NewStream()
	sessionID, err := stream.Connect(ctx)
	if err != nil {
		_ = stream.Close()
		a.setState(domain.StateDisconnected, false)
		return domain.NewError(domain.ErrConnection, op, err)
	}

	subID, err := api.SubscribeChatMessages(ctx, sessionID, broadcasterID, botID)
	if err != nil {
		_ = stream.Close()
		if errors.Is(err, domain.ErrAuth) {
			a.markReauth(ctx)
			return err
		}
		a.setState(domain.StateDisconnected, false)
		return domain.NewError(domain.ErrConnection, op, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		api:            api,
		stream:         stream,
		channel:        channel,
		broadcasterID:  broadcasterID,
		botID:          botID,
		subscriptionID: subID,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()

	a.setState(domain.StateConnected, true)
	if a.cfg.Settings != nil {
		if err := a.cfg.Settings.SetReauthNeeded(ctx, false); err != nil {
			a.log.WithError(err).Warn("could not clear reauth flag")
		}
	}

	go a.run(runCtx, sess)
	return nil
}

func (a *Adapter) run(ctx context.Context, sess *session) {
	defer close(sess.done)

	err := sess.stream.Run(ctx, func(msg domain.Message) {
		a.handleInbound(ctx, sess, msg)
	})
	if ctx.Err() != nil {
		return
	}

	a.mu.Lock()
	current := a.session == sess
	if current {
		a.session = nil
	}
	a.mu.Unlock()
	_ = sess.stream.Close()
	sess.cancel()

	if !current {
		return
	}
	if errors.Is(err, domain.ErrAuth) {
		a.log.WithError(err).Warn("chat session revoked")
		a.markReauth(context.Background())
		return
	}
	a.log.WithError(err).Warn("chat session ended")
	a.setState(domain.StateDisconnected, false)
}

func (a *Adapter) handleInbound(ctx context.Context, sess *session, msg domain.Message) {
	if ctx.Err() != nil {
		return
	}
	if msg.UserID != "" && msg.UserID == sess.botID {
		return
	}
	msg.Platform = domain.PlatformTwitch
	if msg.ChannelID == "" {
		msg.ChannelID = sess.channel
	}

	a.mu.RLock()
	sink, handler, enabled := a.sink, a.handler, a.commandsEnabled
	a.mu.RUnlock()

	if sink != nil {
		if err := sink(ctx, msg); err != nil {
			a.log.WithError(err).Debug("message sink failed")
		}
	}
	if !enabled || handler == nil {
		return
	}

	go func() {
		if err := handler(ctx, msg); err != nil {
			a.log.WithError(err).Warn("message handler failed")
		}
	}()
}

// LeaveChannel tears the session down. Safe to call when disconnected.
func (a *Adapter) LeaveChannel(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.leaveCurrent(ctx)
	a.setState(domain.StateDisconnected, false)
	return nil
}

func (a *Adapter) leaveCurrent(ctx context.Context) {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()
	if sess == nil {
		return
	}

	sess.cancel()
	a.closeSession(ctx, sess)

	select {
	case <-sess.done:
	case <-ctx.Done():
	case <-time.After(leaveTimeout):
		a.log.Warn("chat session did not stop in time")
	}
	a.log.WithField("channel", sess.channel).Info("left channel")
}

func (a *Adapter) release(sess *session) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	a.closeSession(ctx, sess)
	a.log.WithField("channel", sess.channel).Info("dropped chat session after token rejection")
}

func (a *Adapter) closeSession(ctx context.Context, sess *session) {
	if err := sess.api.DeleteSubscription(ctx, sess.subscriptionID); err != nil {
		a.log.WithError(err).Warn("could not delete chat subscription")
	}
	if err := sess.stream.Close(); err != nil {
		a.log.WithError(err).Debug("closing chat stream")
	}
}

// UpdateToken swaps the token of the live session after a refresh.
func (a *Adapter) UpdateToken(token string) {
	a.mu.RLock()
	sess := a.session
	a.mu.RUnlock()
	if sess != nil {
		sess.api.SetToken(token)
	}
}

func (a *Adapter) SendMessage(ctx context.Context, text string) error {
	return a.SendReply(ctx, text, "")
}

// SendReply posts text as the bot, threaded under replyTo when set. It fails
// with domain.ErrNotConnected unless the adapter is connected.
func (a *Adapter) SendReply(ctx context.Context, text, replyTo string) error {
	const op = "send message"

	a.mu.RLock()
	sess, state := a.session, a.state
	a.mu.RUnlock()
	if sess == nil || state != domain.StateConnected {
		return domain.NewError(domain.ErrNotConnected, op, nil)
	}

	text = truncateMessage(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	if err := sess.api.SendChatMessage(ctx, sess.broadcasterID, sess.botID, text, replyTo); err != nil {
		metrics.ChatMessagesSent.WithLabelValues("failed").Inc()
		if errors.Is(err, domain.ErrAuth) {
			a.markReauth(ctx)
		}
		return err
	}
	metrics.ChatMessagesSent.WithLabelValues("sent").Inc()
	a.log.WithField("channel", sess.channel).Debugf("twitch -> %s", text)
	return nil
}

func normalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}

func truncateMessage(text string) string {
	if utf8.RuneCountInString(text) <= maxChatMessageLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChatMessageLength-1]) + "…"
}

var _ domain.Replier = (*Adapter)(nil)
