package twitchinfra

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/nicklaw5/helix/v2"

	"songBot/internal/domain"
)

const (
	chatMessageSubscription = "channel.chat.message"
	chatMessageVersion      = "1"
)

type HelixConfig struct {
	ClientID string
	Token    string

	// APIBaseURL and HTTPClient are overridden in tests.
	APIBaseURL string
	HTTPClient helix.HTTPClient
}

// HelixAPI is the slice of the Helix API the chat connection needs, bound to
// one client ID and user token.
type HelixAPI struct {
	client *helix.Client
	mu     sync.RWMutex
}

func NewHelixAPI(cfg HelixConfig) (*HelixAPI, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, domain.NewError(domain.ErrConfiguration, "helix client", errors.New("TWITCH_CLIENT_ID is not set"))
	}
	opts := &helix.Options{
		ClientID:        cfg.ClientID,
		UserAccessToken: cfg.Token,
		APIBaseURL:      cfg.APIBaseURL,
	}
	if cfg.HTTPClient != nil {
		opts.HTTPClient = cfg.HTTPClient
	} else {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	client, err := helix.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "helix: NewClient")
	}
	return &HelixAPI{client: client}, nil
}

func (a *HelixAPI) SetToken(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client.SetUserAccessToken(token)
}

func (a *HelixAPI) getClient() *helix.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// ValidateToken calls the identity validate endpoint. valid is false with a
// nil error when Twitch rejects the token.
func (a *HelixAPI) ValidateToken(ctx context.Context, token string) (domain.TokenInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.TokenInfo{}, false, err
	}
	valid, resp, err := a.getClient().ValidateToken(token)
	if err != nil {
		return domain.TokenInfo{}, false, domain.NewError(domain.ErrNetwork, "validate token", err)
	}
	if !valid || resp == nil {
		return domain.TokenInfo{}, false, nil
	}
	return domain.TokenInfo{
		ClientID:  resp.Data.ClientID,
		Login:     resp.Data.Login,
		UserID:    resp.Data.UserID,
		Scopes:    resp.Data.Scopes,
		ExpiresIn: time.Duration(resp.Data.ExpiresIn) * time.Second,
	}, true, nil
}

// UserID resolves a login name to its numeric id.
func (a *HelixAPI) UserID(ctx context.Context, login string) (string, error) {
	const op = "resolve user"
	login = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "#"))
	if login == "" {
		return "", domain.NewError(domain.ErrConnection, op, errors.New("empty login"))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err := a.getClient().GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return "", domain.NewError(domain.ErrNetwork, op, err)
	}
	if err := statusError(op, resp.StatusCode, resp.Error, resp.ErrorMessage, http.StatusOK); err != nil {
		return "", err
	}
	if len(resp.Data.Users) == 0 {
		return "", domain.NewError(domain.ErrConnection, op, errors.Errorf("user %q not found", login))
	}
	return resp.Data.Users[0].ID, nil
}

func (a *HelixAPI) SendChatMessage(ctx context.Context, broadcasterID, senderID, text, replyTo string) error {
	const op = "send chat message"
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := a.getClient().SendChatMessage(&helix.SendChatMessageParams{
		BroadcasterID:        broadcasterID,
		SenderID:             senderID,
		Message:              text,
		ReplyParentMessageID: replyTo,
	})
	if err != nil {
		return domain.NewError(domain.ErrNetwork, op, err)
	}
	return statusError(op, resp.StatusCode, resp.Error, resp.ErrorMessage, http.StatusOK)
}

// SubscribeChatMessages creates a channel.chat.message subscription on the
// given EventSub websocket session and returns its id.
func (a *HelixAPI) SubscribeChatMessages(ctx context.Context, sessionID, broadcasterID, botID string) (string, error) {
	const op = "subscribe chat"
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err := a.getClient().CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:    chatMessageSubscription,
		Version: chatMessageVersion,
		Condition: helix.EventSubCondition{
			BroadcasterUserID: broadcasterID,
			UserID:            botID,
		},
		Transport: helix.EventSubTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	})
	if err != nil {
		return "", domain.NewError(domain.ErrNetwork, op, err)
	}
	if err := statusError(op, resp.StatusCode, resp.Error, resp.ErrorMessage, http.StatusAccepted, http.StatusOK); err != nil {
		return "", err
	}
	if len(resp.Data.EventSubSubscriptions) == 0 {
		return "", domain.NewError(domain.ErrProtocol, op, errors.New("no subscription in response"))
	}
	return resp.Data.EventSubSubscriptions[0].ID, nil
}

func (a *HelixAPI) DeleteSubscription(ctx context.Context, id string) error {
	const op = "delete subscription"
	if strings.TrimSpace(id) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := a.getClient().RemoveEventSubSubscription(id)
	if err != nil {
		return domain.NewError(domain.ErrNetwork, op, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return statusError(op, resp.StatusCode, resp.Error, resp.ErrorMessage, http.StatusNoContent, http.StatusOK)
}

// statusError maps a Helix status to the error taxonomy: 401 is a rejected
// token, anything else unexpected is a connection failure.
func statusError(op string, status int, errText, message string, ok ...int) error {
	for _, code := range ok {
		if status == code {
			return nil
		}
	}
	cause := errors.Errorf("status %d: %s %s", status, errText, message)
	if status == http.StatusUnauthorized {
		return domain.NewError(domain.ErrAuth, op, cause)
	}
	return domain.NewError(domain.ErrConnection, op, cause)
}
