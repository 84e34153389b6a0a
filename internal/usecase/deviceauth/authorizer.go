// Package deviceauth runs one Twitch device authorization at a time and
// stores what it yields.
package deviceauth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
	twitchinfra "songBot/internal/infrastructure/platform/twitch"
)

type Flow interface {
	RequestDeviceCode(ctx context.Context) (domain.DeviceCodeState, error)
	PollDeviceCode(ctx context.Context, state domain.DeviceCodeState, onStatus twitchinfra.StatusFunc) (*oauth2.Token, error)
}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (domain.TokenInfo, bool, error)
}

type CredentialStore interface {
	SaveTwitchToken(ctx context.Context, token string) error
	SaveTwitchRefreshToken(ctx context.Context, token string) error
	SaveTwitchUsername(ctx context.Context, username string) error
	SaveTwitchBotUserID(ctx context.Context, id string) error
}

type ReauthSetter interface {
	SetReauthNeeded(ctx context.Context, needed bool) error
}

// ReauthClearer is told that a fresh token is stored.
type ReauthClearer interface {
	ClearReauth(ctx context.Context)
}

type CodeFunc func(state domain.DeviceCodeState)

type StatusFunc func(status string)

type attempt struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Authorizer struct {
	flow      Flow
	validator TokenValidator
	store     CredentialStore
	settings  ReauthSetter
	clearer   ReauthClearer
	log       *logrus.Entry

	// mu serializes attempt swaps and callbacks.
	mu      sync.Mutex
	current atomic.Pointer[attempt]
}

// NewAuthorizer wires the flow to its collaborators. settings and clearer may
// be nil.
func NewAuthorizer(flow Flow, validator TokenValidator, store CredentialStore, settings ReauthSetter, clearer ReauthClearer) *Authorizer {
	return &Authorizer{
		flow:      flow,
		validator: validator,
		store:     store,
		settings:  settings,
		clearer:   clearer,
		log:       logging.GetLogger(logging.AuthModule),
	}
}

// Active reports whether an attempt is running.
func (a *Authorizer) Active() bool {
	return a.current.Load() != nil
}

// Cancel stops the running attempt, if any. Its callbacks stop immediately.
func (a *Authorizer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if att := a.current.Load(); att != nil {
		att.cancel()
	}
}

// Authorize supersedes any running attempt, then runs the device flow to
// completion. onCode receives the code to show the user; onStatus receives
// progress text. Both may be nil and must not call Cancel.
func (a *Authorizer) Authorize(ctx context.Context, onCode CodeFunc, onStatus StatusFunc) (domain.TwitchCredentials, error) {
	ctx, cancel := context.WithCancel(ctx)
	att := &attempt{id: uuid.NewString(), ctx: ctx, cancel: cancel, done: make(chan struct{})}
	defer cancel()
	defer close(att.done)

	a.mu.Lock()
	prev := a.current.Swap(att)
	a.mu.Unlock()
	if prev != nil {
		a.log.WithField("attempt", prev.id).Info("superseding previous authorization")
		prev.cancel()
		<-prev.done
	}
	defer a.current.CompareAndSwap(att, nil)

	log := a.log.WithField("attempt", att.id)

	state, err := a.flow.RequestDeviceCode(ctx)
	if err != nil {
		return domain.TwitchCredentials{}, err
	}
	log.WithField("verification_uri", state.VerificationURI).Info("device code issued")
	a.report(att, func() {
		if onCode != nil {
			onCode(state)
		}
	})

	token, err := a.flow.PollDeviceCode(ctx, state, func(status string) {
		a.report(att, func() {
			if onStatus != nil {
				onStatus(status)
			}
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Info("authorization cancelled")
			return domain.TwitchCredentials{}, ctx.Err()
		}
		log.WithError(err).Warn("authorization failed")
		return domain.TwitchCredentials{}, err
	}

	return a.storeToken(ctx, token)
}

func (a *Authorizer) report(att *attempt, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current.Load() != att || att.ctx.Err() != nil {
		return
	}
	fn()
}

func (a *Authorizer) storeToken(ctx context.Context, token *oauth2.Token) (domain.TwitchCredentials, error) {
	access := strings.TrimSpace(token.AccessToken)
	if access == "" {
		return domain.TwitchCredentials{}, domain.NewError(domain.ErrProtocol, "authorize", errors.New("empty access token"))
	}

	info, valid, err := a.validator.ValidateToken(ctx, access)
	if err != nil {
		return domain.TwitchCredentials{}, errors.Wrap(err, "validate new token")
	}
	if !valid {
		return domain.TwitchCredentials{}, domain.NewError(domain.ErrAuth, "authorize", errors.New("new token rejected"))
	}
	if err := ctx.Err(); err != nil {
		return domain.TwitchCredentials{}, err
	}

	if err := a.store.SaveTwitchToken(ctx, access); err != nil {
		return domain.TwitchCredentials{}, errors.Wrap(err, "save token")
	}
	if err := a.store.SaveTwitchRefreshToken(ctx, token.RefreshToken); err != nil {
		return domain.TwitchCredentials{}, errors.Wrap(err, "save refresh token")
	}
	if err := a.store.SaveTwitchUsername(ctx, info.Login); err != nil {
		return domain.TwitchCredentials{}, errors.Wrap(err, "save username")
	}
	if err := a.store.SaveTwitchBotUserID(ctx, info.UserID); err != nil {
		return domain.TwitchCredentials{}, errors.Wrap(err, "save bot user id")
	}

	if a.settings != nil {
		if err := a.settings.SetReauthNeeded(ctx, false); err != nil {
			a.log.WithError(err).Warn("could not clear reauth flag")
		}
	}
	if a.clearer != nil {
		a.clearer.ClearReauth(ctx)
	}

	a.log.WithFields(logrus.Fields{"login": info.Login, "user_id": info.UserID}).Info("twitch authorized")
	return domain.TwitchCredentials{
		OAuthToken:  access,
		BotUsername: info.Login,
		BotUserID:   info.UserID,
	}, nil
}
