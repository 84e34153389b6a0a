package credentials

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
)

const defaultRefreshInterval = 30 * time.Minute

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type TokenStore interface {
	LoadTwitchRefreshToken(ctx context.Context) (string, bool, error)
	SaveTwitchToken(ctx context.Context, token string) error
	SaveTwitchRefreshToken(ctx context.Context, token string) error
}

type ReauthSetter interface {
	SetReauthNeeded(ctx context.Context, needed bool) error
}

// TokenHook runs after a new access token has been stored.
type TokenHook func(ctx context.Context, accessToken string)

type Refresher struct {
	oauth    TokenRefresher
	store    TokenStore
	settings ReauthSetter
	clock    clockwork.Clock
	log      *logrus.Entry

	hooksMu sync.RWMutex
	hooks   []TokenHook

	onReauth func()
}

func NewRefresher(oauth TokenRefresher, store TokenStore, settings ReauthSetter, clock clockwork.Clock) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Refresher{
		oauth:    oauth,
		store:    store,
		settings: settings,
		clock:    clock,
		log:      logging.GetLogger(logging.AuthModule),
	}
}

func (r *Refresher) RegisterHook(h TokenHook) {
	if h == nil {
		return
	}
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, h)
}

// OnReauthRequired runs when Twitch refuses the refresh token.
func (r *Refresher) OnReauthRequired(fn func()) {
	r.onReauth = fn
}

func (r *Refresher) notifyHooks(ctx context.Context, token string) {
	r.hooksMu.RLock()
	hooks := append([]TokenHook(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, token)
	}
}

// Run refreshes every interval until ctx ends.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := r.RefreshNow(ctx); err != nil {
				r.log.WithError(err).Warn("token refresh failed")
			}
		}
	}
}

// RefreshNow rotates the stored token. Without a refresh token it does
// nothing.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	refresh, ok, err := r.store.LoadTwitchRefreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refresher: load refresh token")
	}
	refresh = strings.TrimSpace(refresh)
	if !ok || refresh == "" {
		return nil
	}

	token, err := r.oauth.Refresh(ctx, refresh)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			r.log.Warn("twitch refused the refresh token, authorization needed")
			if r.settings != nil {
				if serr := r.settings.SetReauthNeeded(ctx, true); serr != nil {
					r.log.WithError(serr).Warn("could not persist reauth flag")
				}
			}
			if r.onReauth != nil {
				r.onReauth()
			}
		}
		return errors.Wrap(err, "refresher: twitch")
	}

	if err := r.store.SaveTwitchToken(ctx, token.AccessToken); err != nil {
		return errors.Wrap(err, "refresher: save token")
	}
	if token.RefreshToken != "" {
		if err := r.store.SaveTwitchRefreshToken(ctx, token.RefreshToken); err != nil {
			return errors.Wrap(err, "refresher: save refresh token")
		}
	}

	r.log.WithField("expiry", token.Expiry).Info("twitch token refreshed")
	r.notifyHooks(ctx, token.AccessToken)
	return nil
}
