// Package bootstrap decides at startup whether the bot can rejoin chat on its
// own.
package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
)

type Outcome int

const (
	OutcomeNoToken Outcome = iota
	OutcomeMisconfigured
	OutcomeReauthRequired
	OutcomeReady
	OutcomeJoinFailed
	OutcomeJoined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoToken:
		return "no_token"
	case OutcomeMisconfigured:
		return "misconfigured"
	case OutcomeReauthRequired:
		return "reauth_required"
	case OutcomeReady:
		return "ready"
	case OutcomeJoinFailed:
		return "join_failed"
	case OutcomeJoined:
		return "joined"
	default:
		return "unknown"
	}
}

type CredentialSource interface {
	LoadTwitchToken(ctx context.Context) (string, bool, error)
	LoadTwitchChannelID(ctx context.Context) (string, bool, error)
}

type ReauthSetter interface {
	SetReauthNeeded(ctx context.Context, needed bool) error
}

type ChatService interface {
	ValidateToken(ctx context.Context, token string) bool
	ConnectToChannel(ctx context.Context, channelName, token, clientID string) error
}

type Config struct {
	ClientID    string
	GracePeriod time.Duration
	Clock       clockwork.Clock

	// OnReauthRequired runs when the stored token is no longer valid.
	OnReauthRequired func()
}

type Sequencer struct {
	cfg      Config
	secrets  CredentialSource
	settings ReauthSetter
	chat     ChatService
	notifier domain.Notifier
	log      *logrus.Entry
}

func NewSequencer(cfg Config, secrets CredentialSource, settings ReauthSetter, chat ChatService, notifier domain.Notifier) *Sequencer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	return &Sequencer{
		cfg:      cfg,
		secrets:  secrets,
		settings: settings,
		chat:     chat,
		notifier: notifier,
		log:      logging.GetLogger(logging.BootstrapModule),
	}
}

// Run executes the startup steps once. It never retries a failed join.
func (s *Sequencer) Run(ctx context.Context) (Outcome, error) {
	token, ok, err := s.secrets.LoadTwitchToken(ctx)
	if err != nil {
		return OutcomeNoToken, errors.Wrap(err, "load twitch token")
	}
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		s.log.Info("no twitch token stored, waiting for authorization")
		s.setReauth(ctx, false)
		return OutcomeNoToken, nil
	}

	if strings.TrimSpace(s.cfg.ClientID) == "" {
		s.notify(ctx, "Twitch not configured", "Set TWITCH_CLIENT_ID to connect the bot to Twitch.")
		return OutcomeMisconfigured, domain.NewError(domain.ErrConfiguration, "bootstrap", errors.New("twitch client id is not set"))
	}

	valid := s.chat.ValidateToken(ctx, token)
	s.setReauth(ctx, !valid)
	if !valid {
		s.log.Warn("stored twitch token is no longer valid")
		s.notify(ctx, "Twitch authorization expired", "Sign in to Twitch again to reconnect the bot.")
		if s.cfg.OnReauthRequired != nil {
			s.cfg.OnReauthRequired()
		}
		return OutcomeReauthRequired, nil
	}

	channel, ok, err := s.secrets.LoadTwitchChannelID(ctx)
	if err != nil {
		return OutcomeReady, errors.Wrap(err, "load twitch channel")
	}
	if !ok || strings.TrimSpace(channel) == "" {
		s.log.Info("token valid, no saved channel")
		return OutcomeReady, nil
	}

	s.log.WithFields(logrus.Fields{
		"channel": channel,
		"delay":   s.cfg.GracePeriod,
	}).Info("auto-joining saved channel")

	select {
	case <-ctx.Done():
		return OutcomeReady, ctx.Err()
	case <-s.cfg.Clock.After(s.cfg.GracePeriod):
	}

	if err := s.chat.ConnectToChannel(ctx, channel, token, s.cfg.ClientID); err != nil {
		s.log.WithError(err).WithField("channel", channel).Warn("auto-join failed")
		s.notify(ctx, "Could not join Twitch chat", "Joining "+channel+" failed: "+err.Error())
		return OutcomeJoinFailed, err
	}
	return OutcomeJoined, nil
}

func (s *Sequencer) setReauth(ctx context.Context, needed bool) {
	if s.settings == nil {
		return
	}
	if err := s.settings.SetReauthNeeded(ctx, needed); err != nil {
		s.log.WithError(err).Warn("could not persist reauth flag")
	}
}

func (s *Sequencer) notify(ctx context.Context, title, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, title, message)
}
