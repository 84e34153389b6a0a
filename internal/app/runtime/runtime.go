// Package runtime wires the bot together.
package runtime

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"songBot/internal/app/events"
	"songBot/internal/domain"
	"songBot/internal/infrastructure/config"
	"songBot/internal/infrastructure/logging"
	"songBot/internal/infrastructure/music"
	"songBot/internal/infrastructure/notify"
	sqlitestorage "songBot/internal/infrastructure/persistence/sqlite"
	twitchinfra "songBot/internal/infrastructure/platform/twitch"
	"songBot/internal/infrastructure/secrets"
	twitchadapter "songBot/internal/interface/adapters/twitch"
	ws "songBot/internal/interface/api/ws"
	"songBot/internal/usecase/bootstrap"
	"songBot/internal/usecase/commands"
	credentialsusecase "songBot/internal/usecase/credentials"
	"songBot/internal/usecase/deviceauth"
	"songBot/internal/usecase/handle_message"
	"songBot/internal/usecase/nowplaying"
	"songBot/internal/usecase/notifications"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	// Config is loaded from the environment when nil.
	Config *config.Config
	Clock  clockwork.Clock

	// AuthEndpoint overrides the Twitch OAuth endpoints.
	AuthEndpoint oauth2.Endpoint
}

type Runtime struct {
	cfg   *config.Config
	clock clockwork.Clock
	log   *logrus.Entry

	store    *sqlitestorage.Store
	secrets  *secrets.Store
	bus      *events.Bus
	notifier *notifications.Service

	dispatcher *commands.Dispatcher
	tracker    *nowplaying.Tracker
	interactor *handle_message.Interactor
	twitchAd   *twitchadapter.Adapter
	deviceAuth *twitchinfra.DeviceAuthClient
	refresher  *credentialsusecase.Refresher
	sequencer  *bootstrap.Sequencer

	// bootstrapping mutes the reauth notification of the state hook; the
	// sequencer sends its own.
	bootstrapping atomic.Bool
}

// New builds every component without starting any of them.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "load config")
		}
		cfg = loaded
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store, err := sqlitestorage.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite")
	}

	backend, err := secretBackend(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	r := &Runtime{
		cfg:     cfg,
		clock:   clock,
		log:     logging.GetLogger(logging.AppModule),
		store:   store,
		secrets: secrets.NewStore(backend),
		bus:     events.NewBus(),
	}

	r.notifier = notifications.NewService(store, notify.NewDesktop(cfg.DesktopNotifications), func(n *domain.Notification) {
		r.bus.Publish(events.TopicNotification, events.NewNotificationDTO(n))
	})

	r.tracker = nowplaying.NewTracker(func(current, previous domain.Track, status string) {
		r.bus.Publish(events.TopicNowPlaying, events.NewNowPlayingDTO(current, previous, status))
	})
	r.dispatcher = commands.NewDispatcher()
	commands.RegisterBuiltins(r.dispatcher, r.tracker.CurrentSong, r.tracker.LastSong)

	commandsEnabled, err := store.GetCommandsEnabled(ctx)
	if err != nil {
		r.log.WithError(err).Warn("could not read commands setting, enabling commands")
		commandsEnabled = true
	}

	r.twitchAd = twitchadapter.NewAdapter(twitchadapter.Config{
		ClientID: cfg.TwitchClientID,
		NewAPI: func(clientID, token string) (twitchadapter.API, error) {
			return twitchinfra.NewHelixAPI(twitchinfra.HelixConfig{ClientID: clientID, Token: token})
		},
		NewStream: func() twitchadapter.Stream {
			return twitchinfra.NewEventSubStream(cfg.TwitchEventSubURL)
		},
		Settings:        store,
		CommandsEnabled: commandsEnabled,
	})

	r.interactor = handle_message.NewInteractor(r.twitchAd, r.dispatcher)
	r.interactor.SetThreaded(r.replyThreaded(ctx))
	r.twitchAd.SetHandler(r.interactor.Handle)
	r.twitchAd.SetSink(func(_ context.Context, msg domain.Message) error {
		r.bus.Publish(events.TopicChatMessage, events.NewChatMessageDTO(msg))
		return nil
	})
	r.twitchAd.OnStateChange(r.handleStateChange)

	r.deviceAuth = twitchinfra.NewDeviceAuthClient(twitchinfra.DeviceAuthConfig{
		ClientID: cfg.TwitchClientID,
		Scopes:   cfg.TwitchScopes,
		Endpoint: opts.AuthEndpoint,
		Clock:    clock,
	})

	r.refresher = credentialsusecase.NewRefresher(r.deviceAuth, r.secrets, store, clock)
	r.refresher.RegisterHook(func(_ context.Context, token string) {
		r.twitchAd.UpdateToken(token)
	})
	r.refresher.OnReauthRequired(func() {
		r.twitchAd.MarkReauth(context.Background())
	})

	r.sequencer = bootstrap.NewSequencer(bootstrap.Config{
		ClientID:    cfg.TwitchClientID,
		GracePeriod: cfg.AutoJoinDelay,
		Clock:       clock,
	}, r.secrets, store, r.twitchAd, r.notifier)

	return r, nil
}

func secretBackend(cfg *config.Config, store *sqlitestorage.Store) (domain.SecretRepository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SecretBackend)) {
	case "", "sqlite":
		return store.Secrets(cfg.KeychainService), nil
	case "keychain":
		kc, err := secrets.NewKeychain(cfg.KeychainService)
		if err != nil {
			return nil, errors.Wrap(err, "keychain backend")
		}
		return kc, nil
	default:
		return nil, domain.NewError(domain.ErrConfiguration, "secret backend",
			errors.Errorf("unknown backend %q", cfg.SecretBackend))
	}
}

func (r *Runtime) replyThreaded(ctx context.Context) bool {
	if !r.cfg.ReplyThreaded {
		return false
	}
	stored, err := r.store.GetReplyThreaded(ctx)
	if err != nil {
		r.log.WithError(err).Warn("could not read reply setting")
		return true
	}
	return stored
}

func (r *Runtime) handleStateChange(old, current domain.ConnectionState) {
	r.bus.Publish(events.TopicConnectionState, events.NewConnectionStateDTO(old, current, r.twitchAd.Channel()))
	if current == domain.StateReauthRequired && old != domain.StateReauthRequired && !r.bootstrapping.Load() {
		r.notifier.Send(context.Background(), domain.NotificationAuth,
			"Twitch authorization needed", "Twitch rejected the bot token. Run `songbot auth` to sign in again.")
	}
}

// Run bootstraps the chat connection and serves until ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	if _, err := r.EnsureControlToken(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	r.bootstrapping.Store(true)
	g.Go(func() error {
		outcome, err := r.sequencer.Run(gctx)
		r.bootstrapping.Store(false)
		entry := r.log.WithField("outcome", outcome)
		if err != nil && !errors.Is(err, context.Canceled) {
			entry.WithError(err).Warn("bootstrap finished with error")
			return nil
		}
		entry.Info("bootstrap finished")
		return nil
	})

	g.Go(func() error {
		return r.refresher.Run(gctx, r.cfg.RefreshInterval)
	})

	if strings.TrimSpace(r.cfg.MPDAddr) != "" {
		source := music.NewMPDSource(music.TCPDialer(r.cfg.MPDAddr, r.cfg.MPDPassword), r.cfg.MPDPollInterval, r.clock, r.tracker)
		g.Go(func() error {
			return source.Run(gctx)
		})
	}

	if r.cfg.HTTPEnabled {
		server := ws.NewServer(ws.Config{
			Addr:          r.cfg.HTTPAddr,
			ClientID:      r.cfg.TwitchClientID,
			Chat:          r.twitchAd,
			Credentials:   r.secrets,
			Settings:      r.store,
			Notifications: r.notifier,
			Bus:           r.bus,
			Commands: func() []commands.CommandDescriptor {
				return commands.Describe(r.dispatcher.Commands())
			},
			Preview:    r.dispatcher.ProcessMessage,
			NowPlaying: r.tracker.CurrentSong,
		})
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				return errors.Wrap(err, "control surface")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		leaveCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return r.twitchAd.LeaveChannel(leaveCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// EnsureControlToken returns the local API token, creating one on first use.
func (r *Runtime) EnsureControlToken(ctx context.Context) (string, error) {
	token, ok, err := r.secrets.LoadToken(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}
	token = uuid.NewString()
	if err := r.secrets.SaveToken(ctx, token); err != nil {
		return "", err
	}
	r.log.Info("generated control API token, see `songbot status`")
	return token, nil
}

// NewAuthorizer builds the device-auth orchestrator. It fails when no client
// ID is configured.
func (r *Runtime) NewAuthorizer() (*deviceauth.Authorizer, error) {
	validator, err := twitchinfra.NewHelixAPI(twitchinfra.HelixConfig{ClientID: r.cfg.TwitchClientID})
	if err != nil {
		return nil, err
	}
	return deviceauth.NewAuthorizer(r.deviceAuth, validator, r.secrets, r.store, r.twitchAd), nil
}

// ValidateStoredToken checks the stored Twitch token without touching the
// chat connection state.
func (r *Runtime) ValidateStoredToken(ctx context.Context) (domain.TokenInfo, bool, error) {
	token, ok, err := r.secrets.LoadTwitchToken(ctx)
	if err != nil || !ok {
		return domain.TokenInfo{}, false, err
	}
	api, err := twitchinfra.NewHelixAPI(twitchinfra.HelixConfig{ClientID: r.cfg.TwitchClientID})
	if err != nil {
		return domain.TokenInfo{}, false, err
	}
	return api.ValidateToken(ctx, token)
}

func (r *Runtime) Config() *config.Config           { return r.cfg }
func (r *Runtime) Secrets() *secrets.Store          { return r.secrets }
func (r *Runtime) Settings() *sqlitestorage.Store   { return r.store }
func (r *Runtime) Chat() *twitchadapter.Adapter     { return r.twitchAd }
func (r *Runtime) Dispatcher() *commands.Dispatcher { return r.dispatcher }

func (r *Runtime) Close() error {
	r.bus.Close()
	return r.store.Close()
}
