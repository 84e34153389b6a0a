package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"songBot/internal/infrastructure/logging"
)

type Config struct {
	TwitchClientID    string   `env:"TWITCH_CLIENT_ID"`
	TwitchScopes      []string `env:"TWITCH_SCOPES" envDefault:"user:read:chat,user:write:chat,user:bot" envSeparator:","`
	TwitchEventSubURL string   `env:"TWITCH_EVENTSUB_URL" envDefault:"wss://eventsub.wss.twitch.tv/ws"`

	DatabasePath    string `env:"SONGBOT_DB_PATH" envDefault:"data/songbot.db"`
	SecretBackend   string `env:"SONGBOT_SECRET_BACKEND" envDefault:"sqlite"`
	KeychainService string `env:"SONGBOT_KEYCHAIN_SERVICE" envDefault:"songbot.twitch"`

	HTTPAddr    string `env:"SONGBOT_HTTP_ADDR" envDefault:"127.0.0.1:8080"`
	HTTPEnabled bool   `env:"SONGBOT_HTTP_ENABLED" envDefault:"true"`

	AutoJoinDelay   time.Duration `env:"SONGBOT_AUTOJOIN_DELAY" envDefault:"2s"`
	ReplyThreaded   bool          `env:"SONGBOT_REPLY_THREADED" envDefault:"true"`
	RefreshInterval time.Duration `env:"SONGBOT_REFRESH_INTERVAL" envDefault:"30m"`

	DesktopNotifications bool `env:"SONGBOT_DESKTOP_NOTIFICATIONS" envDefault:"true"`

	MPDAddr         string        `env:"MPD_ADDR" envDefault:"localhost:6600"`
	MPDPassword     string        `env:"MPD_PASSWORD"`
	MPDPollInterval time.Duration `env:"MPD_POLL_INTERVAL" envDefault:"2s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// HasClientID reports whether the Twitch application is configured.
func (c *Config) HasClientID() bool {
	return c != nil && strings.TrimSpace(c.TwitchClientID) != ""
}

// Load reads .env when present, then the environment. An empty client ID is
// not an error here; the components that need it report it.
func Load() (*Config, error) {
	log := logging.GetLogger(logging.AppModule)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "load .env")
		}
		log.Debug("loaded .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	cfg.TwitchClientID = strings.TrimSpace(cfg.TwitchClientID)

	if !cfg.HasClientID() {
		log.Warn("TWITCH_CLIENT_ID is not set, Twitch features are disabled")
	}

	return cfg, nil
}
