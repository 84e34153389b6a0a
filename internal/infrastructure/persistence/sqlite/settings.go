package sqlite

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"songBot/internal/domain"
)

const (
	reauthNeededKey    = "reauth_needed"
	commandsEnabledKey = "commands_enabled"
	replyThreadedKey   = "reply_threaded"
)

func (s *Store) SetReauthNeeded(ctx context.Context, needed bool) error {
	return s.setBool(ctx, reauthNeededKey, needed)
}

func (s *Store) GetReauthNeeded(ctx context.Context) (bool, error) {
	return s.getBool(ctx, reauthNeededKey, false)
}

func (s *Store) SetCommandsEnabled(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, commandsEnabledKey, enabled)
}

// GetCommandsEnabled is true until someone turns commands off.
func (s *Store) GetCommandsEnabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, commandsEnabledKey, true)
}

func (s *Store) SetReplyThreaded(ctx context.Context, enabled bool) error {
	return s.setBool(ctx, replyThreadedKey, enabled)
}

func (s *Store) GetReplyThreaded(ctx context.Context) (bool, error) {
	return s.getBool(ctx, replyThreadedKey, true)
}

func (s *Store) setBool(ctx context.Context, key string, value bool) error {
	return s.setSetting(ctx, key, strconv.FormatBool(value))
}

func (s *Store) getBool(ctx context.Context, key string, fallback bool) (bool, error) {
	val, ok, err := s.getSetting(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return fallback, nil
	}
	return parsed, nil
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("sqlite: empty setting key")
	}

	const stmt = `
INSERT INTO settings (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at;
`

	if _, err := s.db.ExecContext(ctx, stmt, key, value, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "sqlite: set setting")
	}

	return nil
}

func (s *Store) getSetting(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, errors.New("sqlite: empty setting key")
	}

	const query = `SELECT value FROM settings WHERE key = ? LIMIT 1;`
	row := s.db.QueryRowContext(ctx, query, key)

	var value sql.NullString
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "sqlite: get setting")
	}

	return value.String, true, nil
}

var _ domain.SettingsRepository = (*Store)(nil)
