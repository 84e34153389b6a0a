// Package secrets exposes the bot's named secrets over a key/value backend.
package secrets

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"songBot/internal/domain"
)

const (
	keyToken              = "control-token"
	keyTwitchToken        = "twitch-token"
	keyTwitchRefreshToken = "twitch-refresh-token"
	keyTwitchChannelID    = "twitch-channel-id"
	keyTwitchUsername     = "twitch-username"
	keyTwitchBotUserID    = "twitch-bot-user-id"
)

// Store is safe for concurrent use as long as the backend is.
type Store struct {
	backend domain.SecretRepository
}

func NewStore(backend domain.SecretRepository) *Store {
	return &Store{backend: backend}
}

func (s *Store) save(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return s.delete(ctx, key)
	}
	if err := s.backend.Set(ctx, key, value); err != nil {
		return errors.Wrapf(err, "save %s", key)
	}
	return nil
}

func (s *Store) load(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", false, errors.Wrapf(err, "load %s", key)
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return value, true, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

// Token protects the local control API.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	return s.save(ctx, keyToken, token)
}

func (s *Store) LoadToken(ctx context.Context) (string, bool, error) {
	return s.load(ctx, keyToken)
}

func (s *Store) DeleteToken(ctx context.Context) error {
	return s.delete(ctx, keyToken)
}

func (s *Store) SaveTwitchToken(ctx context.Context, token string) error {
	return s.save(ctx, keyTwitchToken, token)
}

func (s *Store) LoadTwitchToken(ctx context.Context) (string, bool, error) {
	return s.load(ctx, keyTwitchToken)
}

func (s *Store) DeleteTwitchToken(ctx context.Context) error {
	return s.delete(ctx, keyTwitchToken)
}

func (s *Store) SaveTwitchRefreshToken(ctx context.Context, token string) error {
	return s.save(ctx, keyTwitchRefreshToken, token)
}

func (s *Store) LoadTwitchRefreshToken(ctx context.Context) (string, bool, error) {
	return s.load(ctx, keyTwitchRefreshToken)
}

func (s *Store) DeleteTwitchRefreshToken(ctx context.Context) error {
	return s.delete(ctx, keyTwitchRefreshToken)
}

// SaveTwitchChannelID stores the channel login the bot joins.
func (s *Store) SaveTwitchChannelID(ctx context.Context, channel string) error {
	return s.save(ctx, keyTwitchChannelID, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#")))
}

func (s *Store) LoadTwitchChannelID(ctx context.Context) (string, bool, error) {
	return s.load(ctx, keyTwitchChannelID)
}

func (s *Store) DeleteTwitchChannelID(ctx context.Context) error {
	return s.delete(ctx, keyTwitchChannelID)
}

func (s *Store) SaveTwitchUsername(ctx context.Context, username string) error {
	return s.save(ctx, keyTwitchUsername, username)
}

func (s *Store) LoadTwitchUsername(ctx context.Context) (string, bool, error) {
	return s.load(ctx, keyTwitchUsername)
}

func (s *Store) DeleteTwitchUsername(ctx context.Context) error {
	return s.delete(ctx, keyTwitchUsername)
}

func (s *Store) SaveTwitchBotUserID(ctx context.Context, id string) error {
	return s.save(ctx, keyTwitchBotUserID, id)
}

func (s *Store) LoadTwitchBotUserID(ctx context.Context) (string, bool, error) {
	return s.load(ctx, keyTwitchBotUserID)
}

func (s *Store) DeleteTwitchBotUserID(ctx context.Context) error {
	return s.delete(ctx, keyTwitchBotUserID)
}

// LoadTwitchCredentials reads every Twitch secret; missing ones stay empty.
func (s *Store) LoadTwitchCredentials(ctx context.Context) (domain.TwitchCredentials, error) {
	var creds domain.TwitchCredentials
	fields := []struct {
		key string
		dst *string
	}{
		{keyTwitchToken, &creds.OAuthToken},
		{keyTwitchUsername, &creds.BotUsername},
		{keyTwitchBotUserID, &creds.BotUserID},
		{keyTwitchChannelID, &creds.ChannelID},
	}
	for _, f := range fields {
		value, _, err := s.load(ctx, f.key)
		if err != nil {
			return domain.TwitchCredentials{}, err
		}
		*f.dst = value
	}
	return creds, nil
}

// ClearTwitch removes the bot identity. The saved channel is kept.
func (s *Store) ClearTwitch(ctx context.Context) error {
	for _, key := range []string{keyTwitchToken, keyTwitchRefreshToken, keyTwitchUsername, keyTwitchBotUserID} {
		if err := s.delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
