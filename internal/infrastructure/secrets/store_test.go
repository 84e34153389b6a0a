package secrets

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songBot/internal/domain"
)

type memoryBackend struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{values: make(map[string]string)}
}

func (m *memoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func (m *memoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func TestStoreTwitchSecrets(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemoryBackend())

	_, ok, err := store.LoadTwitchToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveTwitchToken(ctx, "tok"))
	require.NoError(t, store.SaveTwitchUsername(ctx, "songbot"))
	require.NoError(t, store.SaveTwitchBotUserID(ctx, "42"))
	require.NoError(t, store.SaveTwitchChannelID(ctx, " #SomeStreamer "))

	creds, err := store.LoadTwitchCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TwitchCredentials{
		OAuthToken:  "tok",
		BotUsername: "songbot",
		BotUserID:   "42",
		ChannelID:   "somestreamer",
	}, creds)
	assert.True(t, creds.CanConnect("client"))
	assert.False(t, creds.CanConnect(""))
}

func TestStoreSaveEmptyDeletes(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemoryBackend())

	require.NoError(t, store.SaveToken(ctx, "abc"))
	require.NoError(t, store.SaveToken(ctx, "   "))

	_, ok, err := store.LoadToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemoryBackend())

	require.NoError(t, store.DeleteTwitchUsername(ctx))
	require.NoError(t, store.DeleteTwitchBotUserID(ctx))
	require.NoError(t, store.DeleteTwitchChannelID(ctx))
	require.NoError(t, store.DeleteTwitchToken(ctx))
}

func TestStoreClearTwitchKeepsChannel(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemoryBackend())

	require.NoError(t, store.SaveTwitchToken(ctx, "tok"))
	require.NoError(t, store.SaveTwitchRefreshToken(ctx, "refresh"))
	require.NoError(t, store.SaveTwitchChannelID(ctx, "foo"))

	require.NoError(t, store.ClearTwitch(ctx))

	creds, err := store.LoadTwitchCredentials(ctx)
	require.NoError(t, err)
	assert.False(t, creds.HasToken())
	assert.Equal(t, "foo", creds.ChannelID)

	_, ok, err := store.LoadTwitchRefreshToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreWrapsBackendErrors(t *testing.T) {
	backend := newMemoryBackend()
	backend.err = errors.New("locked")
	store := NewStore(backend)

	_, _, err := store.LoadTwitchToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twitch-token")
}

type recordedCall struct {
	name string
	args []string
}

func TestKeychainCommands(t *testing.T) {
	var calls []recordedCall
	stored := map[string]string{}
	k := &Keychain{service: "songbot.test", run: func(_ context.Context, name string, args ...string) ([]byte, int, error) {
		calls = append(calls, recordedCall{name: name, args: args})
		account := args[indexOf(args, "-a")+1]
		switch args[0] {
		case "add-generic-password":
			stored[account] = args[indexOf(args, "-w")+1]
			return nil, 0, nil
		case "find-generic-password":
			v, ok := stored[account]
			if !ok {
				return nil, exitItemNotFound, errors.New("security: item not found")
			}
			return []byte(v + "\n"), 0, nil
		case "delete-generic-password":
			if _, ok := stored[account]; !ok {
				return nil, exitItemNotFound, errors.New("security: item not found")
			}
			delete(stored, account)
			return nil, 0, nil
		}
		return nil, 1, errors.New("unexpected")
	}}

	ctx := context.Background()
	_, ok, err := k.Get(ctx, "twitch-token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, k.Set(ctx, "twitch-token", "secret"))
	v, ok, err := k.Get(ctx, "twitch-token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret", v)

	require.NoError(t, k.Delete(ctx, "twitch-token"))
	require.NoError(t, k.Delete(ctx, "twitch-token"))

	require.NotEmpty(t, calls)
	assert.Equal(t, "security", calls[0].name)
	assert.Contains(t, calls[1].args, "-U")
	assert.Contains(t, calls[1].args, "songbot.test")
}

func TestKeychainPropagatesFailures(t *testing.T) {
	k := &Keychain{service: "s", run: func(context.Context, string, ...string) ([]byte, int, error) {
		return nil, 51, errors.New("security: user interaction is not allowed")
	}}

	_, _, err := k.Get(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, k.Set(context.Background(), "x", "y"))
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}
