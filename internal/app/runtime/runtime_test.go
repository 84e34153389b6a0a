package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"songBot/internal/app/events"
	"songBot/internal/domain"
	"songBot/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatabasePath:    filepath.Join(t.TempDir(), "songbot.db"),
		SecretBackend:   "sqlite",
		KeychainService: "songbot.test",
		ReplyThreaded:   true,
		AutoJoinDelay:   time.Second,
		RefreshInterval: time.Hour,
	}
}

func TestNewWiresBuiltins(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, Options{Config: testConfig(t), Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer rt.Close()

	var names []string
	for _, cmd := range rt.Dispatcher().Commands() {
		names = append(names, cmd.Name())
	}
	assert.Equal(t, []string{"song", "lastsong", "ping"}, names)
	assert.Equal(t, domain.StateDisconnected, rt.Chat().State())
	assert.True(t, rt.Chat().CommandsEnabled())

	reply, ok := rt.Dispatcher().ProcessMessage("!song")
	require.True(t, ok)
	assert.Equal(t, "No song information available right now.", reply)
}

func TestNowPlayingFlowsToCommandsAndBus(t *testing.T) {
	rt, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()

	ch, unsubscribe := rt.bus.Subscribe(events.TopicNowPlaying)
	defer unsubscribe()

	rt.tracker.TrackChanged(domain.Track{Title: "Song", Artist: "Artist"})

	reply, ok := rt.Dispatcher().ProcessMessage("!song")
	require.True(t, ok)
	assert.Equal(t, "Now playing: Song - Artist", reply)

	dto := (<-ch).(events.NowPlayingDTO)
	assert.Equal(t, "Song - Artist", dto.Display)
}

func TestEnsureControlTokenIsStable(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx, Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()

	first, err := rt.EnsureControlToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := rt.EnsureControlToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnknownSecretBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.SecretBackend = "vault"

	_, err := New(context.Background(), Options{Config: cfg})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestAuthorizerNeedsClientID(t *testing.T) {
	rt, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.NewAuthorizer()
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRunWithoutTokenStopsOnCancel(t *testing.T) {
	rt, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	reauth, err := rt.Settings().GetReauthNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, reauth)
}

func TestRefusedRefreshMovesChatToReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Invalid refresh token"}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.TwitchClientID = "cid"
	rt, err := New(context.Background(), Options{
		Config:       cfg,
		AuthEndpoint: oauth2.Endpoint{TokenURL: srv.URL, DeviceAuthURL: srv.URL},
	})
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	require.NoError(t, rt.Secrets().SaveTwitchRefreshToken(ctx, "stale"))

	err = rt.refresher.RefreshNow(ctx)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Equal(t, domain.StateReauthRequired, rt.Chat().State())

	reauth, err := rt.Settings().GetReauthNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, reauth)

	list, err := rt.notifier.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Twitch authorization needed", list[0].Title)
}

func TestReauthNotificationMutedDuringBootstrap(t *testing.T) {
	rt, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer rt.Close()
	ctx := context.Background()

	rt.bootstrapping.Store(true)
	rt.Chat().MarkReauth(ctx)
	assert.Equal(t, domain.StateReauthRequired, rt.Chat().State())

	list, err := rt.notifier.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	rt.bootstrapping.Store(false)
	rt.Chat().ClearReauth(ctx)
	rt.Chat().MarkReauth(ctx)

	list, err = rt.notifier.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
