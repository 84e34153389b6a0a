package credentials

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"songBot/internal/domain"
)

type fakeOAuth struct {
	mu    sync.Mutex
	calls []string
	token *oauth2.Token
	err   error
}

func (f *fakeOAuth) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refreshToken)
	return f.token, f.err
}

func (f *fakeOAuth) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memTokens struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func (m *memTokens) LoadTwitchRefreshToken(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh, m.refresh != "", nil
}

func (m *memTokens) SaveTwitchToken(_ context.Context, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = v
	return nil
}

func (m *memTokens) SaveTwitchRefreshToken(_ context.Context, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = v
	return nil
}

type reauthFlag struct{ needed bool }

func (r *reauthFlag) SetReauthNeeded(_ context.Context, v bool) error {
	r.needed = v
	return nil
}

func TestRefreshNowRotatesTokens(t *testing.T) {
	oauth := &fakeOAuth{token: &oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh"}}
	store := &memTokens{access: "old", refresh: "old-refresh"}
	r := NewRefresher(oauth, store, &reauthFlag{}, nil)

	var hooked []string
	r.RegisterHook(func(_ context.Context, token string) { hooked = append(hooked, token) })

	require.NoError(t, r.RefreshNow(context.Background()))
	assert.Equal(t, []string{"old-refresh"}, oauth.calls)
	assert.Equal(t, "new-access", store.access)
	assert.Equal(t, "new-refresh", store.refresh)
	assert.Equal(t, []string{"new-access"}, hooked)
}

func TestRefreshNowWithoutRefreshToken(t *testing.T) {
	oauth := &fakeOAuth{}
	r := NewRefresher(oauth, &memTokens{}, nil, nil)

	require.NoError(t, r.RefreshNow(context.Background()))
	assert.Zero(t, oauth.count())
}

func TestRejectedRefreshNeedsReauth(t *testing.T) {
	oauth := &fakeOAuth{err: domain.NewError(domain.ErrAuth, "refresh token", nil)}
	flag := &reauthFlag{}
	r := NewRefresher(oauth, &memTokens{refresh: "stale"}, flag, nil)
	called := false
	r.OnReauthRequired(func() { called = true })

	err := r.RefreshNow(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.True(t, flag.needed)
	assert.True(t, called)
}

func TestNetworkFailureKeepsAuth(t *testing.T) {
	oauth := &fakeOAuth{err: domain.NewError(domain.ErrNetwork, "refresh token", nil)}
	flag := &reauthFlag{}
	r := NewRefresher(oauth, &memTokens{refresh: "ok"}, flag, nil)

	assert.ErrorIs(t, r.RefreshNow(context.Background()), domain.ErrNetwork)
	assert.False(t, flag.needed)
}

func TestRunRefreshesOnTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	oauth := &fakeOAuth{token: &oauth2.Token{AccessToken: "a"}}
	r := NewRefresher(oauth, &memTokens{refresh: "r"}, nil, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Minute) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	assert.Zero(t, oauth.count())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return oauth.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
