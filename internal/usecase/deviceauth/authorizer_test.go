package deviceauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"songBot/internal/domain"
	twitchinfra "songBot/internal/infrastructure/platform/twitch"
)

// scriptedFlow hands out one code per call. Poll results come from tokens;
// a nil entry blocks until the context ends, then tries to report once more.
type scriptedFlow struct {
	mu       sync.Mutex
	requests int
	polling  chan int
	tokens   []*oauth2.Token
	pollErr  error
}

func (f *scriptedFlow) RequestDeviceCode(context.Context) (domain.DeviceCodeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return domain.DeviceCodeState{DeviceCode: "dev", UserCode: "ABCD-EFGH", VerificationURI: "https://www.twitch.tv/activate"}, nil
}

func (f *scriptedFlow) PollDeviceCode(ctx context.Context, _ domain.DeviceCodeState, onStatus twitchinfra.StatusFunc) (*oauth2.Token, error) {
	f.mu.Lock()
	n := f.requests
	var tok *oauth2.Token
	if n-1 < len(f.tokens) {
		tok = f.tokens[n-1]
	}
	err := f.pollErr
	f.mu.Unlock()

	onStatus("pending")
	if f.polling != nil {
		f.polling <- n
	}
	if err != nil {
		return nil, err
	}
	if tok != nil {
		return tok, nil
	}
	<-ctx.Done()
	onStatus("late")
	return nil, ctx.Err()
}

type fakeValidator struct {
	valid bool
	err   error
}

func (v fakeValidator) ValidateToken(context.Context, string) (domain.TokenInfo, bool, error) {
	if v.err != nil {
		return domain.TokenInfo{}, false, v.err
	}
	return domain.TokenInfo{Login: "songbot", UserID: "42"}, v.valid, nil
}

type memStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemStore() *memStore { return &memStore{values: map[string]string{}} }

func (m *memStore) set(k, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[k] = v
	return nil
}

func (m *memStore) SaveTwitchToken(_ context.Context, v string) error        { return m.set("token", v) }
func (m *memStore) SaveTwitchRefreshToken(_ context.Context, v string) error { return m.set("refresh", v) }
func (m *memStore) SaveTwitchUsername(_ context.Context, v string) error     { return m.set("username", v) }
func (m *memStore) SaveTwitchBotUserID(_ context.Context, v string) error    { return m.set("bot_id", v) }

type flags struct {
	reauth  *bool
	cleared int
}

func (f *flags) SetReauthNeeded(_ context.Context, v bool) error {
	f.reauth = &v
	return nil
}

func (f *flags) ClearReauth(context.Context) { f.cleared++ }

type statusLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *statusLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *statusLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestAuthorizeStoresCredentials(t *testing.T) {
	flow := &scriptedFlow{tokens: []*oauth2.Token{{AccessToken: "access", RefreshToken: "refresh"}}}
	store := newMemStore()
	fl := &flags{}
	a := NewAuthorizer(flow, fakeValidator{valid: true}, store, fl, fl)

	var code domain.DeviceCodeState
	statuses := &statusLog{}
	creds, err := a.Authorize(context.Background(), func(s domain.DeviceCodeState) { code = s }, statuses.add)
	require.NoError(t, err)

	assert.Equal(t, "ABCD-EFGH", code.UserCode)
	assert.Equal(t, []string{"pending"}, statuses.list())
	assert.Equal(t, domain.TwitchCredentials{OAuthToken: "access", BotUsername: "songbot", BotUserID: "42"}, creds)
	assert.Equal(t, map[string]string{
		"token": "access", "refresh": "refresh", "username": "songbot", "bot_id": "42",
	}, store.values)
	require.NotNil(t, fl.reauth)
	assert.False(t, *fl.reauth)
	assert.Equal(t, 1, fl.cleared)
	assert.False(t, a.Active())
}

func TestAuthorizeTerminalError(t *testing.T) {
	flow := &scriptedFlow{pollErr: domain.NewError(domain.ErrAccessDenied, "poll token", nil)}
	store := newMemStore()
	a := NewAuthorizer(flow, fakeValidator{valid: true}, store, nil, nil)

	_, err := a.Authorize(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, store.values)
}

func TestAuthorizeRejectedToken(t *testing.T) {
	flow := &scriptedFlow{tokens: []*oauth2.Token{{AccessToken: "access"}}}
	store := newMemStore()
	a := NewAuthorizer(flow, fakeValidator{valid: false}, store, nil, nil)

	_, err := a.Authorize(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrAuth)
	assert.Empty(t, store.values)

	flow = &scriptedFlow{tokens: []*oauth2.Token{{AccessToken: "access"}}}
	a = NewAuthorizer(flow, fakeValidator{err: errors.New("offline")}, store, nil, nil)
	_, err = a.Authorize(context.Background(), nil, nil)
	assert.Error(t, err)
	assert.Empty(t, store.values)
}

func TestCancelStopsCallbacks(t *testing.T) {
	flow := &scriptedFlow{polling: make(chan int, 1)}
	store := newMemStore()
	a := NewAuthorizer(flow, fakeValidator{valid: true}, store, nil, nil)
	statuses := &statusLog{}

	done := make(chan error, 1)
	go func() {
		_, err := a.Authorize(context.Background(), nil, statuses.add)
		done <- err
	}()
	<-flow.polling
	assert.True(t, a.Active())

	a.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("authorize did not return after cancel")
	}

	assert.Equal(t, []string{"pending"}, statuses.list())
	assert.Empty(t, store.values)
	assert.False(t, a.Active())
}

func TestSecondAttemptCancelsFirst(t *testing.T) {
	flow := &scriptedFlow{
		polling: make(chan int, 2),
		tokens:  []*oauth2.Token{nil, {AccessToken: "second"}},
	}
	store := newMemStore()
	a := NewAuthorizer(flow, fakeValidator{valid: true}, store, nil, nil)

	first := &statusLog{}
	firstDone := make(chan error, 1)
	go func() {
		_, err := a.Authorize(context.Background(), nil, first.add)
		firstDone <- err
	}()
	require.Equal(t, 1, <-flow.polling)

	second := &statusLog{}
	creds, err := a.Authorize(context.Background(), nil, second.add)
	require.NoError(t, err)
	assert.Equal(t, "second", creds.OAuthToken)

	assert.ErrorIs(t, <-firstDone, context.Canceled)
	assert.Equal(t, []string{"pending"}, first.list())
	assert.Equal(t, []string{"pending"}, second.list())
	assert.Equal(t, "second", store.values["token"])
}
