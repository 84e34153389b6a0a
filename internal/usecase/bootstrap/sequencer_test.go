package bootstrap

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songBot/internal/domain"
)

type fakeSecrets struct {
	token   string
	channel string
}

func (f fakeSecrets) LoadTwitchToken(context.Context) (string, bool, error) {
	return f.token, f.token != "", nil
}

func (f fakeSecrets) LoadTwitchChannelID(context.Context) (string, bool, error) {
	return f.channel, f.channel != "", nil
}

type fakeSettings struct {
	reauth *bool
}

func (f *fakeSettings) SetReauthNeeded(_ context.Context, v bool) error {
	f.reauth = &v
	return nil
}

type fakeChat struct {
	valid       bool
	connectErr  error
	validations atomic.Int32

	mu       sync.Mutex
	connects []string
	state    domain.ConnectionState
}

func (f *fakeChat) ValidateToken(context.Context, string) bool {
	f.validations.Add(1)
	return f.valid
}

func (f *fakeChat) ConnectToChannel(_ context.Context, channel, token, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, channel)
	if f.connectErr != nil {
		f.state = domain.StateDisconnected
		return f.connectErr
	}
	f.state = domain.StateConnected
	return nil
}

func (f *fakeChat) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	titles   []string
	messages []string
}

func (f *fakeNotifier) Notify(_ context.Context, title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func TestEmptyStoreSkipsValidation(t *testing.T) {
	settings := &fakeSettings{}
	chat := &fakeChat{valid: true}
	seq := NewSequencer(Config{ClientID: "cid"}, fakeSecrets{}, settings, chat, &fakeNotifier{})

	outcome, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoToken, outcome)
	assert.Zero(t, chat.validations.Load())
	require.NotNil(t, settings.reauth)
	assert.False(t, *settings.reauth)
}

func TestValidTokenAutoJoinsAfterGrace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	settings := &fakeSettings{}
	chat := &fakeChat{valid: true}
	notifier := &fakeNotifier{}
	seq := NewSequencer(Config{ClientID: "cid", GracePeriod: 2 * time.Second, Clock: clock},
		fakeSecrets{token: "tok", channel: "foo"}, settings, chat, notifier)

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := seq.Run(context.Background())
		done <- result{o, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, chat.calls(), "join must wait for the grace period")

	clock.Advance(2 * time.Second)
	res := <-done

	require.NoError(t, res.err)
	assert.Equal(t, OutcomeJoined, res.outcome)
	assert.Equal(t, []string{"foo"}, chat.calls())
	assert.Equal(t, domain.StateConnected, chat.state)
	require.NotNil(t, settings.reauth)
	assert.False(t, *settings.reauth)
	assert.Zero(t, notifier.count())
}

func TestInvalidTokenRequiresReauth(t *testing.T) {
	settings := &fakeSettings{}
	chat := &fakeChat{valid: false}
	notifier := &fakeNotifier{}
	hookCalls := 0
	seq := NewSequencer(Config{ClientID: "cid", OnReauthRequired: func() { hookCalls++ }},
		fakeSecrets{token: "tok", channel: "foo"}, settings, chat, notifier)

	outcome, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReauthRequired, outcome)
	require.NotNil(t, settings.reauth)
	assert.True(t, *settings.reauth)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, 1, hookCalls)
	assert.Empty(t, chat.calls())
}

func TestValidTokenWithoutChannel(t *testing.T) {
	chat := &fakeChat{valid: true}
	seq := NewSequencer(Config{ClientID: "cid"}, fakeSecrets{token: "tok"}, &fakeSettings{}, chat, nil)

	outcome, err := seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Empty(t, chat.calls())
}

func TestMissingClientID(t *testing.T) {
	chat := &fakeChat{valid: true}
	notifier := &fakeNotifier{}
	seq := NewSequencer(Config{}, fakeSecrets{token: "tok", channel: "foo"}, &fakeSettings{}, chat, notifier)

	outcome, err := seq.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, OutcomeMisconfigured, outcome)
	assert.Zero(t, chat.validations.Load())
	require.Equal(t, 1, notifier.count())
	assert.True(t, strings.HasPrefix(notifier.messages[0], "Set TWITCH_CLIENT_ID "), notifier.messages[0])
}

func TestJoinFailureNotifiesOnce(t *testing.T) {
	chat := &fakeChat{valid: true, connectErr: domain.NewError(domain.ErrConnection, "connect", errors.New("refused"))}
	notifier := &fakeNotifier{}
	seq := NewSequencer(Config{ClientID: "cid", GracePeriod: 0},
		fakeSecrets{token: "tok", channel: "foo"}, &fakeSettings{}, chat, notifier)

	outcome, err := seq.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, OutcomeJoinFailed, outcome)
	assert.Equal(t, []string{"foo"}, chat.calls())
	assert.Equal(t, 1, notifier.count())
}

func TestGraceWaitIsCancellable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	chat := &fakeChat{valid: true}
	seq := NewSequencer(Config{ClientID: "cid", GracePeriod: time.Minute, Clock: clock},
		fakeSecrets{token: "tok", channel: "foo"}, &fakeSettings{}, chat, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := seq.Run(ctx)
		done <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, chat.calls())
}
