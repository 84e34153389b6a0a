package music

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songBot/internal/domain"
)

type fakeClient struct {
	mu     sync.Mutex
	status mpd.Attrs
	song   mpd.Attrs
	err    error
	closed int
}

func (f *fakeClient) Status() (mpd.Attrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeClient) CurrentSong() (mpd.Attrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.song, f.err
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type observer struct {
	mu     sync.Mutex
	events []string
}

func (o *observer) TrackChanged(t domain.Track) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "track:"+t.String())
}

func (o *observer) StatusChanged(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "status:"+s)
}

func (o *observer) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func TestPollReportsOnlyChanges(t *testing.T) {
	client := &fakeClient{
		status: mpd.Attrs{"state": "play"},
		song:   mpd.Attrs{"Title": "Song", "Artist": "Artist", "Album": "Album"},
	}
	dials := 0
	obs := &observer{}
	src := NewMPDSource(func() (Client, error) {
		dials++
		return client, nil
	}, time.Second, clockwork.NewFakeClock(), obs)

	src.poll()
	src.poll()
	client.status = mpd.Attrs{"state": "pause"}
	src.poll()
	src.poll()

	assert.Equal(t, []string{"track:Song - Artist (Album)", "status:" + domain.StatusNoTrack}, obs.list())
	assert.Equal(t, 1, dials)
}

func TestPollGoesOfflineAndReconnects(t *testing.T) {
	client := &fakeClient{status: mpd.Attrs{"state": "stop"}}
	failDial := true
	obs := &observer{}
	src := NewMPDSource(func() (Client, error) {
		if failDial {
			return nil, errors.New("connection refused")
		}
		return client, nil
	}, time.Second, clockwork.NewFakeClock(), obs)

	src.poll()
	failDial = false
	src.poll()
	client.err = errors.New("broken pipe")
	src.poll()

	assert.Equal(t, []string{
		"status:" + domain.StatusPlayerOffline,
		"status:" + domain.StatusNoTrack,
		"status:" + domain.StatusPlayerOffline,
	}, obs.list())
	assert.Equal(t, 1, client.closed)
	assert.Nil(t, src.client)
}

func TestTrackFromAttrsFallsBackToFile(t *testing.T) {
	track := trackFromAttrs(mpd.Attrs{"file": "music/Artist/01 Intro.flac"})
	assert.Equal(t, "01 Intro", track.Title)
	assert.Empty(t, trackFromAttrs(mpd.Attrs{}).Title)
}

func TestRunPollsOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	client := &fakeClient{status: mpd.Attrs{"state": "stop"}}
	obs := &observer{}

	src := NewMPDSource(func() (Client, error) { return client, nil }, time.Second, clock, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	require.Eventually(t, func() bool { return len(obs.list()) == 1 }, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	client.status = mpd.Attrs{"state": "play"}
	client.song = mpd.Attrs{"Title": "Next", "Artist": "Band"}
	client.mu.Unlock()
	clock.Advance(time.Second)

	require.Eventually(t, func() bool { return len(obs.list()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "track:Next - Band", obs.list()[1])

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, client.closed)
}
