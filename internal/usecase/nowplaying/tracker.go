// Package nowplaying remembers the current and previous track.
package nowplaying

import (
	"sync"

	"github.com/sirupsen/logrus"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
)

// Publisher receives a snapshot after every change.
type Publisher func(current, previous domain.Track, status string)

type Tracker struct {
	mu       sync.RWMutex
	current  domain.Track
	previous domain.Track
	status   string

	publish Publisher
	log     *logrus.Entry
}

func NewTracker(publish Publisher) *Tracker {
	return &Tracker{
		status:  domain.StatusPlayerOffline,
		publish: publish,
		log:     logging.GetLogger(logging.MusicModule),
	}
}

func (t *Tracker) TrackChanged(track domain.Track) {
	if track.IsZero() {
		t.StatusChanged(domain.StatusNoTrack)
		return
	}

	t.mu.Lock()
	if track == t.current {
		t.mu.Unlock()
		return
	}
	if !t.current.IsZero() {
		t.previous = t.current
	}
	t.current = track
	t.status = ""
	current, previous := t.current, t.previous
	t.mu.Unlock()

	t.log.WithField("track", track.String()).Info("now playing")
	t.emit(current, previous, "")
}

// StatusChanged records that nothing is playing. The last track becomes the
// previous one.
func (t *Tracker) StatusChanged(status string) {
	t.mu.Lock()
	if !t.current.IsZero() {
		t.previous = t.current
		t.current = domain.Track{}
	}
	if t.status == status {
		t.mu.Unlock()
		return
	}
	t.status = status
	previous := t.previous
	t.mu.Unlock()

	t.log.WithField("status", status).Info("player status")
	t.emit(domain.Track{}, previous, status)
}

func (t *Tracker) emit(current, previous domain.Track, status string) {
	if t.publish != nil {
		t.publish(current, previous, status)
	}
}

// CurrentSong is "" when nothing is playing.
func (t *Tracker) CurrentSong() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current.String()
}

func (t *Tracker) LastSong() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.previous.String()
}

// Status is the player status line, empty while a track plays.
func (t *Tracker) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

var _ domain.TrackObserver = (*Tracker)(nil)
