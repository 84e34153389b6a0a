package nowplaying

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"songBot/internal/domain"
)

type snapshot struct {
	current, previous domain.Track
	status            string
}

func TestTrackerRotatesSongs(t *testing.T) {
	var published []snapshot
	tr := NewTracker(func(c, p domain.Track, s string) {
		published = append(published, snapshot{c, p, s})
	})

	assert.Equal(t, "", tr.CurrentSong())
	assert.Equal(t, domain.StatusPlayerOffline, tr.Status())

	one := domain.Track{Title: "One", Artist: "Metallica"}
	two := domain.Track{Title: "Two", Artist: "Band", Album: "LP"}

	tr.TrackChanged(one)
	tr.TrackChanged(one)
	tr.TrackChanged(two)

	assert.Equal(t, "Two - Band (LP)", tr.CurrentSong())
	assert.Equal(t, "One - Metallica", tr.LastSong())
	assert.Equal(t, "", tr.Status())
	assert.Len(t, published, 2)
	assert.Equal(t, one, published[1].previous)
}

func TestTrackerStopKeepsLastSong(t *testing.T) {
	tr := NewTracker(nil)
	song := domain.Track{Title: "Song", Artist: "Artist"}

	tr.TrackChanged(song)
	tr.StatusChanged(domain.StatusNoTrack)

	assert.Equal(t, "", tr.CurrentSong())
	assert.Equal(t, "Song - Artist", tr.LastSong())
	assert.Equal(t, domain.StatusNoTrack, tr.Status())

	// An empty track is treated as "nothing playing".
	tr.TrackChanged(domain.Track{})
	assert.Equal(t, domain.StatusNoTrack, tr.Status())
	assert.Equal(t, "Song - Artist", tr.LastSong())
}
