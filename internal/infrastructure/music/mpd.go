// Package music reads the playing track from an MPD server.
package music

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"songBot/internal/domain"
	"songBot/internal/infrastructure/logging"
)

const defaultPollInterval = 2 * time.Second

// Client is the part of *mpd.Client the source needs.
type Client interface {
	CurrentSong() (mpd.Attrs, error)
	Status() (mpd.Attrs, error)
	Close() error
}

type Dialer func() (Client, error)

// TCPDialer connects to addr, authenticating when password is set.
func TCPDialer(addr, password string) Dialer {
	return func() (Client, error) {
		if password != "" {
			return mpd.DialAuthenticated("tcp", addr, password)
		}
		return mpd.Dial("tcp", addr)
	}
}

type MPDSource struct {
	dial     Dialer
	interval time.Duration
	clock    clockwork.Clock
	observer domain.TrackObserver
	log      *logrus.Entry

	client     Client
	lastTrack  domain.Track
	lastStatus string
	reported   bool
}

func NewMPDSource(dial Dialer, interval time.Duration, clock clockwork.Clock, observer domain.TrackObserver) *MPDSource {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MPDSource{
		dial:     dial,
		interval: interval,
		clock:    clock,
		observer: observer,
		log:      logging.GetLogger(logging.MusicModule),
	}
}

// Run polls until ctx ends. It is not safe to call twice at once.
func (s *MPDSource) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.disconnect()

	s.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.poll()
		}
	}
}

func (s *MPDSource) poll() {
	track, status, err := s.read()
	if err != nil {
		s.log.WithError(err).Debug("mpd unavailable")
		s.disconnect()
		s.report(domain.Track{}, domain.StatusPlayerOffline)
		return
	}
	s.report(track, status)
}

func (s *MPDSource) read() (domain.Track, string, error) {
	if s.client == nil {
		c, err := s.dial()
		if err != nil {
			return domain.Track{}, "", errors.Wrap(err, "dial mpd")
		}
		s.client = c
		s.log.Info("connected to mpd")
	}

	st, err := s.client.Status()
	if err != nil {
		return domain.Track{}, "", errors.Wrap(err, "mpd status")
	}
	if st["state"] != "play" {
		return domain.Track{}, domain.StatusNoTrack, nil
	}

	song, err := s.client.CurrentSong()
	if err != nil {
		return domain.Track{}, "", errors.Wrap(err, "mpd current song")
	}
	track := trackFromAttrs(song)
	if track.IsZero() {
		return domain.Track{}, domain.StatusNoTrack, nil
	}
	return track, "", nil
}

func (s *MPDSource) report(track domain.Track, status string) {
	if s.reported && track == s.lastTrack && status == s.lastStatus {
		return
	}
	s.reported = true
	s.lastTrack, s.lastStatus = track, status

	if s.observer == nil {
		return
	}
	if track.IsZero() {
		s.observer.StatusChanged(status)
		return
	}
	s.observer.TrackChanged(track)
}

func (s *MPDSource) disconnect() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.log.WithError(err).Debug("closing mpd connection")
	}
	s.client = nil
}

// trackFromAttrs falls back to the file name for untagged files.
func trackFromAttrs(attrs mpd.Attrs) domain.Track {
	track := domain.Track{
		Title:  strings.TrimSpace(attrs["Title"]),
		Artist: strings.TrimSpace(attrs["Artist"]),
		Album:  strings.TrimSpace(attrs["Album"]),
	}
	if track.Title == "" && attrs["file"] != "" {
		base := path.Base(attrs["file"])
		track.Title = strings.TrimSuffix(base, path.Ext(base))
	}
	return track
}
