package domain

import "strings"

type Track struct {
	Title  string
	Artist string
	Album  string
}

func (t Track) IsZero() bool {
	return strings.TrimSpace(t.Title) == "" && strings.TrimSpace(t.Artist) == ""
}

// String renders "Title - Artist (Album)", dropping empty parts.
func (t Track) String() string {
	title := strings.TrimSpace(t.Title)
	artist := strings.TrimSpace(t.Artist)
	album := strings.TrimSpace(t.Album)

	out := title
	if artist != "" {
		if out != "" {
			out += " - "
		}
		out += artist
	}
	if album != "" {
		out += " (" + album + ")"
	}
	return out
}

const (
	StatusNoTrack       = "No track playing"
	StatusPlayerOffline = "Music player is not running"
)
