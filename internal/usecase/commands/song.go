package commands

import "strings"

// SongProvider returns a display string for a song, or "" when unknown.
type SongProvider func() string

const (
	noCurrentSongReply = "No song information available right now."
	noLastSongReply    = "No previous song yet."
)

// NewCurrentSongCommand answers !song. provider may be nil.
func NewCurrentSongCommand(provider SongProvider) BotCommand {
	return NewBotCommand(
		"song",
		"Shows the song that is playing right now.",
		[]string{"!song", "!currentsong", "!nowplaying"},
		func(string) string {
			song := callProvider(provider)
			if song == "" {
				return noCurrentSongReply
			}
			return "Now playing: " + song
		},
	)
}

// NewLastSongCommand answers !lastsong. provider may be nil.
func NewLastSongCommand(provider SongProvider) BotCommand {
	return NewBotCommand(
		"lastsong",
		"Shows the song that played before the current one.",
		[]string{"!lastsong", "!previoussong"},
		func(string) string {
			song := callProvider(provider)
			if song == "" {
				return noLastSongReply
			}
			return "Last song: " + song
		},
	)
}

func callProvider(provider SongProvider) string {
	if provider == nil {
		return ""
	}
	return strings.TrimSpace(provider())
}
