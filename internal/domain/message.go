package domain

import "time"

type Platform string

const (
	PlatformTwitch Platform = "twitch"
)

type Message struct {
	Platform  Platform
	ChannelID string
	MessageID string
	UserID    string
	Username  string
	Text      string

	ReceivedAt time.Time
}
