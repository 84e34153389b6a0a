package events

import (
	"time"

	"songBot/internal/domain"
)

// ChatMessageDTO is the chat payload sent to websocket clients.
type ChatMessageDTO struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func NewChatMessageDTO(msg domain.Message) ChatMessageDTO {
	ts := msg.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return ChatMessageDTO{
		Platform:  string(msg.Platform),
		ChannelID: msg.ChannelID,
		MessageID: msg.MessageID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Text:      msg.Text,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	}
}

type ConnectionStateDTO struct {
	Previous  string `json:"previous"`
	State     string `json:"state"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp"`
}

func NewConnectionStateDTO(old, current domain.ConnectionState, channel string) ConnectionStateDTO {
	return ConnectionStateDTO{
		Previous:  old.String(),
		State:     current.String(),
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NowPlayingDTO carries either a track or a player status line.
type NowPlayingDTO struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Display  string `json:"display"`
	Previous string `json:"previous,omitempty"`
	Status   string `json:"status,omitempty"`
}

func NewNowPlayingDTO(current, previous domain.Track, status string) NowPlayingDTO {
	dto := NowPlayingDTO{
		Title:  current.Title,
		Artist: current.Artist,
		Album:  current.Album,
		Status: status,
	}
	if !previous.IsZero() {
		dto.Previous = previous.String()
	}
	if current.IsZero() {
		dto.Display = status
	} else {
		dto.Display = current.String()
	}
	return dto
}

type NotificationDTO struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func NewNotificationDTO(n *domain.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
