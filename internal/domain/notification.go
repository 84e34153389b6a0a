package domain

import "time"

type NotificationType string

const (
	NotificationAuth       NotificationType = "auth"
	NotificationConnection NotificationType = "connection"
	NotificationConfig     NotificationType = "config"
	NotificationGeneric    NotificationType = "generic"
)

type Notification struct {
	ID        int64
	Type      NotificationType
	Title     string
	Message   string
	CreatedAt time.Time
}
