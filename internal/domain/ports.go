package domain

import "context"

type OutgoingMessagePort interface {
	SendMessage(ctx context.Context, text string) error
}

// Replier sends a response, optionally threaded under the original message.
type Replier interface {
	OutgoingMessagePort
	SendReply(ctx context.Context, text, replyTo string) error
}

// SecretRepository is a flat key/value secret backend. Get reports absence
// with ok=false rather than an error; Delete is idempotent.
type SecretRepository interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

type SettingsRepository interface {
	SetReauthNeeded(ctx context.Context, needed bool) error
	GetReauthNeeded(ctx context.Context) (bool, error)
	SetCommandsEnabled(ctx context.Context, enabled bool) error
	GetCommandsEnabled(ctx context.Context) (bool, error)
	SetReplyThreaded(ctx context.Context, enabled bool) error
	GetReplyThreaded(ctx context.Context) (bool, error)
}

type NotificationRepository interface {
	SaveNotification(ctx context.Context, n *Notification) (*Notification, error)
	ListNotifications(ctx context.Context, limit int) ([]*Notification, error)
}

// Notifier is the best-effort user notification side channel.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

type TrackObserver interface {
	TrackChanged(track Track)
	StatusChanged(status string)
}
