package domain

// ConnectionState is the lifecycle of the single chat connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	// StateReauthRequired is left only when a fresh token is stored.
	StateReauthRequired
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReauthRequired:
		return "reauth_required"
	default:
		return "unknown"
	}
}
