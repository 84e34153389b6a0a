package domain

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNetwork    = errors.New("network error")
	ErrProtocol   = errors.New("protocol error")
	ErrAuth       = errors.New("token rejected")
	ErrConnection = errors.New("connection error")

	// ErrAuthorizationPending and ErrSlowDown are poll control signals, never
	// returned to callers of the device flow.
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrSlowDown             = errors.New("slow down")

	ErrExpiredToken  = errors.New("device code expired")
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidClient = errors.New("invalid client")

	ErrConfiguration = errors.New("configuration error")
	ErrNotConnected  = errors.New("not connected")
	ErrBusy          = errors.New("connect already in progress")
)

// Error attaches a kind and the failing operation to a cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func NewError(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprint(e.Kind)
	}
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UnknownAuthError carries an OAuth error code we do not recognise.
type UnknownAuthError struct {
	Message string
}

func (e *UnknownAuthError) Error() string {
	return "unknown authorization error: " + e.Message
}

// IsTerminalAuth reports whether err ends a device-auth attempt for good.
func IsTerminalAuth(err error) bool {
	var unknown *UnknownAuthError
	return errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrInvalidClient) ||
		errors.As(err, &unknown)
}
