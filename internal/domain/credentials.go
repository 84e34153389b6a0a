package domain

import (
	"strings"
	"time"
)

// TwitchCredentials groups what the secret store keeps for the bot.
// Token and channel are independently optional.
type TwitchCredentials struct {
	OAuthToken  string
	BotUsername string
	BotUserID   string
	ChannelID   string
}

func (c TwitchCredentials) HasToken() bool {
	return strings.TrimSpace(c.OAuthToken) != ""
}

func (c TwitchCredentials) HasChannel() bool {
	return strings.TrimSpace(c.ChannelID) != ""
}

// CanConnect reports whether a connection attempt has everything it needs.
func (c TwitchCredentials) CanConnect(clientID string) bool {
	return c.HasToken() && c.HasChannel() && strings.TrimSpace(clientID) != ""
}

// DeviceCodeState lives as long as one device-auth attempt.
type DeviceCodeState struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Interval        time.Duration
	ExpiresAt       time.Time
}

func (s DeviceCodeState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenInfo is what the identity endpoint reports for a token.
type TokenInfo struct {
	ClientID  string
	Login     string
	UserID    string
	Scopes    []string
	ExpiresIn time.Duration
}
