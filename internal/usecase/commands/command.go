package commands

import (
	"strings"
)

// BotCommand pairs a set of trigger prefixes with a response function. The
// value is immutable once built.
type BotCommand struct {
	name        string
	triggers    []string
	description string
	respond     func(message string) string
}

func NewBotCommand(name, description string, triggers []string, respond func(message string) string) BotCommand {
	normalized := make([]string, 0, len(triggers))
	for _, t := range triggers {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		normalized = append(normalized, t)
	}
	return BotCommand{
		name:        name,
		triggers:    normalized,
		description: description,
		respond:     respond,
	}
}

func (c BotCommand) Name() string {
	return c.name
}

func (c BotCommand) Description() string {
	return c.description
}

func (c BotCommand) Triggers() []string {
	return append([]string(nil), c.triggers...)
}

// Matches reports the first trigger the trimmed, lower-cased message starts
// with. "!songplease" matches "!song".
func (c BotCommand) Matches(message string) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return "", false
	}
	for _, t := range c.triggers {
		if strings.HasPrefix(text, t) {
			return t, true
		}
	}
	return "", false
}

// Execute returns the response for message, or false when the command does
// not match or has nothing to say.
func (c BotCommand) Execute(message string) (string, bool) {
	if _, ok := c.Matches(message); !ok || c.respond == nil {
		return "", false
	}
	out := c.respond(strings.TrimSpace(message))
	return out, out != ""
}
