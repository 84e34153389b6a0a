package commands

import "strings"

// CommandDescriptor describes a command for the control API and the CLI.
type CommandDescriptor struct {
	Name        string   `json:"name"`
	Triggers    []string `json:"triggers"`
	Description string   `json:"description"`
	Usage       string   `json:"usage"`
}

// Describe lists commands in dispatch order.
func Describe(cmds []BotCommand) []CommandDescriptor {
	out := make([]CommandDescriptor, 0, len(cmds))
	for _, cmd := range cmds {
		triggers := cmd.Triggers()
		out = append(out, CommandDescriptor{
			Name:        cmd.Name(),
			Triggers:    triggers,
			Description: cmd.Description(),
			Usage:       strings.Join(triggers, " | "),
		})
	}
	return out
}

// RegisterBuiltins adds the built-in commands in their fixed priority order.
func RegisterBuiltins(d *Dispatcher, current, last SongProvider) {
	d.Register(NewCurrentSongCommand(current))
	d.Register(NewLastSongCommand(last))
	d.Register(NewPingCommand())
}
