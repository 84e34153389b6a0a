package commands

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"songBot/internal/infrastructure/logging"
	"songBot/internal/infrastructure/metrics"
)

// Dispatcher tries commands in registration order; the first non-empty
// response wins.
type Dispatcher struct {
	mu       sync.RWMutex
	commands []BotCommand
	log      *logrus.Entry
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		log: logging.GetLogger(logging.CommandsModule),
	}
}

func (d *Dispatcher) Register(cmd BotCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
}

func (d *Dispatcher) Commands() []BotCommand {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]BotCommand(nil), d.commands...)
}

// ProcessMessage returns ("", false) when nothing matches.
func (d *Dispatcher) ProcessMessage(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	for _, cmd := range d.Commands() {
		response, ok := cmd.Execute(text)
		if !ok {
			continue
		}
		trigger, _ := cmd.Matches(text)
		d.log.WithFields(logrus.Fields{
			"command": cmd.Name(),
			"trigger": trigger,
		}).Info("command matched")
		metrics.CommandsDispatched.WithLabelValues(cmd.Name()).Inc()
		return response, true
	}

	return "", false
}
