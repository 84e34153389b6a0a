// Package notify shows desktop notifications.
package notify

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"songBot/internal/infrastructure/logging"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Desktop uses osascript on macOS. Elsewhere, or when disabled, it logs.
type Desktop struct {
	enabled bool
	run     commandRunner
	log     *logrus.Entry
}

func NewDesktop(enabled bool) *Desktop {
	if enabled && runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("osascript"); err != nil {
			enabled = false
		}
	} else {
		enabled = false
	}
	return &Desktop{
		enabled: enabled,
		run:     execRunner,
		log:     logging.GetLogger(logging.NotifyModule),
	}
}

func (d *Desktop) Show(ctx context.Context, title, message string) error {
	if !d.enabled {
		d.log.WithField("title", title).Info(message)
		return nil
	}

	script := "display notification " + strconv.Quote(message) + " with title " + strconv.Quote(title)
	if out, err := d.run(ctx, "osascript", "-e", script); err != nil {
		return errors.Wrapf(err, "osascript: %s", string(out))
	}
	return nil
}
