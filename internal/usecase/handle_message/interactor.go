// Package handle_message
package handle_message

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"

	"songBot/internal/domain"
	"songBot/internal/usecase/commands"
)

type Interactor struct {
	dispatcher *commands.Dispatcher
	out        domain.Replier
	threaded   atomic.Bool
}

func NewInteractor(out domain.Replier, dispatcher *commands.Dispatcher) *Interactor {
	uc := &Interactor{
		dispatcher: dispatcher,
		out:        out,
	}
	uc.threaded.Store(true)
	return uc
}

// SetThreaded controls whether replies quote the triggering message.
func (uc *Interactor) SetThreaded(enabled bool) {
	uc.threaded.Store(enabled)
}

func (uc *Interactor) Handle(ctx context.Context, msg domain.Message) error {
	response, ok := uc.dispatcher.ProcessMessage(msg.Text)
	if !ok {
		return nil
	}

	var err error
	if uc.threaded.Load() && msg.MessageID != "" {
		err = uc.out.SendReply(ctx, response, msg.MessageID)
	} else {
		err = uc.out.SendMessage(ctx, response)
	}
	if err != nil {
		return errors.Wrapf(err, "reply to %s", msg.Username)
	}
	return nil
}
