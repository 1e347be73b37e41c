package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent turns an error-returning callback into a looplab callback.
// The error is recorded on the event and returned by FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Guard is a before_ callback that cancels the transition unless ok reports true.
func Guard(ok func() bool, reason error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if !ok() {
			event.Cancel(reason)
		}
	}
}
