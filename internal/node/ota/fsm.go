package ota

import (
	"errors"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/sensornode/internal/pkg/util/fsm"
)

// Updater states.
const (
	StateIdle        = "idle"
	StateValidating  = "validating"
	StateConnecting  = "connecting"
	StateDownloading = "downloading"
	StateFinishing   = "finishing"
	// StateRestarting is terminal; the node restarts from it.
	StateRestarting = "restarting"
)

const (
	// EventValidate starts checking an inbound command.
	EventValidate = "validate"
	// EventConnect starts the request to the image source.
	EventConnect = "connect"
	// EventDownload arms the session and its tick.
	EventDownload = "download"
	// EventFinish is fired once the image is complete.
	EventFinish = "finish"
	// EventRestart ends a successful, restart-requested session.
	EventRestart = "restart"
	// EventReset tears the session down and returns to idle.
	EventReset = "reset"
)

var errNotCommitted = errors.New("image not committed, refusing to restart")

func (u *Updater) newStateMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventValidate, Src: []string{StateIdle}, Dst: StateValidating},
		{Name: EventConnect, Src: []string{StateValidating}, Dst: StateConnecting},
		{Name: EventDownload, Src: []string{StateConnecting}, Dst: StateDownloading},
		{Name: EventFinish, Src: []string{StateDownloading}, Dst: StateFinishing},
		{Name: EventRestart, Src: []string{StateFinishing}, Dst: StateRestarting},

		// Every failure exit
		{Name: EventReset, Src: []string{StateValidating, StateConnecting, StateDownloading, StateFinishing}, Dst: StateIdle},
	}

	// Callbacks must not fire events themselves.
	callbacks := fsm.Callbacks{
		"before_" + EventRestart: fsmutil.Guard(func() bool {
			return u.session != nil && u.session.finalized
		}, errNotCommitted),
		"enter_" + StateDownloading: fsmutil.WrapEvent(u.actionArm),
		"enter_" + StateIdle:        fsmutil.WrapEvent(u.actionEnterIdle),
		"enter_" + StateRestarting:  fsmutil.WrapEvent(u.actionEnterRestarting),
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}
