package core

import (
	"context"
)

// Deps are the collaborators handed to every module during Setup.
type Deps struct {
	Platform  Platform
	Sender    Sender
	Services  Services
	Scheduler Scheduler
}

type Module interface {
	Name() string

	Setup(ctx context.Context, deps Deps) error

	Routes() map[EventType]HandlerFunc
}
