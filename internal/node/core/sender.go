package core

import (
	"context"

	"google.golang.org/protobuf/proto"
)

type Sender interface {
	Send(ctx context.Context, event EventType, payload []byte) error
	SendProto(ctx context.Context, event EventType, msg proto.Message) error
	IsConnected() bool
}

// Server is the node's view of the remote server.
type Server interface {
	// RootCertificates returns the PEM bundle used for HTTPS downloads.
	RootCertificates() string

	// SendResult delivers a result message. Delivery is best effort.
	SendResult(ctx context.Context, msg proto.Message) error
}

// Services resolves collaborators that may not be available yet.
type Services interface {
	// Server returns nil while no server link is configured.
	Server() Server
}

// ServicesFunc adapts a getter function to Services.
type ServicesFunc func() Server

func (f ServicesFunc) Server() Server { return f() }
