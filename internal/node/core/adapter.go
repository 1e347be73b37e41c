package core

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type HandlerFunc func(ctx context.Context, payload []byte) error

type TypedHandlerFunc[T any, P interface {
	*T
	proto.Message
}] func(ctx context.Context, msg P) error

func ProtoAdapter[T any, P interface {
	*T
	proto.Message
}](handler TypedHandlerFunc[T, P]) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var msg P = new(T)

		unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
		if err := unmarshaler.Unmarshal(payload, msg); err != nil {
			return fmt.Errorf("proto unmarshal failed: %w", err)
		}

		return handler(ctx, msg)
	}
}

// OnScheduler moves h onto the scheduler goroutine. The returned handler
// never fails; errors from h are passed to onErr.
func OnScheduler(s Scheduler, h HandlerFunc, onErr func(error)) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		s.Post(func() {
			if err := h(ctx, payload); err != nil && onErr != nil {
				onErr(err)
			}
		})
		return nil
	}
}
