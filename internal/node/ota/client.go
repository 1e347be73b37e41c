package ota

import "context"

// Flasher writes an image to persistent storage.
type Flasher interface {
	// SetExpectedHash must be called before Begin.
	SetExpectedHash(md5Hex string)
	Begin(size uint64) error
	Write(p []byte) (int, error)
	BytesWritten() uint64
	IsComplete() bool
	// Finalize verifies and commits the image. The error text is reported
	// to the server as is.
	Finalize() error
	// Abort discards an unfinalized image.
	Abort()
}

// Client is a network connection to the image source.
type Client interface {
	// Open prepares a connection. rootCAs is a PEM bundle, empty for plain
	// connections.
	Open(ctx context.Context, url, rootCAs string) error
	// Get issues the request and returns the response status code.
	Get(ctx context.Context) (int, error)
	// Stream returns the response body, or nil once the connection is gone.
	Stream() Stream
	Close() error
}

// Stream is a non-blocking view of a response body.
type Stream interface {
	// Available reports whether Read would return data without blocking.
	Available() bool
	Read(p []byte) (int, error)
}
