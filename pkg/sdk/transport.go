package sdk

import "context"

// Transport is the single raw bidirectional channel between the panel and its host.
//
// Receive returns io.EOF once the channel has ended for good; any other error is
// treated as transient by the reader.
type Transport interface {
	Post(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) ([]byte, error)
	// Live reports whether a real host sits behind the transport.
	Live() bool
	Close() error
}
