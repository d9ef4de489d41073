package transport

import (
	"context"
	"io"
	"sync"

	"github.com/EchoPBX/energy-bridge/pkg/sdk"
)

// Nop is the degraded transport used when no host is available. Posts are
// recorded, nothing is ever received.
type Nop struct {
	mu     sync.Mutex
	sent   []sdk.Envelope
	closed chan struct{}
	once   sync.Once
}

func NewNop() *Nop {
	return &Nop{closed: make(chan struct{})}
}

func (n *Nop) Post(_ context.Context, env sdk.Envelope) error {
	n.mu.Lock()
	n.sent = append(n.sent, env)
	n.mu.Unlock()
	return nil
}

// Receive blocks until ctx is done or the transport is closed.
func (n *Nop) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.closed:
		return nil, io.EOF
	}
}

func (n *Nop) Live() bool { return false }

func (n *Nop) Close() error {
	n.once.Do(func() { close(n.closed) })
	return nil
}

// Sent returns a copy of every envelope posted so far.
func (n *Nop) Sent() []sdk.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sdk.Envelope, len(n.sent))
	copy(out, n.sent)
	return out
}
