package events

import (
	"sync"

	"github.com/EchoPBX/energy-bridge/pkg/sdk"
)

const subscriberBuffer = 64

// Bus fans inbound host envelopes out to stream listeners. Slow listeners
// miss messages instead of blocking the bridge.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan sdk.Envelope]struct{}
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan sdk.Envelope]struct{}),
	}
}

func (b *Bus) Subscribe() chan sdk.Envelope {
	ch := make(chan sdk.Envelope, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan sdk.Envelope) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(env sdk.Envelope) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every listener.
func (b *Bus) Close() {
	b.mu.Lock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
