package bridge

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw payload of one inbound message.
type Handler func(data json.RawMessage)

type subscription struct {
	typ string
	fn  Handler
}

// registry maps a message type to its subscriptions in registration order.
type registry struct {
	mu   sync.Mutex
	subs map[string][]*subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string][]*subscription)}
}

func (r *registry) add(typ string, fn Handler) *subscription {
	s := &subscription{typ: typ, fn: fn}
	r.mu.Lock()
	r.subs[typ] = append(r.subs[typ], s)
	r.mu.Unlock()
	return s
}

// remove drops exactly s. The backing array is never mutated in place so that
// snapshots taken by an in-flight dispatch stay intact.
func (r *registry) remove(s *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.subs[s.typ]
	for i, x := range cur {
		if x != s {
			continue
		}
		if len(cur) == 1 {
			delete(r.subs, s.typ)
			return
		}
		next := make([]*subscription, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		r.subs[s.typ] = append(next, cur[i+1:]...)
		return
	}
}

func (r *registry) clear(types ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(types) == 0 {
		r.subs = make(map[string][]*subscription)
		return
	}
	for _, typ := range types {
		delete(r.subs, typ)
	}
}

// snapshot returns the handlers registered for typ at call time.
func (r *registry) snapshot(typ string) []*subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.subs[typ]
	// add only ever appends past len, so a capped slice is a stable snapshot.
	return cur[:len(cur):len(cur)]
}

func (r *registry) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[typ])
}
