// Package bridge relays typed {type, data} envelopes between the dashboard
// and its editor host over a single transport.
//
// Dispatch works on a snapshot of the handlers registered for a type when the
// message arrives: handlers added during dispatch first see the next message,
// and handlers removed during dispatch still run for the message in flight if
// they were part of the snapshot.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/EchoPBX/energy-bridge/internal/transport"
	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"go.uber.org/zap"
)

type Bridge struct {
	t    sdk.Transport
	log  *zap.Logger
	reg  *registry
	live bool

	stateMu sync.RWMutex
	state   json.RawMessage

	tapMu    sync.RWMutex
	taps     []func(sdk.Envelope)
	restores []func(json.RawMessage)
}

// New binds a bridge to t. A nil transport puts the bridge in mock mode.
func New(t sdk.Transport, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	if t == nil {
		t = transport.NewNop()
	}
	b := &Bridge{
		t:    t,
		log:  log,
		reg:  newRegistry(),
		live: t.Live(),
	}
	if !b.live {
		log.Warn("no host transport - running in mock mode")
	}
	return b
}

// HostPresent reports whether a real host transport was supplied at construction.
func (b *Bridge) HostPresent() bool { return b.live }

// Send posts {typ, data} to the host. Delivery is not acknowledged. In mock
// mode the envelope is only recorded by the transport and logged.
func (b *Bridge) Send(ctx context.Context, typ string, data any) error {
	env, err := sdk.NewEnvelope(typ, data)
	if err != nil {
		b.log.Error("send: encode failed", zap.String("type", typ), zap.Error(err))
		return err
	}
	return b.post(ctx, env)
}

func (b *Bridge) post(ctx context.Context, env sdk.Envelope) error {
	if !b.live {
		b.log.Debug("mock send", zap.String("type", env.Type), zap.ByteString("data", env.Data))
		_ = b.t.Post(ctx, env)
		return nil
	}
	if err := b.t.Post(ctx, env); err != nil {
		b.log.Warn("send failed", zap.String("type", env.Type), zap.Error(err))
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Subscribe registers fn for inbound messages of typ. The returned function
// removes exactly this registration; calling it again does nothing.
func (b *Bridge) Subscribe(typ string, fn Handler) (unsubscribe func()) {
	s := b.reg.add(typ, fn)
	var once sync.Once
	return func() {
		once.Do(func() { b.reg.remove(s) })
	}
}

// UnsubscribeAll removes every handler for the given types, or the whole
// registry when called without arguments.
func (b *Bridge) UnsubscribeAll(types ...string) {
	b.reg.clear(types...)
}

// Subscribers returns how many handlers are registered for typ.
func (b *Bridge) Subscribers(typ string) int { return b.reg.count(typ) }

// Tap registers an observer of every well-formed inbound envelope, reserved
// types excluded. Taps run after the type's handlers.
func (b *Bridge) Tap(fn func(sdk.Envelope)) {
	b.tapMu.Lock()
	b.taps = append(b.taps, fn)
	b.tapMu.Unlock()
}

// OnRestore registers fn to run whenever the host restores the persisted state.
func (b *Bridge) OnRestore(fn func(state json.RawMessage)) {
	b.tapMu.Lock()
	b.restores = append(b.restores, fn)
	b.tapMu.Unlock()
}

// PersistedState returns the last blob stored with SetPersistedState or
// restored by the host, or nil when there is none or the bridge is in mock mode.
func (b *Bridge) PersistedState() json.RawMessage {
	if !b.live {
		return nil
	}
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	if len(b.state) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), b.state...)
}

// SetPersistedState hands an opaque blob to the host for safekeeping across reloads.
func (b *Bridge) SetPersistedState(ctx context.Context, state json.RawMessage) error {
	if !b.live {
		return nil
	}
	cp := append(json.RawMessage(nil), state...)
	b.stateMu.Lock()
	b.state = cp
	b.stateMu.Unlock()
	return b.post(ctx, sdk.Envelope{Type: sdk.TypeSetState, Data: cp})
}

// Dispatch decodes one raw inbound message and delivers it. Malformed input
// is logged and dropped.
func (b *Bridge) Dispatch(raw []byte) {
	env, err := sdk.DecodeEnvelope(raw)
	if err != nil {
		b.log.Warn("dropping malformed message", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	b.deliver(env)
}

func (b *Bridge) deliver(env sdk.Envelope) {
	if env.Type == sdk.TypeRestoreState {
		b.stateMu.Lock()
		b.state = env.Data
		b.stateMu.Unlock()
		b.log.Debug("persisted state restored", zap.Int("bytes", len(env.Data)))
		b.tapMu.RLock()
		restores := b.restores
		b.tapMu.RUnlock()
		for _, fn := range restores {
			b.safe("restore", env.Type, func() { fn(env.Data) })
		}
		return
	}

	subs := b.reg.snapshot(env.Type)
	for _, s := range subs {
		b.invoke(env, s.fn)
	}

	b.tapMu.RLock()
	taps := b.taps
	b.tapMu.RUnlock()
	for _, fn := range taps {
		b.safe("tap", env.Type, func() { fn(env) })
	}
}

func (b *Bridge) invoke(env sdk.Envelope, fn Handler) {
	b.safe("handler", env.Type, func() { fn(env.Data) })
}

// safe runs fn and logs a panic instead of letting it take down the read loop.
func (b *Bridge) safe(kind, typ string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error(kind+" panicked", zap.String("type", typ), zap.Any("panic", r))
		}
	}()
	fn()
}

// Run reads from the transport and dispatches one message at a time until ctx
// is done or the transport ends. Transient receive errors are logged and the
// loop keeps going.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		raw, err := b.t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				b.log.Info("host transport closed")
				return nil
			}
			b.log.Warn("receive failed", zap.Error(err))
			continue
		}
		b.Dispatch(raw)
	}
}

// Close releases the transport.
func (b *Bridge) Close() error {
	return b.t.Close()
}
