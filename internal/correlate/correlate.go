// Package correlate layers request/response matching on top of the
// fire-and-forget bridge by embedding a requestId in the payload.
package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/EchoPBX/energy-bridge/internal/bridge"
	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const FieldRequestID = "requestId"

var ErrNoHost = errors.New("no host attached")

type Caller struct {
	b   *bridge.Bridge
	log *zap.Logger

	mu       sync.Mutex
	pending  map[string]chan json.RawMessage
	watching map[string]func()
}

func New(b *bridge.Bridge, log *zap.Logger) *Caller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Caller{
		b:        b,
		log:      log,
		pending:  make(map[string]chan json.RawMessage),
		watching: make(map[string]func()),
	}
}

// Call sends req on reqTopic and waits for the respTopic message carrying the
// same requestId, or for ctx to end.
func Call[Req, Resp any](ctx context.Context, c *Caller, reqTopic sdk.Topic[Req], respTopic sdk.Topic[Resp], req Req) (Resp, error) {
	var zero Resp
	raw, err := c.call(ctx, reqTopic.Name, respTopic.Name, req)
	if err != nil {
		return zero, err
	}
	var resp Resp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return zero, fmt.Errorf("decode %s: %w", respTopic.Name, err)
	}
	return resp, nil
}

func (c *Caller) call(ctx context.Context, reqType, respType string, req any) (json.RawMessage, error) {
	if !c.b.HostPresent() {
		return nil, ErrNoHost
	}
	id := uuid.NewString()
	payload, err := withRequestID(req, id)
	if err != nil {
		return nil, err
	}

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.watchLocked(respType)
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.b.Send(ctx, reqType, payload); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s %s: %w", reqType, id, ctx.Err())
	case data := <-ch:
		return data, nil
	}
}

func (c *Caller) watchLocked(respType string) {
	if _, ok := c.watching[respType]; ok {
		return
	}
	c.watching[respType] = c.b.Subscribe(respType, func(data json.RawMessage) {
		var fields map[string]json.RawMessage
		if json.Unmarshal(data, &fields) != nil {
			return
		}
		var id string
		if json.Unmarshal(fields[FieldRequestID], &id) != nil || id == "" {
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if !ok {
			c.log.Debug("response without pending request", zap.String("type", respType), zap.String("request_id", id))
			return
		}
		ch <- data
	})
}

// Pending returns the number of calls still waiting for a response.
func (c *Caller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close removes the caller's response subscriptions.
func (c *Caller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for typ, unsub := range c.watching {
		unsub()
		delete(c.watching, typ)
	}
}

func withRequestID(req any, id string) (json.RawMessage, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if string(b) != "null" {
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("request payload must be a json object: %w", err)
		}
	}
	idJSON, _ := json.Marshal(id)
	fields[FieldRequestID] = idJSON
	return json.Marshal(fields)
}
