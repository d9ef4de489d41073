package bridge

import (
	"context"
	"encoding/json"

	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"go.uber.org/zap"
)

// On subscribes fn to topic, decoding each payload into T. Payloads that do
// not decode are logged and skipped for this subscriber only.
func On[T any](b *Bridge, topic sdk.Topic[T], fn func(T)) (unsubscribe func()) {
	return b.Subscribe(topic.Name, func(data json.RawMessage) {
		var v T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v); err != nil {
				b.log.Warn("payload does not match topic",
					zap.String("type", topic.Name),
					zap.Error(err))
				return
			}
		}
		fn(v)
	})
}

// Publish sends v as the payload of topic.
func Publish[T any](ctx context.Context, b *Bridge, topic sdk.Topic[T], v T) error {
	return b.Send(ctx, topic.Name, v)
}
