package transport

import (
	"fmt"
	"os"

	"github.com/EchoPBX/energy-bridge/internal/config"
	"github.com/EchoPBX/energy-bridge/pkg/sdk"
	"go.uber.org/zap"
)

// Open builds the transport named by the host config.
func Open(cfg config.Host, log *zap.Logger) (sdk.Transport, error) {
	switch cfg.Transport {
	case config.TransportNone, "":
		log.Warn("no host transport configured - using mock mode")
		return NewNop(), nil
	case config.TransportStdio:
		return NewStdio(os.Stdin, os.Stdout), nil
	case config.TransportWebSocket:
		return NewWebSocket(WebSocketOptions{
			URL:            cfg.URL,
			Token:          cfg.Token,
			Insecure:       cfg.Insecure,
			ReconnectDelay: cfg.ReconnectDelay,
		}, log.Named("ws")), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
