package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/EchoPBX/energy-bridge/internal/bridge"
	"github.com/EchoPBX/energy-bridge/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send TYPE [JSON]",
	Short: "Post one message to the configured host and exit",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		data, err := payloadArg(args)
		if err != nil {
			return err
		}

		t, err := transport.Open(cfg.Host, log.Named("transport"))
		if err != nil {
			return err
		}
		b := bridge.New(t, log.Named("bridge"))
		defer b.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		if err := b.Send(ctx, args[0], data); err != nil {
			return err
		}
		if !b.HostPresent() {
			log.Warn("mock mode - message was not delivered", zap.String("type", args[0]))
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for the host connection")
	rootCmd.AddCommand(sendCmd)
}

func payloadArg(args []string) (json.RawMessage, error) {
	if len(args) < 2 {
		return nil, nil
	}
	raw := json.RawMessage(args[1])
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return raw, nil
}
