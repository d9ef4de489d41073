package main

import (
	"fmt"
	"os"

	"github.com/EchoPBX/energy-bridge/internal/config"
	"github.com/EchoPBX/energy-bridge/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:           "energy-bridge",
	Short:         "Message bridge between the code energy dashboard and its editor host",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config.yaml (default $"+config.EnvPath+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "energy-bridge:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	path := config.Path(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(logging.Cfg{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}
