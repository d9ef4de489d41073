package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EchoPBX/energy-bridge/internal/bridge"
	"github.com/EchoPBX/energy-bridge/internal/config"
	"github.com/EchoPBX/energy-bridge/internal/correlate"
	"github.com/EchoPBX/energy-bridge/internal/events"
	"github.com/EchoPBX/energy-bridge/internal/httpserver"
	"github.com/EchoPBX/energy-bridge/internal/panel"
	"github.com/EchoPBX/energy-bridge/internal/reloader"
	"github.com/EchoPBX/energy-bridge/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge and the local dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgPath, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()

		// stdout may be the host channel, keep the banner on stderr
		fmt.Fprintf(os.Stderr, `
  energy-bridge
  -------------
  config:    %s
  transport: %s

`, orDefaults(cfgPath), cfg.Host.Transport)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, cfgPath, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func orDefaults(path string) string {
	if path == "" {
		return "(defaults)"
	}
	return path
}

func serve(ctx context.Context, cfg *config.Config, cfgPath string, log *zap.Logger) error {
	t, err := transport.Open(cfg.Host, log.Named("transport"))
	if err != nil {
		return err
	}
	b := bridge.New(t, log.Named("bridge"))
	defer b.Close()

	bus := events.NewBus()
	defer bus.Close()
	b.Tap(bus.Publish)

	p := panel.New(b, log.Named("panel"))
	p.Attach()
	defer p.Detach()

	caller := correlate.New(b, log.Named("correlate"))
	defer caller.Close()

	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()

	var httpSrv *http.Server
	var srv *httpserver.Server
	if cfg.HTTPEnabled() {
		srv, err = httpserver.New(cfg, log.Named("http"), httpserver.Deps{Bridge: b, Panel: p, Caller: caller, Bus: bus})
		if err != nil {
			return err
		}
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			var err error
			if cfg.HTTP.TLS.Enabled {
				err = httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key)
			} else {
				err = httpSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http", zap.Error(err))
			}
		}()
		log.Info("dashboard api listening", zap.String("addr", httpSrv.Addr), zap.Bool("tls", cfg.HTTP.TLS.Enabled))
	}

	if cfgPath != "" {
		reloader.OnSIGHUP(ctx, func() {
			newCfg, err := config.Load(cfgPath)
			if err != nil {
				log.Warn("config reload failed", zap.Error(err))
				return
			}
			if srv != nil {
				srv.Reload(newCfg)
			}
			log.Info("reloaded config")
		})
	}

	log.Info("bridge started", zap.Bool("host_present", b.HostPresent()))

	select {
	case <-ctx.Done():
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("bridge loop stopped", zap.Error(err))
		}
	}

	log.Info("shutting down...")
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	log.Info("bye")
	return nil
}
