package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"recap/internal/config"
	"recap/internal/httpapi"
	"recap/internal/logging"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background service used by the desktop shell",
		Long: `Serve keeps the server sessions warm and exposes the HTTP API the
desktop shell talks to: starting runs, answering approvals, and the
WebSocket progress stream. Config file changes are picked up live.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}

			// Stdio servers and the API own the terminal; logs go to a
			// file under the data dir.
			if err := logging.EnableFileLogging(cfg.DataDir, logging.Level(cfg.Logging.Level)); err != nil {
				return err
			}
			defer logging.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			a.connect(ctx)

			srv := httpapi.New(cfg.Serve.Addr, httpapi.Deps{
				Pipeline:     a.pipeline,
				Orchestrator: a.orch,
				Manager:      a.manager,
				Gate:         a.gate,
				Events:       a.broadcaster,
				Store:        a.store,
				History:      a.recorder,
			})

			watcher, err := config.NewWatcher(configPath(), func(next *config.Config) {
				if err := a.manager.Reconcile(ctx, a.serverConfigs(next)); err != nil {
					logging.Warn("server reconcile failed", "error", err)
				}
			})
			if err != nil {
				logging.Warn("config watcher unavailable", "error", err)
			} else if err := watcher.Start(); err != nil {
				logging.Warn("config watcher failed to start", "error", err)
			} else {
				defer watcher.Stop()
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			fmt.Printf("recap listening on %s\n", cfg.Serve.Addr)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default "+config.DefaultServeAddr+")")
	return cmd
}
