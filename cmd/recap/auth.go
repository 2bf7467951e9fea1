package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"recap/internal/auth"
	"recap/internal/mcp"
)

func authCmd() *cobra.Command {
	var device bool
	cmd := &cobra.Command{
		Use:   "auth <server-id>",
		Short: "Authorize against a server ahead of time",
		Long: `Auth runs the OAuth flow for a configured server and caches the
resulting token, so later connections succeed without a prompt. The
browser flow is used when available; --device forces the device code
flow for machines without one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var target *mcp.ServerConfig
			for i := range cfg.Servers {
				if cfg.Servers[i].ID == args[0] {
					target = &cfg.Servers[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("no configured server with id %q", args[0])
			}
			if target.Transport != mcp.TransportHTTP {
				return fmt.Errorf("server %s uses the %s transport; only http servers need authorization", target.ID, target.Transport)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			authn := auth.NewAuthenticator(auth.NewFileTokenStore(cfg.DataDir), auth.Options{
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				Scopes:       cfg.OAuth.Scopes,
				RedirectPort: cfg.OAuth.RedirectPort,
				PreferDevice: cfg.OAuth.PreferDevice || device,
			})
			if err := authn.Authorize(ctx, *target, ""); err != nil {
				return err
			}
			fmt.Printf("authorized %s\n", target.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&device, "device", false, "use the device code flow")
	return cmd
}
