package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recap/internal/config"
	"recap/internal/mcp"
)

func serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage configured MCP servers",
	}
	cmd.AddCommand(serversListCmd())
	cmd.AddCommand(serversAddCmd())
	cmd.AddCommand(serversRemoveCmd())
	return cmd
}

func serversListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Servers) == 0 {
				fmt.Println("no servers configured")
				return nil
			}
			for _, srv := range cfg.Servers {
				state := "enabled"
				if !srv.Enabled {
					state = "disabled"
				}
				target := srv.Command
				if srv.Transport == mcp.TransportHTTP {
					target = srv.URL
				}
				fmt.Printf("%-20s %-8s %-9s %s\n", srv.ID, srv.Transport, state, target)
			}
			return nil
		},
	}
}

func serversAddCmd() *cobra.Command {
	var (
		name      string
		transport string
		command   string
		cmdArgs   []string
		env       map[string]string
		url       string
		headers   map[string]string
		whitelist []string
		disabled  bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a server to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("missing required flag: --name")
			}
			switch transport {
			case mcp.TransportStdio:
				if command == "" {
					return fmt.Errorf("stdio transport requires --command")
				}
			case mcp.TransportHTTP:
				if url == "" {
					return fmt.Errorf("http transport requires --url")
				}
			default:
				return fmt.Errorf("unknown transport %q (stdio or http)", transport)
			}

			err := config.EditServers(cfgFile, func(servers []mcp.ServerConfig) ([]mcp.ServerConfig, error) {
				for _, srv := range servers {
					if srv.ID == name || srv.Name == name {
						return nil, fmt.Errorf("server %q is already configured", name)
					}
				}
				return append(servers, mcp.ServerConfig{
					ID:            name,
					Name:          name,
					Transport:     transport,
					Command:       command,
					Args:          cmdArgs,
					Env:           env,
					URL:           url,
					Headers:       headers,
					ToolWhitelist: whitelist,
					Enabled:       !disabled,
				}), nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("added server %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "server name, also used as its id")
	cmd.Flags().StringVar(&transport, "transport", mcp.TransportStdio, "transport: stdio or http")
	cmd.Flags().StringVar(&command, "command", "", "command to launch (stdio)")
	cmd.Flags().StringSliceVar(&cmdArgs, "arg", nil, "command argument, repeatable (stdio)")
	cmd.Flags().StringToStringVar(&env, "env", nil, "extra environment variable KEY=VALUE (stdio)")
	cmd.Flags().StringVar(&url, "url", "", "server endpoint URL (http)")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "extra request header KEY=VALUE (http)")
	cmd.Flags().StringSliceVar(&whitelist, "allow-tool", nil, "tool name or glob to admit, repeatable; empty admits all")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the server without enabling it")
	return cmd
}

func serversRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <server-id>",
		Short: "Remove a server from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := config.EditServers(cfgFile, func(servers []mcp.ServerConfig) ([]mcp.ServerConfig, error) {
				kept := servers[:0]
				found := false
				for _, srv := range servers {
					if srv.ID == args[0] || (srv.ID == "" && srv.Name == args[0]) {
						found = true
						continue
					}
					kept = append(kept, srv)
				}
				if !found {
					return nil, fmt.Errorf("no configured server with id %q", args[0])
				}
				return kept, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("removed server %s\n", args[0])
			return nil
		},
	}
}
