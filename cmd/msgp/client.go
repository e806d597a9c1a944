package main

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"msgp-chat/client"
)

// clientConfig defines the user agent's environment defaults; positional
// arguments and flags override them.
type clientConfig struct {
	User     string `envconfig:"MSGP_USER"`
	Host     string `envconfig:"MSGP_HOST" default:"localhost"`
	Port     string `envconfig:"MSGP_PORT" default:"4311"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func clientCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "client [host [port]]",
		Short: "Open an interactive chat prompt",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var config clientConfig
			if err := envconfig.Process("", &config); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if user != "" {
				config.User = user
			}
			if config.User == "" {
				return fmt.Errorf("--user is required (or set MSGP_USER)")
			}
			if len(args) > 0 {
				config.Host = args[0]
			}
			if len(args) > 1 {
				config.Port = args[1]
			}

			log := logs.GetLoggerFromString(config.LogLevel)
			addr := net.JoinHostPort(config.Host, config.Port)

			agent, err := client.Dial(log, config.User, addr)
			if err != nil {
				return err
			}
			defer agent.Close()
			log.Info("Connected", "user", config.User, "addr", addr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return agent.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user name to chat as")
	return cmd
}
