package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"msgp-chat/infrastructure/rest"
	"msgp-chat/infrastructure/tcp"
	"msgp-chat/internal"
	"msgp-chat/moderation"
	"msgp-chat/runtime"
	"msgp-chat/runtime/workers"
	"msgp-chat/services"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server (TCP protocol + REST façade)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

// runServe initializes all components and manages the server lifecycle.
// Initialization is kept out of main so deferred cleanup runs before the
// process exits and the wiring stays testable.
func runServe(cmd *cobra.Command) error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Moderation (optional)
	var moderator *moderation.Moderator
	if words := config.Words(); len(words) > 0 {
		replacement, err := internal.CharacterRune(config.CharReplacement)
		if err != nil {
			return err
		}
		moderator, err = moderation.NewModerator(words, replacement, log)
		if err != nil {
			return fmt.Errorf("moderation setup: %w", err)
		}
	}

	// 3. Core engine
	registry := runtime.NewRegistry(log, runtime.Policy{
		RetainEmptyGroups: config.RetainEmptyGroups,
		TrackUserHistory:  config.TrackUserHistory,
	})
	router := runtime.NewRouter(log, registry)
	service := services.NewChatService(log, registry, router, moderator)

	// 4. Transports & supervision
	chatServer := tcp.NewServer(log,
		fmt.Sprintf("%s:%d", config.Host, config.Port),
		service, config.ConnectionBufferSize, config.DeliveryTimeout)
	restServer := rest.NewServer(log,
		fmt.Sprintf("%s:%d", config.Host, config.RestPort),
		rest.NewHandler(log, service))
	monitor := workers.NewHealthMonitoringWorker(log, config.MetricInterval)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	supervisor.Add(chatServer, restServer, monitor)

	// 5. Blocks until the context is canceled and every worker returned.
	supervisor.Run(ctx)
	log.Info("Program stopped cleanly")
	return nil
}
