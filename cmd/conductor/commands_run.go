package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nostrswarm/conductor/internal/conductor"
)

func buildRunCmd() *cobra.Command {
	flags := &projectFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the long-lived conductor process",
		Long:  "Loads project configuration, starts the event bus, and blocks until an interrupt or terminate signal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			return runRun(cmd.Context(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runRun(ctx context.Context, flags *projectFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, _, err := decodeNsec(flags.nsec); err != nil {
		return err
	}

	rt, err := conductor.New(ctx, conductor.Options{
		ProjectPath: flags.projectPath,
		Profile:     flags.profile,
		Relays:      flags.relays,
		Logger:      slog.Default(),
		Registerer:  prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	if err := rt.Start(ctx); err != nil {
		_ = rt.Stop(context.Background())
		return err
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping runtime")
	return rt.Stop(context.Background())
}
