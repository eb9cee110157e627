package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nostrswarm/conductor/internal/conductor"
)

func buildStatusCmd() *cobra.Command {
	flags := &projectFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Validate project configuration and print a registry summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			return runStatus(cmd.Context(), flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runStatus(ctx context.Context, flags *projectFlags) error {
	rt, err := conductor.New(ctx, conductor.Options{
		ProjectPath: flags.projectPath,
		Profile:     flags.profile,
		Relays:      flags.relays,
		Logger:      slog.Default(),
		Registerer:  prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Stop(context.Background()) }()

	project := rt.Config.Project()
	fmt.Printf("project: %s (%s)\n", project.Title, project.ProjectID)
	fmt.Printf("whitelist: %d pubkey(s)\n", len(project.Whitelist))

	agents := rt.Registry.All()
	fmt.Printf("agents: %d registered\n", len(agents))
	for _, a := range agents {
		role := "member"
		if a.IsOrchestrator {
			role = "orchestrator"
		}
		builtin := ""
		if a.IsBuiltIn {
			builtin = " (built-in)"
		}
		fmt.Printf("  - %s [%s]%s: %s\n", a.Slug, role, builtin, a.Role)
	}

	fmt.Println("config: ok")
	return nil
}
