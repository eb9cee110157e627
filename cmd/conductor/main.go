// Package main provides the CLI entry point for the conductor multi-agent
// orchestrator.
//
// Conductor wires a project's agent definitions, LLM presets, and relay
// whitelist into a running Nostr-addressed multi-agent system: a
// registry of signing identities, an event bus, and a router that forms
// teams and drives each agent's turn through a phase-gated tool dispatcher.
//
// # Basic Usage
//
// Run the long-lived process:
//
//	conductor run --project-path ./myproject --nsec nsec1...
//
// Seed a standalone task without a relay round-trip:
//
//	conductor task --project-path ./myproject --task-id t1 --task-title "add retries"
//
// Check configuration and registry health:
//
//	conductor status --project-path ./myproject
//
// # Environment Variables
//
//   - PROJECTS_PATH: root for per-project state, when --project-path is omitted.
//   - DEBUG: enables debug-level logs.
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS_*/CONDUCTOR_BEDROCK_REGION: provider
//     credentials consumed by internal/llm's provider constructors.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nostrswarm/conductor/internal/coreerr"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// sysexits.h-style exit codes (spec.md §6), matching the teacher's
// convention of meaningful non-zero exit codes.
const (
	exitOK                   = 0
	exitConfigError          = 78
	exitTransportUnavailable = 69
	exitUnhandled            = 1
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFromEnv(),
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCodeFor(err))
	}
}

func levelFromEnv() slog.Level {
	if os.Getenv("DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, coreerr.ErrConfig):
		return exitConfigError
	case errors.Is(err, coreerr.ErrTransportUnavailable):
		return exitTransportUnavailable
	default:
		return exitUnhandled
	}
}

// buildRootCmd creates the root command with all subcommands attached. This
// is separated from main so tests can exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "conductor",
		Short:   "Conductor - Nostr-addressed multi-agent orchestrator",
		Long:    "Conductor forms a team of LLM-backed agents over a project's registry\nand routes Nostr events between them, gating tool use by conversation phase.",
		Version: version + " (commit: " + commit + ", built: " + date + ")",
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildTaskCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}
