package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nostrswarm/conductor/internal/conductor"
	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

// taskPollInterval is how often the task command checks whether the seeded
// conversation has reached phase done.
const taskPollInterval = 200 * time.Millisecond

// DefaultTaskTimeout bounds how long `conductor task` waits for the seeded
// conversation to reach phase done before giving up.
const DefaultTaskTimeout = 10 * time.Minute

func buildTaskCmd() *cobra.Command {
	flags := &projectFlags{}
	var taskID, taskTitle, taskDescription, taskContext string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Seed a standalone conversation without a relay round-trip",
		Long:  "Routes a synthetic chat event locally through the registry and router, for tests and one-shot invocations that don't need a live relay.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			if taskID == "" {
				return fmt.Errorf("--task-id is required")
			}
			return runTask(cmd.Context(), flags, taskSeed{
				id:          taskID,
				title:       taskTitle,
				description: taskDescription,
				context:     taskContext,
			}, timeout)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&taskID, "task-id", "", "task identifier, used as the seeded conversation's root event id")
	cmd.Flags().StringVar(&taskTitle, "task-title", "", "short task title")
	cmd.Flags().StringVar(&taskDescription, "task-description", "", "task description")
	cmd.Flags().StringVar(&taskContext, "context", "", "additional free-form context")
	cmd.Flags().DurationVar(&timeout, "timeout", DefaultTaskTimeout, "how long to wait for the conversation to reach phase done")
	return cmd
}

type taskSeed struct {
	id          string
	title       string
	description string
	context     string
}

func (t taskSeed) content() string {
	content := t.title
	if t.description != "" {
		content += "\n\n" + t.description
	}
	if t.context != "" {
		content += "\n\ncontext: " + t.context
	}
	return content
}

func runTask(ctx context.Context, flags *projectFlags, seed taskSeed, timeout time.Duration) error {
	_, pubKey, err := decodeNsec(flags.nsec)
	if err != nil {
		return err
	}
	if pubKey == "" {
		pubKey = "conductor-cli-task-seed"
	}

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

	ev := nostrcore.Event{
		ID:         seed.id,
		PubKey:     pubKey,
		Kind:       eventbus.KindChatMessage,
		Content:    seed.content(),
		CreatedAt:  time.Now(),
		ReceivedAt: time.Now(),
	}
	rt.Router.HandleEvent(ctx, ev)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		conv, ok := rt.Conversations.Get(seed.id)
		if ok && conv.Phase == nostrcore.PhaseDone {
			fmt.Printf("task %s done: %d history entries\n", seed.id, len(conv.History))
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("task %s did not reach phase done within %s", seed.id, timeout)
		case <-time.After(taskPollInterval):
		}
	}
}
