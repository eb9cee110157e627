package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nostrswarm/conductor/internal/config"
	"github.com/nostrswarm/conductor/internal/coreerr"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func validProject(t *testing.T, dir string) {
	t.Helper()
	writeJSON(t, filepath.Join(dir, "config.json"), config.ProjectConfig{
		Whitelist: []string{"npub1operator"},
		Title:     "demo",
		ProjectID: "demo-project",
	})
	writeJSON(t, filepath.Join(dir, "agents.json"), config.AgentsFile{
		"project-planner": {Identity: "planner-identity", File: "agents/planner.json"},
	})
	writeJSON(t, filepath.Join(dir, "llms.json"), config.LLMsFile{
		Presets: map[string]config.LLMPresetSpec{
			"fast": {Provider: "anthropic", Model: "claude-sonnet-4-20250514", ContextSize: 200000, MaxTokens: 4096},
		},
		Selection: map[string]string{
			"default":      "fast",
			"orchestrator": "fast",
			"planner":      "fast",
			"executor":     "fast",
			"reviewer":     "fast",
		},
		Auth: map[string]map[string]string{
			"anthropic": {"api_key": "sk-test-key"},
		},
	})
	writeJSON(t, filepath.Join(dir, "agents", "planner.json"), config.AgentFile{
		Role:         "plans work",
		Instructions: "you are the planner",
		Tools:        []string{"read_file"},
	})
}

func TestRunStatus_ValidProjectSucceeds(t *testing.T) {
	dir := t.TempDir()
	validProject(t, dir)

	err := runStatus(context.Background(), &projectFlags{projectPath: dir})
	require.NoError(t, err)
}

func TestRunStatus_MissingConfigFailsWithConfigError(t *testing.T) {
	dir := t.TempDir()

	err := runStatus(context.Background(), &projectFlags{projectPath: dir})
	require.Error(t, err)
	require.ErrorIs(t, err, coreerr.ErrConfig)
}

func TestRunTask_FailsClosedWithoutLLMProvider(t *testing.T) {
	dir := t.TempDir()
	validProject(t, dir)

	err := runTask(context.Background(), &projectFlags{projectPath: dir}, taskSeed{
		id:    "task-1",
		title: "say hello",
	}, 5*time.Second)

	// No live LLM provider is reachable in this sandbox, so the turn will
	// fail rather than complete; runTask returns nil only once the
	// conversation reaches phase done and otherwise returns an error when
	// the wait times out, which is what happens here since nothing drives
	// phase done without a real provider. This test only exercises that seeding and routing don't
	// panic and that the command fails closed rather than hanging forever.
	require.Error(t, err)
}

func TestProjectFlags_ValidateRequiresProjectPath(t *testing.T) {
	f := &projectFlags{}
	require.Error(t, f.validate())

	f.projectPath = "/tmp/somewhere"
	require.NoError(t, f.validate())
}
