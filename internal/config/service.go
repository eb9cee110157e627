package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/internal/llm"
	"github.com/nostrswarm/conductor/internal/registry"
	"github.com/nostrswarm/conductor/internal/turn"
)

// agentRepublisher is the subset of *registry.Registry ConfigService's
// watcher needs, declared locally so config does not import registry's
// concrete type into its public surface any more than necessary.
type agentRepublisher interface {
	LoadProjectAgents(ctx context.Context, defs []registry.ProjectAgentDef) error
	RepublishProfiles(ctx context.Context) error
}

// Service is ConfigService (spec.md §6, SPEC_FULL.md §4.12): loads and
// validates the three mandated JSON files, resolves llms.json presets to
// llm.Provider instances, and watches agents/ for changes.
//
// Grounded on the teacher's internal/config package as a whole: LoadRaw's
// permissive parsing, the validate-on-load pattern spread across
// config_*.go, and config_server.go's fsnotify wiring. Collapsed to one
// struct because conductor owns exactly three files plus one optional
// overlay, versus the teacher's much larger multi-tenant config surface.
type Service struct {
	mu sync.RWMutex

	projectPath string
	logger      *slog.Logger

	project ProjectConfig
	agents  AgentsFile
	llms    LLMsFile
	files   map[string]AgentFile
	profile Profile

	presets map[string]turn.Preset

	watcher *fsnotify.Watcher
}

// Load reads config.json, agents.json, llms.json, and any agents/<slug>.json
// files they reference under projectPath, after reading profileName's overlay
// (if non-empty). The overlay is kept as is and exposed through Profile(); it
// is not merged into the project files. Returns a config_error-wrapped error
// on any validation failure.
func Load(ctx context.Context, projectPath, profileName string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	profile, err := readProfile(profileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", coreerr.ErrConfig, err)
	}

	s := &Service{projectPath: projectPath, logger: logger, profile: profile}

	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// reload re-reads all three mandated files and rebuilds derived state
// (presets). Called by Load and by the fsnotify watch loop.
func (s *Service) reload(ctx context.Context) error {
	var project ProjectConfig
	if err := readJSON5File(filepath.Join(s.projectPath, "config.json"), &project); err != nil {
		return fmt.Errorf("%w: %s", coreerr.ErrConfig, err)
	}

	agents := AgentsFile{}
	if err := readJSON5File(filepath.Join(s.projectPath, "agents.json"), &agents); err != nil {
		return fmt.Errorf("%w: %s", coreerr.ErrConfig, err)
	}

	var llms LLMsFile
	if err := readJSON5File(filepath.Join(s.projectPath, "llms.json"), &llms); err != nil {
		return fmt.Errorf("%w: %s", coreerr.ErrConfig, err)
	}

	files, err := readAgentFiles(s.projectPath, agents)
	if err != nil {
		return fmt.Errorf("%w: %s", coreerr.ErrConfig, err)
	}

	if err := validate(project, agents, llms); err != nil {
		return err
	}

	presets, err := buildPresets(ctx, llms)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.project = project
	s.agents = agents
	s.llms = llms
	s.files = files
	s.presets = presets
	s.mu.Unlock()

	s.logger.Info("config reloaded", "project_id", project.ProjectID, "agents", len(agents), "presets", len(presets))
	return nil
}

// validate enforces the config_error conditions named in spec.md §7:
// missing whitelist, llms.json selections referencing unknown presets, and
// duplicate agent identities. True duplicate JSON *keys* in agents.json
// cannot be observed once decoded into a Go map (the later key silently
// wins), so "duplicate agent slugs" is validated here as duplicate identity
// values across distinct slugs — the decodable equivalent of the same
// mistake (see DESIGN.md).
func validate(project ProjectConfig, agents AgentsFile, llms LLMsFile) error {
	if len(project.Whitelist) == 0 {
		return fmt.Errorf("%w: config.json whitelist must not be empty", coreerr.ErrConfig)
	}

	seenIdentity := make(map[string]string, len(agents))
	for slug, entry := range agents {
		if entry.Identity == "" {
			continue
		}
		if other, ok := seenIdentity[entry.Identity]; ok {
			return fmt.Errorf("%w: agents.json slugs %q and %q share identity %q", coreerr.ErrConfig, other, slug, entry.Identity)
		}
		seenIdentity[entry.Identity] = slug
	}

	for slug, preset := range llms.Selection {
		if _, ok := llms.Presets[preset]; !ok {
			return fmt.Errorf("%w: llms.json selection %q references unknown preset %q", coreerr.ErrConfig, slug, preset)
		}
	}

	return nil
}

// buildPresets resolves every llms.json preset to a live llm.Provider,
// keyed by preset name (not provider name — two presets may share a
// provider with different models or context budgets).
func buildPresets(ctx context.Context, llms LLMsFile) (map[string]turn.Preset, error) {
	out := make(map[string]turn.Preset, len(llms.Presets))
	for name, spec := range llms.Presets {
		provider, err := buildProvider(ctx, spec.Provider, llms.Auth[spec.Provider], spec.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: preset %q: %s", coreerr.ErrConfig, name, err)
		}
		out[name] = turn.Preset{
			Provider:    provider,
			Model:       spec.Model,
			ContextSize: spec.ContextSize,
			MaxTokens:   spec.MaxTokens,
		}
	}
	return out, nil
}

// buildProvider constructs the llm.Provider named by providerName, reading
// its credentials from llms.json's auth block.
func buildProvider(ctx context.Context, providerName string, auth map[string]string, defaultModel string) (llm.Provider, error) {
	switch providerName {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       auth["api_key"],
			BaseURL:      auth["base_url"],
			DefaultModel: defaultModel,
		})
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       auth["api_key"],
			BaseURL:      auth["base_url"],
			DefaultModel: defaultModel,
		})
	case "bedrock":
		return llm.NewBedrockProvider(ctx, llm.BedrockConfig{
			Region:       auth["region"],
			DefaultModel: defaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", providerName)
	}
}

// ResolvePreset implements turn.PresetResolver. name is looked up first as an
// llms.json preset name, then as an llms.json selection key (an agent slug),
// falling back to the "default" selection entry.
func (s *Service) ResolvePreset(name string) (turn.Preset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.presets[name]; ok {
		return p, true
	}
	sel, found := s.llms.Selection[name]
	if !found {
		sel, found = s.llms.Selection["default"]
	}
	if !found {
		return turn.Preset{}, false
	}
	p, ok := s.presets[sel]
	return p, ok
}

// Project returns the loaded config.json contents.
func (s *Service) Project() ProjectConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

// Profile returns the process-wide defaults seeded by --profile, the zero
// value if none was given.
func (s *Service) Profile() Profile {
	return s.profile
}

// ProjectAgentDefs converts agents.json plus each referenced
// agents/<slug>.json into registry.ProjectAgentDef values ready for
// Registry.Bootstrap, resolving each agent's LLM preset from llms.json's
// selection map (falling back to selection["default"]).
func (s *Service) ProjectAgentDefs() []registry.ProjectAgentDef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defaultPreset := s.llms.Selection["default"]

	defs := make([]registry.ProjectAgentDef, 0, len(s.agents))
	for slug, entry := range s.agents {
		if entry.File == "" {
			// Built-in agent referenced only for identity/orchestrator
			// metadata; its definition comes from code, not disk.
			continue
		}
		af := s.files[slug]

		preset, ok := s.llms.Selection[slug]
		if !ok {
			preset = defaultPreset
		}
		if af.LLM != "" {
			preset = af.LLM
		}

		defs = append(defs, registry.ProjectAgentDef{
			Slug:          slug,
			Name:          entry.Identity,
			Role:          af.Role,
			Instructions:  af.Instructions,
			ToolAllowList: af.Tools,
			LLMPreset:     preset,
		})
	}
	return defs
}

// Watch starts an fsnotify watch on agents.json and the agents/ directory,
// reloading and calling reg.RepublishProfiles on every change (spec.md §6).
// The watch loop runs until ctx is cancelled or Close is called.
func (s *Service) Watch(ctx context.Context, reg agentRepublisher) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: start agents watcher: %s", coreerr.ErrConfig, err)
	}
	s.watcher = watcher

	if err := watcher.Add(filepath.Join(s.projectPath, "agents.json")); err != nil {
		return fmt.Errorf("%w: watch agents.json: %s", coreerr.ErrConfig, err)
	}
	agentsDir := filepath.Join(s.projectPath, "agents")
	if err := watcher.Add(agentsDir); err != nil {
		s.logger.Warn("agents directory not watchable, built-in-only project", "dir", agentsDir, "error", err)
	}

	go s.watchLoop(ctx, reg)
	return nil
}

func (s *Service) watchLoop(ctx context.Context, reg agentRepublisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(ctx); err != nil {
				s.logger.Error("config reload failed after file change", "path", event.Name, "error", err)
				continue
			}
			if err := reg.LoadProjectAgents(ctx, s.ProjectAgentDefs()); err != nil {
				s.logger.Error("reload project agents failed", "error", err)
				continue
			}
			if err := reg.RepublishProfiles(ctx); err != nil {
				s.logger.Error("republish agent profiles failed", "error", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("agents watcher error", "error", err)
		}
	}
}

// Close stops the file watcher, if one was started.
func (s *Service) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}
