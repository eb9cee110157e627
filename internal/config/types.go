// Package config implements ConfigService (SPEC_FULL.md §4.12): loading,
// validating, and watching the three mandated JSON configuration files
// (spec.md §6), plus an optional YAML profile overlay.
//
// Grounded on the teacher's internal/config package: LoadRaw's permissive
// json5 parsing (loader.go), the validate-on-load pattern scattered across
// config_*.go, and the fsnotify watch wired into config_server.go. conductor
// has only three owned files and one optional overlay, so the teacher's
// many config_<concern>.go files collapse into three: types.go (shapes),
// loader.go (parse), service.go (load/validate/watch/resolve).
package config

// ProjectConfig is config.json.
type ProjectConfig struct {
	Whitelist   []string `json:"whitelist"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	RepoURL     string   `json:"repo_url"`
	ProjectID   string   `json:"project_id"`
}

// AgentsEntry is one value in agents.json's slug map.
type AgentsEntry struct {
	Identity     string `json:"identity"`
	File         string `json:"file,omitempty"`
	Orchestrator bool   `json:"orchestrator,omitempty"`
	EventID      string `json:"event_id,omitempty"`
}

// AgentsFile is agents.json: slug -> AgentsEntry.
type AgentsFile map[string]AgentsEntry

// LLMPresetSpec is one entry in llms.json's presets map.
type LLMPresetSpec struct {
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	ContextSize int    `json:"context_size"`
	MaxTokens   int    `json:"max_tokens"`
}

// LLMsFile is llms.json.
type LLMsFile struct {
	Presets   map[string]LLMPresetSpec    `json:"presets"`
	Selection map[string]string           `json:"selection"`
	Auth      map[string]map[string]string `json:"auth"`
}

// AgentFile is agents/<slug>.json. Instructions is always empty for
// built-ins (spec.md §6: "omitted for built-ins — always sourced from code").
type AgentFile struct {
	Role         string   `json:"role"`
	Description  string   `json:"description"`
	Instructions string   `json:"instructions"`
	Tools        []string `json:"tools,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	LLM          string   `json:"llm,omitempty"`
}

// Profile is the optional ~/.conductor/profiles/<name>.yaml overlay
// (SPEC_FULL.md §4.12): process-wide defaults selected before the three
// mandated JSON files are loaded. Not itself one of those files.
type Profile struct {
	DefaultRelays []string `yaml:"default_relays"`
	Debug         bool     `yaml:"debug"`
}
