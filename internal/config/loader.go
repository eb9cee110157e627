package config

import (
	"fmt"
	"os"
	"path/filepath"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// readJSON5File loads path with json5's permissive parser (comments, trailing
// commas, unquoted keys) into v. Grounded on the teacher's loader.go
// parseRawBytes: conductor's three mandated files are never $include trees,
// so the recursive merge machinery there is not needed — a single permissive
// decode is the whole of it.
func readJSON5File(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// readAgentFiles loads every agents/<slug>.json file referenced by an
// AgentsEntry.File, keyed by slug.
func readAgentFiles(projectPath string, agents AgentsFile) (map[string]AgentFile, error) {
	out := make(map[string]AgentFile, len(agents))
	for slug, entry := range agents {
		if entry.File == "" {
			continue
		}
		var af AgentFile
		if err := readJSON5File(filepath.Join(projectPath, entry.File), &af); err != nil {
			return nil, err
		}
		out[slug] = af
	}
	return out, nil
}

// readProfile loads an optional ~/.conductor/profiles/<name>.yaml overlay.
// Grounded on the teacher's internal/profile package and --profile flag: a
// small YAML file of process-wide defaults, read with gopkg.in/yaml.v3 rather
// than json5 since it is hand-edited by operators, not machine-generated.
func readProfile(name string) (Profile, error) {
	var profile Profile
	if name == "" {
		return profile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return profile, fmt.Errorf("config: resolve home directory for profile %q: %w", name, err)
	}
	path := filepath.Join(home, ".conductor", "profiles", name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("config: read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	return profile, nil
}
