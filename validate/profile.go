package validate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// CheckSpec is one profile entry. Required comes from the profile alone;
// checks cannot weaken it.
type CheckSpec struct {
	ID       string                 `yaml:"id" json:"id"`
	Required bool                   `yaml:"required" json:"required"`
	Config   map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// Profile describes how applications generated from one template are
// installed, started and checked.
type Profile struct {
	InstallCommand []string    `yaml:"installCommand" json:"installCommand"`
	StartCommand   []string    `yaml:"startCommand" json:"startCommand"`
	DependencyDir  string      `yaml:"dependencyDir" json:"dependencyDir"`
	Checks         []CheckSpec `yaml:"checks" json:"checks"`
}

func builtinProfiles() map[string]Profile {
	strictHealth := map[string]interface{}{
		"path":         "/health",
		"expectStatus": 200,
		"expectJson": map[string]interface{}{
			"status":       "ok",
			"requiredKeys": []interface{}{"status", "uptimeSeconds", "timestamp"},
			"types": map[string]interface{}{
				"status":        "string",
				"uptimeSeconds": "number",
				"timestamp":     "string",
			},
		},
	}
	return map[string]Profile{
		"node-express": {
			InstallCommand: []string{"npm", "install"},
			StartCommand:   []string{"npm", "start"},
			DependencyDir:  "node_modules",
			Checks: []CheckSpec{
				{ID: "boot", Required: true},
				{ID: "health", Required: true, Config: strictHealth},
				{ID: "endpoints", Required: true, Config: map[string]interface{}{
					"endpoints": []interface{}{
						map[string]interface{}{"method": "GET", "path": "/", "expectStatus": 200},
					},
				}},
				{ID: "schema", Required: false, Config: map[string]interface{}{
					"candidates": []interface{}{"openapi.json", "openapi.yaml", "schema.json"},
				}},
			},
		},
		"node-api": {
			InstallCommand: []string{"npm", "install"},
			StartCommand:   []string{"npm", "start"},
			DependencyDir:  "node_modules",
			Checks: []CheckSpec{
				{ID: "boot", Required: true},
				{ID: "health", Required: true, Config: strictHealth},
				{ID: "schema", Required: true, Config: map[string]interface{}{
					"candidates": []interface{}{"openapi.json", "openapi.yaml"},
				}},
			},
		},
	}
}

// MinimalProfile is the fallback for unknown templates: boot and health
// only, both required, lenient health.
func MinimalProfile() Profile {
	return Profile{
		InstallCommand: []string{"npm", "install"},
		StartCommand:   []string{"npm", "start"},
		DependencyDir:  "node_modules",
		Checks: []CheckSpec{
			{ID: "boot", Required: true},
			{ID: "health", Required: true},
		},
	}
}

// Profiles resolves template names to profiles, with optional YAML overrides
// layered over the built-ins.
type Profiles struct {
	byTemplate map[string]Profile
}

// LoadProfiles builds the profile table. When path is non-empty it must be a
// YAML mapping of template name to profile; entries replace same-named
// built-ins wholesale.
func LoadProfiles(path string) (*Profiles, error) {
	table := builtinProfiles()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("profiles file: %w", err)
		}
		var overrides map[string]Profile
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("profiles file: %w", err)
		}
		for name, p := range overrides {
			for i := range p.Checks {
				p.Checks[i].Config = normalizeYAML(p.Checks[i].Config).(map[string]interface{})
			}
			table[name] = p
		}
	}
	return &Profiles{byTemplate: table}, nil
}

// For returns the profile for a template, falling back to MinimalProfile
// for templates nothing knows about.
func (p *Profiles) For(template string) (Profile, bool) {
	profile, ok := p.byTemplate[template]
	if !ok {
		return MinimalProfile(), false
	}
	return profile, true
}

// normalizeYAML rewrites yaml.v2's map[interface{}]interface{} values into
// map[string]interface{} so check configs look the same whether they came
// from YAML or from the built-in table.
func normalizeYAML(v interface{}) interface{} {
	switch value := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[k] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
