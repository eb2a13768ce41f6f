package registry

import (
	"fmt"
)

// Source is a registry index: a YAML file, local or remote, listing the
// models that can be installed from it.
type Source struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Model is the descriptor for a downloadable model. Descriptors are immutable
// once loaded from a registry index; per-request changes go through
// Overrides.
type Model struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	SHA256      string   `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	License     string   `json:"license,omitempty" yaml:"license,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Config holds the model's default runtime configuration.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	// Overrides are merged over Config when the model is installed.
	Overrides map[string]interface{} `json:"overrides,omitempty" yaml:"overrides,omitempty"`

	// Source is a reference to the registry index the model came from.
	Source Source `json:"source,omitempty" yaml:"source,omitempty"`
}

func (m Model) ID() string {
	return fmt.Sprintf("%s@%s", m.Source.Name, m.Name)
}
