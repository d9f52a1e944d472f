// Package specialized implements the one-shot specialized-model switchboard:
// a temporary, auto-reverting override of the session's model and settings.
package specialized

import (
	"parley/internal/config"
)

// Model is one catalog entry with its capability flags. The default agent
// model is found by the Agent flag, never by name.
type Model struct {
	Name          string
	Label         string
	Agent         bool
	DeepSearch    bool
	DeepReasoning bool
	FastResponse  bool
}

// Registry holds the model catalog.
type Registry struct {
	models []Model
}

// NewRegistry creates a registry from a model list.
func NewRegistry(models []Model) *Registry {
	return &Registry{models: models}
}

// RegistryFromConfig builds the registry from configuration.
func RegistryFromConfig(cfgs []config.ModelConfig) *Registry {
	models := make([]Model, 0, len(cfgs))
	for _, c := range cfgs {
		models = append(models, Model{
			Name:          c.Name,
			Label:         c.Label,
			Agent:         c.Agent,
			DeepSearch:    c.DeepSearch,
			DeepReasoning: c.DeepReasoning,
			FastResponse:  c.FastResponse,
		})
	}
	return NewRegistry(models)
}

// DefaultAgent returns the default agent model, found by capability flag.
func (r *Registry) DefaultAgent() (Model, bool) {
	for _, m := range r.models {
		if m.Agent {
			return m, true
		}
	}
	return Model{}, false
}

// ModelFor returns the designated model for a specialized mode.
func (r *Registry) ModelFor(mode Mode) (Model, bool) {
	for _, m := range r.models {
		switch mode {
		case ModeDeepSearch:
			if m.DeepSearch {
				return m, true
			}
		case ModeDeepReasoning:
			if m.DeepReasoning {
				return m, true
			}
		case ModeFastResponse:
			if m.FastResponse {
				return m, true
			}
		}
	}
	return Model{}, false
}
