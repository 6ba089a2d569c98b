package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/config"
)

// ModelsFile is the optional YAML model configuration:
//
//	providers:
//	  - name: openrouter
//	    models:
//	      - name: meta-llama/llama-3.3-70b-instruct:free
//	        per_minute: 10
//	        per_day: 1000
type ModelsFile struct {
	Providers []struct {
		Name   string `yaml:"name"`
		Models []struct {
			Name      string `yaml:"name"`
			PerMinute int    `yaml:"per_minute"`
			PerDay    int    `yaml:"per_day"`
		} `yaml:"models"`
	} `yaml:"providers"`
}

// LoadModelsFile reads and parses the YAML file at path. An empty path
// returns nil without error.
func LoadModelsFile(path string) (*ModelsFile, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=registry.models_file: %w", err)
	}
	var mf ModelsFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("op=registry.models_file: %w", err)
	}
	return &mf, nil
}

// ModelNames returns the model names configured for a provider.
func (f *ModelsFile) ModelNames(providerID string) []string {
	for _, p := range f.Providers {
		if strings.EqualFold(p.Name, providerID) {
			names := make([]string, 0, len(p.Models))
			for _, m := range p.Models {
				names = append(names, m.Name)
			}
			return names
		}
	}
	return nil
}

// Limits returns file-level limits for one (provider, model), if set.
func (f *ModelsFile) Limits(providerID, modelName string) (config.ModelLimits, bool) {
	for _, p := range f.Providers {
		if !strings.EqualFold(p.Name, providerID) {
			continue
		}
		for _, m := range p.Models {
			if strings.EqualFold(m.Name, modelName) && m.PerMinute > 0 && m.PerDay > 0 {
				return config.ModelLimits{PerMinute: m.PerMinute, PerDay: m.PerDay}, true
			}
		}
	}
	return config.ModelLimits{}, false
}
