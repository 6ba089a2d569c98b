// Package registry seeds providers and models from configuration at startup.
// Re-running on restart upserts; registry changes are not hot-reloaded.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/config"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

// seedSpec is one provider with its models, resolved from config, the
// optional models file, and MODEL_CONFIG_* overrides.
type seedSpec struct {
	Provider domain.Provider
	Models   []domain.Model
}

// defaultModels lists the model names seeded per provider when no models
// file is given.
var defaultModels = map[string][]string{
	"openrouter": {
		"meta-llama/llama-3.3-70b-instruct:free",
		"qwen/qwen-2.5-72b-instruct:free",
	},
	"groq": {
		"llama-3.1-8b-instant",
	},
}

// ModelID derives the stable rate-counter key for a (provider, model) pair.
func ModelID(providerID, modelName string) string {
	return providerID + ":" + strings.ToLower(modelName)
}

// Seed upserts providers and models. At least one provider credential is
// required; the caller decides whether that is fatal.
func Seed(ctx context.Context, reg domain.RegistryStore, cfg config.Config, overrides map[string]config.ModelLimits, file *ModelsFile) error {
	specs := buildSpecs(cfg, overrides, file)
	if len(specs) == 0 {
		return fmt.Errorf("op=registry.seed: no provider credentials configured")
	}
	for _, s := range specs {
		out, err := reg.UpsertProvider(ctx, s.Provider)
		if err != nil {
			return err
		}
		slog.Info("provider seeded",
			slog.String("provider_id", s.Provider.ID),
			slog.Int("priority", s.Provider.Priority),
			slog.Bool("enabled", s.Provider.Enabled),
			slog.String("outcome", string(out)))
		for _, m := range s.Models {
			if _, err := reg.UpsertModel(ctx, m); err != nil {
				return err
			}
			slog.Info("model seeded",
				slog.String("model_id", m.ID),
				slog.Int("per_minute", m.PerMinuteLimit),
				slog.Int("per_day", m.PerDayLimit))
		}
	}
	return nil
}

func buildSpecs(cfg config.Config, overrides map[string]config.ModelLimits, file *ModelsFile) []seedSpec {
	type cred struct {
		name     string
		key      string
		priority int
	}
	creds := []cred{
		{name: cfg.PrimaryProvider, key: cfg.PrimaryAPIKey, priority: 1},
		{name: cfg.SecondaryProvider, key: cfg.SecondaryAPIKey, priority: 2},
	}
	var specs []seedSpec
	for _, c := range creds {
		if c.key == "" {
			continue
		}
		id := strings.ToLower(c.name)
		p := domain.Provider{
			ID:         id,
			Name:       c.name,
			Credential: c.key,
			Priority:   c.priority,
			Enabled:    config.ProviderEnabled(id),
		}
		var models []domain.Model
		for _, name := range modelNamesFor(id, file) {
			m := domain.Model{
				ID:             ModelID(id, name),
				ProviderID:     id,
				ModelName:      name,
				PerMinuteLimit: cfg.DefaultMinuteLimit,
				PerDayLimit:    cfg.DefaultDayLimit,
				Enabled:        true,
			}
			if fm, ok := fileLimits(id, name, file); ok {
				m.PerMinuteLimit, m.PerDayLimit = fm.PerMinute, fm.PerDay
			}
			if ov, ok := overrides[id+"/"+strings.ToLower(name)]; ok {
				m.PerMinuteLimit, m.PerDayLimit = ov.PerMinute, ov.PerDay
			}
			models = append(models, m)
		}
		specs = append(specs, seedSpec{Provider: p, Models: models})
	}
	return specs
}

func modelNamesFor(providerID string, file *ModelsFile) []string {
	if file != nil {
		if names := file.ModelNames(providerID); len(names) > 0 {
			return names
		}
	}
	return defaultModels[providerID]
}

func fileLimits(providerID, modelName string, file *ModelsFile) (config.ModelLimits, bool) {
	if file == nil {
		return config.ModelLimits{}, false
	}
	return file.Limits(providerID, modelName)
}
