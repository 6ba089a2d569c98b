package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/config"
)

// SetupLogger configures a JSON slog logger with environment fields.
// Provider credentials must never be logged; nothing in this package or its
// callers puts them in log fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
