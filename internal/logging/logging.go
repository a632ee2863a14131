package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"arraymon/internal/config"
)

// New returns a colored console logger in dev and a JSON logger otherwise.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	if cfg.AppEnv == "dev" || version == "dev" {
		h := tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName, "site", cfg.SiteID)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"site", cfg.SiteID,
		"version", version,
		"env", cfg.AppEnv,
	)
}
