// Package ascension parses advancement command flags and launches the
// advancement runtime.
package ascension

import (
	"context"
	"flag"

	"github.com/mthorley/ascension/internal/advancement/app"
	entrypoint "github.com/mthorley/ascension/internal/platform/cmd"
)

// Config holds advancement command configuration.
type Config struct {
	HTTPPort    int    `env:"ASCENSION_HTTP_PORT" envDefault:"8090"`
	HealthPort  int    `env:"ASCENSION_HEALTH_PORT" envDefault:"8091"`
	DBPath      string `env:"ASCENSION_DB_PATH" envDefault:"data/advancement.db"`
	AdminSecret string `env:"ASCENSION_ADMIN_SECRET"`
	SyncFanOut  int    `env:"ASCENSION_SYNC_FAN_OUT" envDefault:"4"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The webhook and admin HTTP server port")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "The health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The advancement SQLite database path")
	fs.StringVar(&cfg.AdminSecret, "admin-secret", cfg.AdminSecret, "Shared secret guarding admin endpoints")
	fs.IntVar(&cfg.SyncFanOut, "sync-fan-out", cfg.SyncFanOut, "Maximum concurrent guild role syncs")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the advancement runtime. A concrete chat client, once one is
// built in, is injected into the runtime's Directory and Messenger here;
// until then role sync and announcements stay disabled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAdvancement, func(context.Context) error {
		return app.Run(ctx, app.RuntimeConfig{
			HTTPPort:    cfg.HTTPPort,
			HealthPort:  cfg.HealthPort,
			DBPath:      cfg.DBPath,
			AdminSecret: cfg.AdminSecret,
			SyncFanOut:  cfg.SyncFanOut,
		})
	})
}
