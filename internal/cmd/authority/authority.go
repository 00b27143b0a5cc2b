// Package authority wires configuration parsing for the authority command.
package authority

import (
	"context"
	"flag"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/cmd"
	"github.com/datarivers-io/alohomora/internal/platform/config"
	server "github.com/datarivers-io/alohomora/internal/services/authority/app"
)

// Config holds authority command configuration. Values resolve in order:
// env defaults, optional YAML config file, then flags.
type Config struct {
	Addr         string        `env:"ALOHOMORA_AUTHORITY_ADDR" envDefault:":8088" yaml:"addr"`
	StoragePath  string        `env:"ALOHOMORA_AUTHORITY_DB" envDefault:"authority.db" yaml:"storage_path"`
	AdminKey     string        `env:"ALOHOMORA_ADMIN_KEY" yaml:"admin_key"`
	ReapInterval time.Duration `env:"ALOHOMORA_SESSION_REAP_INTERVAL" envDefault:"5m" yaml:"reap_interval"`
	ConfigFile   string        `env:"ALOHOMORA_AUTHORITY_CONFIG" yaml:"-"`
}

// ParseConfig resolves the authority configuration.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := config.LoadFile(cfg.ConfigFile, &cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The authority HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "db", cfg.StoragePath, "Path to the authority SQLite database")
	fs.StringVar(&cfg.AdminKey, "admin-key", cfg.AdminKey, "Admin key required for registration endpoints")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "How often to delete expired sessions")
	if err := cmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the authority server.
func Run(ctx context.Context, cfg Config) error {
	return cmd.RunWithTelemetry(ctx, cmd.ServiceAuthority, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			Addr:         cfg.Addr,
			StoragePath:  cfg.StoragePath,
			AdminKey:     cfg.AdminKey,
			ReapInterval: cfg.ReapInterval,
		})
	})
}
