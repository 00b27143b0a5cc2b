// Package replica wires configuration parsing for the replica command.
package replica

import (
	"context"
	"flag"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/cmd"
	"github.com/datarivers-io/alohomora/internal/platform/config"
	server "github.com/datarivers-io/alohomora/internal/services/replica/app"
)

// Config holds replica command configuration. Values resolve in order: env
// defaults, optional YAML config file, then flags.
type Config struct {
	Addr         string        `env:"ALOHOMORA_REPLICA_ADDR" envDefault:":8089" yaml:"addr"`
	StoragePath  string        `env:"ALOHOMORA_REPLICA_DB" envDefault:"replica.db" yaml:"storage_path"`
	AuthorityURL string        `env:"ALOHOMORA_AUTHORITY_URL" envDefault:"http://localhost:8088" yaml:"authority_url"`
	GroupID      string        `env:"ALOHOMORA_REPLICA_GROUP_ID" yaml:"group_id"`
	ReplicaID    string        `env:"ALOHOMORA_REPLICA_ID" envDefault:"replica-1" yaml:"replica_id"`
	SyncInterval time.Duration `env:"ALOHOMORA_SYNC_INTERVAL" envDefault:"30s" yaml:"sync_interval"`
	ConfigFile   string        `env:"ALOHOMORA_REPLICA_CONFIG" yaml:"-"`
}

// ParseConfig resolves the replica configuration.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := config.LoadFile(cfg.ConfigFile, &cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The replica HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "db", cfg.StoragePath, "Path to the replica SQLite database")
	fs.StringVar(&cfg.AuthorityURL, "authority-url", cfg.AuthorityURL, "Base URL of the authority to sync from")
	fs.StringVar(&cfg.GroupID, "group-id", cfg.GroupID, "Group whose records this replica mirrors")
	fs.StringVar(&cfg.ReplicaID, "replica-id", cfg.ReplicaID, "Identifier reported on sync pulls")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "How often to pull deltas from the authority")
	if err := cmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the replica server.
func Run(ctx context.Context, cfg Config) error {
	return cmd.RunWithTelemetry(ctx, cmd.ServiceReplica, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			Addr:         cfg.Addr,
			StoragePath:  cfg.StoragePath,
			AuthorityURL: cfg.AuthorityURL,
			GroupID:      cfg.GroupID,
			ReplicaID:    cfg.ReplicaID,
			SyncInterval: cfg.SyncInterval,
		})
	})
}
