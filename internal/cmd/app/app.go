// Package app wires configuration parsing for the member app command.
package app

import (
	"context"
	"flag"

	"github.com/datarivers-io/alohomora/internal/platform/cmd"
	"github.com/datarivers-io/alohomora/internal/platform/config"
	server "github.com/datarivers-io/alohomora/internal/services/app/app"
)

// Config holds member app command configuration. Values resolve in order:
// env defaults, optional YAML config file, then flags.
type Config struct {
	Addr         string `env:"ALOHOMORA_APP_ADDR" envDefault:":8090" yaml:"addr"`
	StoragePath  string `env:"ALOHOMORA_APP_DB" envDefault:"app.db" yaml:"storage_path"`
	AuthorityURL string `env:"ALOHOMORA_AUTHORITY_URL" envDefault:"http://localhost:8088" yaml:"authority_url"`
	ReplicaURL   string `env:"ALOHOMORA_REPLICA_URL" yaml:"replica_url"`
	SystemID     string `env:"ALOHOMORA_APP_SYSTEM_ID" yaml:"system_id"`
	SystemName   string `env:"ALOHOMORA_APP_SYSTEM_NAME" envDefault:"member-app" yaml:"system_name"`
	TokenSecret  string `env:"ALOHOMORA_APP_TOKEN_SECRET" yaml:"token_secret"`
	ConfigFile   string `env:"ALOHOMORA_APP_CONFIG" yaml:"-"`
}

// ParseConfig resolves the member app configuration.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := cmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := config.LoadFile(cfg.ConfigFile, &cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The app HTTP listen address")
	fs.StringVar(&cfg.StoragePath, "db", cfg.StoragePath, "Path to the app SQLite database")
	fs.StringVar(&cfg.AuthorityURL, "authority-url", cfg.AuthorityURL, "Base URL of the authority")
	fs.StringVar(&cfg.ReplicaURL, "replica-url", cfg.ReplicaURL, "Base URL of a group replica for inquiries")
	fs.StringVar(&cfg.SystemID, "system-id", cfg.SystemID, "This app's system id at the authority")
	fs.StringVar(&cfg.SystemName, "system-name", cfg.SystemName, "This app's system name at the authority")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "HMAC secret for minted tokens")
	if err := cmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the member app server.
func Run(ctx context.Context, cfg Config) error {
	return cmd.RunWithTelemetry(ctx, cmd.ServiceApp, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			Addr:         cfg.Addr,
			StoragePath:  cfg.StoragePath,
			AuthorityURL: cfg.AuthorityURL,
			ReplicaURL:   cfg.ReplicaURL,
			SystemID:     cfg.SystemID,
			SystemName:   cfg.SystemName,
			TokenSecret:  cfg.TokenSecret,
		})
	})
}
