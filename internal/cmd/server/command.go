package serverrun

import (
	"fmt"

	cfgpkg "github.com/rzbill/durq/internal/config"
	"github.com/spf13/cobra"
)

// LoadConfig builds the server configuration: .env files, then the config
// file (or defaults), then DURQ_* variables.
func LoadConfig(path string, envFiles []string) (cfgpkg.Config, error) {
	if err := cfgpkg.LoadDotEnv(envFiles...); err != nil {
		return cfgpkg.Config{}, fmt.Errorf("load env files: %w", err)
	}
	cfg := cfgpkg.Default()
	if path != "" {
		loaded, err := cfgpkg.Load(path)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = loaded
	}
	cfgpkg.FromEnv(&cfg)
	return cfg, nil
}

// applyFlags overrides cfg with the flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *cfgpkg.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	integer := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	str("backend", &cfg.Backend)
	str("data-dir", &cfg.DataDir)
	str("queue", &cfg.Queue.Name)
	str("http", &cfg.HTTP.Addr)
	str("grpc", &cfg.GRPC.Addr)
	str("fsync", &cfg.Storage.Fsync)
	integer("fsync-interval-ms", &cfg.Storage.FsyncIntervalMs)
	integer("ephemeral-max", &cfg.Queue.EphemeralMaxSize)
	integer("rate-limit", &cfg.HTTP.RateLimit)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	if f.Changed("no-ephemeral") {
		cfg.Queue.EphemeralDisabled, _ = f.GetBool("no-ephemeral")
	}
	if f.Changed("no-recovery") {
		off, _ := f.GetBool("no-recovery")
		cfg.Recovery.Enabled = !off
	}
}

// NewCommand constructs the `server` command group.
func NewCommand() *cobra.Command {
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	startCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the durq server (HTTP and gRPC APIs, orphan recovery)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			envFiles, _ := cmd.Flags().GetStringSlice("env-file")
			cfg, err := LoadConfig(path, envFiles)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)
			if err := Run(cmd.Context(), Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := startCmd.Flags()
	f.String("config", "", "Config file (JSON or YAML)")
	f.StringSlice("env-file", nil, "Env files to load before reading DURQ_* variables (default .env if present)")
	f.String("backend", cfgpkg.BackendPebble, "Backend: pebble|bolt|memory|sql|redis")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("queue", "default", "Queue name")
	f.String("http", ":8080", "HTTP listen address")
	f.String("grpc", "", "gRPC listen address (empty disables gRPC)")
	f.String("fsync", "always", "Fsync mode: always|interval|never")
	f.Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	f.Int("ephemeral-max", 0, "Maximum in-flight messages (0 = unbounded)")
	f.Bool("no-ephemeral", false, "Disable in-flight tracking")
	f.Bool("no-recovery", false, "Disable the orphan recovery driver")
	f.Int("rate-limit", 6000, "Requests per minute per client IP (0 = unlimited)")
	f.String("log-level", "info", "Log level: debug|info|warn|error")
	f.String("log-format", "text", "Log format: text|json")
	serverCmd.AddCommand(startCmd)
	return serverCmd
}
