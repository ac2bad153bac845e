// Package serverrun exposes the Run entrypoint and the `server` command used
// by the CLI to start a durq server, handling lifecycle and shutdown.
//
// Configuration is layered: .env files, then the config file or defaults,
// then DURQ_* variables, then explicitly set flags.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
