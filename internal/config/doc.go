// Package config provides loading and environment overlay for durq runtime
// configuration. It exposes a Default() baseline, file loading (JSON or
// YAML), DURQ_* environment overrides and optional .env files.
//
// Example:
//
//	_ = config.LoadDotEnv()
//	cfg, err := config.Load("/etc/durq.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
package config
