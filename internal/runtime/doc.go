// Package runtime wires a configured queue backend, its metrics and the
// orphan recovery driver into a single-node durq instance.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg, Registerer: prometheus.DefaultRegisterer})
//	defer rt.Close()
//	rt.StartRecovery()
//	_ = rt.CheckHealth(ctx)
//	_, _ = rt.Queue().Enqueue(ctx, queue.NewMessage([]byte("hello")))
package runtime
