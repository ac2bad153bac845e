// Package httpserver exposes a single durq queue over a JSON HTTP API.
//
// Messages travel in the codec.JSON layout, with payloads base64 encoded.
// Queue errors map onto status codes: capacity exceeded is 429, invalid
// arguments and undecodable messages are 400, storage failures are 503. An
// empty take answers 204.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger, prometheus.DefaultGatherer)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
