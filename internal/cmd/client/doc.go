// Package client provides the `durq` command-line client.
//
// The queue commands talk to a running server over its HTTP API, or over
// gRPC when the server URL has the grpc:// scheme. The bench
// command opens a backend in-process and needs no server.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads DURQ_HTTP and
// defaults to http://127.0.0.1:8080. Every queue command also accepts
// --server, e.g. --server grpc://127.0.0.1:7070.
//
// Usage
//
//	durq queue enqueue --data '{"hello":"world"}'
//	durq queue take --pretty
//	durq queue take | durq queue finish --message -
//	durq queue take | durq queue requeue --message - --silent
//	durq queue orphans --threshold 30s
//	durq queue recover
//	durq queue stats
//
//	durq bench --backend pebble --producers 8 --messages 10000 --consumers 8
//
// Notes
//
//   - take prints the message in the API layout (payload base64). Pass that
//     line unchanged to finish or requeue; --pretty decodes the payload for
//     reading but cannot be fed back.
//   - requeue increments the requeue count unless --silent is given.
package client
