// Package grpcserver serves the queue over gRPC.
//
// The service is registered from a hand-written ServiceDesc and carries the
// same JSON documents as the HTTP API through the "json" codec, so clients
// call it with grpc.CallContentSubtype(CodecName). Queue errors map onto
// status codes: capacity is ResourceExhausted, invalid arguments and
// undecodable messages are InvalidArgument, storage failures are Unavailable.
// The standard grpc.health.v1 service reports runtime health.
package grpcserver
