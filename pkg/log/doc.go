// Package log provides durq's structured logging facade.
//
// The Logger interface exposes leveled methods taking Field values plus
// printf-style variants. The implementation is backed by zap with an atomic
// level, so SetLevel on any derived logger affects its whole family.
//
//	l := log.NewLogger(log.WithLevel(log.InfoLevel), log.WithFormat("json"))
//	l = l.With(log.Component("server"))
//	l.Info("listening", log.Str("addr", ":8080"))
//
// ApplyConfig builds a logger from a declarative Config. RedirectStdLog sends
// output of the standard library logger through a Logger.
package log
