// Package logx wraps zerolog behind a small structured-logging API.
//
// It exposes a Logger value type plus a Service that owns sink wiring
// (console, file, Telegram ops chat) and can swap outputs at runtime on
// config reload without invalidating existing Logger values.
package logx
