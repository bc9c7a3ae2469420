// Package logger provides structured logging for jalsync.
//
// It wraps log/slog:
//
//   - logger.go: handler setup, the process-wide level and the Logger interface
//   - context.go: loggers and request or session ids carried in a context
//   - redact.go: masking of credentials before they reach the output
//
// Components below the server take a *slog.Logger; Logger.Slog exposes the
// configured one.
package logger
