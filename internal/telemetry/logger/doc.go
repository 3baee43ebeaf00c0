// Package logger provides structured logging for IoTMesh.
//
// It wraps the standard library log/slog:
//
//   - logger.go: Logger interface, handler selection and level control
//   - context.go: Context-aware logging with request/session IDs
//   - redact.go: Sensitive data redaction
//
// Password fields and argon2id hashes are masked before they reach the
// output, whatever the log level.
package logger
