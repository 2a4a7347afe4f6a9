// Package logging provides structured logging for the HomematicIP bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape:
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("hmip-events").Info("connected", "url", wsURL)
//
// Never log the HomematicIP auth token or client auth hash.
package logging
