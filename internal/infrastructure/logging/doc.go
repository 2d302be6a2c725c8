// Package logging provides structured logging for Hanibi Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for a terminal, with the service name and version
// stamped on each record. Configuration comes from config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets: MQTT passwords, InfluxDB tokens and similar
// values must not appear in log fields.
package logging
