// Package logging provides structured logging for graycast.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	castLog := logger.With("component", "cast")
//	castLog.Info("device known", "device_id", id, "address", addr)
//
// Never log secrets, tokens or API keys. Media URLs are logged at debug
// level only since they may carry signed query strings.
package logging
