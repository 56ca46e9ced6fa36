// Package logging provides structured logging for the RFM gateway.
//
// It wraps log/slog so that every record carries the service name and
// build version, and so components can derive tagged child loggers.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("bus").Info("connected", "broker", addr)
//
// Never log the radio encryption key or broker credentials.
package logging
