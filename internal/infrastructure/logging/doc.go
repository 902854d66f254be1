// Package logging provides structured logging for Transponder.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version, host). Components derive child loggers:
//
//	logger := logging.New(cfg.Logging, version, cfg.Host.Name)
//	mqttLog := logger.Component("mqtt")
//	mqttLog.Info("connected", "broker", url)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log station PINs or the JWT secret.
package logging
