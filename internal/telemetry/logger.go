// Package telemetry provides the structured logger, tracer, and
// Prometheus metrics shared across components. Per the design directive
// against a global logger singleton, NewLogger returns a *zap.Logger
// that callers inject into their constructors; nothing here is
// package-level mutable state.
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger appropriate for env ("production" gets
// JSON output; anything else gets a colorized development encoder).
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}
