package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line so multi-instance output can be
// filtered in aggregate.
const ServiceName = "circlecast"

// NewLogger builds the process logger. instanceID identifies this gateway
// instance among horizontally scaled peers.
func NewLogger(env, level, instanceID string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.InitialFields = map[string]any{
		"service":  ServiceName,
		"instance": instanceID,
	}

	return config.Build()
}

// Component returns a child logger tagged with the component name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.Named(name)
}
