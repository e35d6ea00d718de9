package logging

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a new structured logger at the given level
func NewLogger(serviceName, level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID returns a logger with request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// WithMeter returns a logger with meter_id field
func WithMeter(logger *zap.Logger, meterID string) *zap.Logger {
	return logger.With(zap.String("meter_id", meterID))
}

// WithCertificate returns a logger with certificate_id field
func WithCertificate(logger *zap.Logger, certificateID uuid.UUID) *zap.Logger {
	return logger.With(zap.Stringer("certificate_id", certificateID))
}
