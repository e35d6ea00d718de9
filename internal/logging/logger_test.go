package logging

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("certificate-issuance-worker", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	_, err = NewLogger("certificate-issuance-worker", "loud")
	assert.Error(t, err)
}

func TestContextualLoggers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)
	id := uuid.New()

	WithCertificate(WithMeter(base, "571313000000000001"), id).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "571313000000000001", fields["meter_id"])
	assert.Equal(t, id.String(), fields["certificate_id"])
}
