package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m.Registry)
	mf, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mf)
}

func TestObserveGateWaitOnNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObserveGateWait(10 * time.Millisecond) })
}

func TestNewLoggerDevelopmentDoesNotPanic(t *testing.T) {
	logger := NewLogger(true)
	require.NotNil(t, logger)
	logger.Sugar().Infow("test", "k", "v")
}
