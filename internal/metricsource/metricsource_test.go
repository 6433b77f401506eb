package metricsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_AverageOfRecordedSamples(t *testing.T) {
	m := NewInMemory()
	now := time.Now()
	m.Record("i-1", "cpu", 10, now)
	m.Record("i-1", "cpu", 30, now)

	avg, err := m.Average(context.Background(), "i-1", "cpu", 10)
	require.NoError(t, err)
	assert.Equal(t, 20.0, avg)
}

func TestInMemory_MissingMetricReturnsZero(t *testing.T) {
	m := NewInMemory()
	avg, err := m.Average(context.Background(), "i-1", "cpu", 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)
}

func TestInMemory_SamplesOutsideWindowAreExcluded(t *testing.T) {
	m := NewInMemory()
	old := time.Now().Add(-20 * time.Minute)
	m.Record("i-1", "cpu", 100, old)

	avg, err := m.Average(context.Background(), "i-1", "cpu", 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)
}

func TestInMemory_SumOfRecordedSamples(t *testing.T) {
	m := NewInMemory()
	now := time.Now()
	m.Record("i-1", "status_failed", 1, now)
	m.Record("i-1", "status_failed", 1, now)

	sum, err := m.Sum(context.Background(), "i-1", "status_failed", 10)
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum)
}
