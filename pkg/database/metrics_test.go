package database

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolStatsCollector_NotNil(t *testing.T) {
	// NewPoolStatsCollector should return a non-nil collector even with nil pool.
	// (Collect will panic with nil pool, but Describe works.)
	c := NewPoolStatsCollector(nil, "test-service")
	require.NotNil(t, c)
	assert.Equal(t, "test-service", c.service)
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "test-service")

	ch := make(chan *prometheus.Desc, 20)
	c.Describe(ch)
	close(ch)

	descs := make([]*prometheus.Desc, 0, 20)
	for d := range ch {
		descs = append(descs, d)
	}

	// Should have exactly 12 metric descriptors.
	assert.Len(t, descs, 12)
}

func TestPoolStatsCollector_ImplementsCollector(t *testing.T) {
	c := NewPoolStatsCollector(nil, "test-service")

	// Verify interface compliance at compile time via type assertion.
	var _ prometheus.Collector = c
}

func TestPoolStatsCollector_DescriptorNames(t *testing.T) {
	c := NewPoolStatsCollector(nil, "test-service")

	ch := make(chan *prometheus.Desc, 20)
	c.Describe(ch)
	close(ch)

	all := ""
	for d := range ch {
		all += d.String() + "\n"
	}

	expected := []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_total_connections",
		"db_pool_max_connections",
		"db_pool_constructing_connections",
		"db_pool_acquire_count_total",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_canceled_acquire_count_total",
		"db_pool_empty_acquire_count_total",
		"db_pool_new_connections_total",
		"db_pool_max_lifetime_destroy_total",
		"db_pool_max_idle_destroy_total",
	}

	for _, name := range expected {
		assert.Contains(t, all, name)
	}
}
