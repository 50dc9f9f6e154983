package metrics

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestRegistryText(t *testing.T) {
	r := New("worker", "test-manager")
	r.IncRequests()
	r.IncRequests()
	r.IncHits()
	r.IncMisses()
	r.IncAdditions()
	r.IncRemovals()
	r.SetSize(0)

	text, err := r.Text()
	assert.NoError(t, err)

	assert.True(t, strings.Contains(text, `serverless_manager_pool_requests_total{manager="test-manager",resource_type="worker"} 2`))
	assert.True(t, strings.Contains(text, `serverless_manager_pool_hits_total{manager="test-manager",resource_type="worker"} 1`))
	assert.True(t, strings.Contains(text, `serverless_manager_pool_misses_total{manager="test-manager",resource_type="worker"} 1`))
	assert.True(t, strings.Contains(text, `serverless_manager_pool_size{manager="test-manager",resource_type="worker"} 0`))
	assert.True(t, strings.Contains(text, "# HELP serverless_manager_pool_requests_total"))
	assert.True(t, strings.Contains(text, "# TYPE serverless_manager_pool_requests_total counter"))
}
