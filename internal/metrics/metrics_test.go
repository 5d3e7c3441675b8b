package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetPoolSize(t *testing.T) {
	SetPoolSize(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(PoolSize))
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth("critical", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(QueueDepth.WithLabelValues("critical")))
}

func TestIncTaskOutcome(t *testing.T) {
	before := testutil.ToFloat64(TaskOutcomes.WithLabelValues("completed"))
	IncTaskOutcome("completed")
	assert.Equal(t, before+1, testutil.ToFloat64(TaskOutcomes.WithLabelValues("completed")))
}

func TestSetWSSubscribers(t *testing.T) {
	SetWSSubscribers(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(WSSubscribers))
}
