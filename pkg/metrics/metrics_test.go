package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSubmission(t *testing.T) {
	c := TrackerSubmissionsTotal.WithLabelValues("track", OutcomeDropped, "network")
	before := testutil.ToFloat64(c)

	RecordSubmission("track", OutcomeDropped, "network", 0.02)

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordRequest(t *testing.T) {
	c := RequestsTotal.WithLabelValues("POST", "/api/v1/analytics/track", "Accepted")
	before := testutil.ToFloat64(c)

	RecordRequest("POST", "/api/v1/analytics/track", "Accepted", 0.001)

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
