package verdict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlens-server-go/internal/domain/chart"
)

func TestFromResult(t *testing.T) {
	accepted := FromResult(chart.Result{Accepted: true, Score: 100, Checks: chart.Checks{HasCandles: true}})
	assert.Equal(t, OutcomeAccepted, accepted.Outcome)
	assert.Equal(t, 100, accepted.Score)
	require.NotNil(t, accepted.Checks)
	assert.True(t, accepted.Checks.HasCandles)
	require.NotNil(t, accepted.Metrics)

	rejected := FromResult(chart.Result{Score: 30, Reason: chart.RejectReason})
	assert.Equal(t, OutcomeBelowThreshold, rejected.Outcome)
	assert.False(t, rejected.Accepted)
	assert.Equal(t, chart.RejectReason, rejected.Reason)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.False(t, Verdict{}.Expired(now))
	assert.True(t, Verdict{ExpiresAt: &past}.Expired(now))
	assert.False(t, Verdict{ExpiresAt: &future}.Expired(now))
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		v    Verdict
		want bool
	}{
		{Verdict{Digest: "d", Outcome: OutcomeAccepted}, true},
		{Verdict{Digest: "d", Outcome: OutcomeBelowThreshold}, true},
		{Verdict{Digest: "d", Outcome: OutcomeDecodeFailure}, false},
		{Verdict{Digest: "d", Outcome: OutcomeDegenerateInput}, false},
		{Verdict{Outcome: OutcomeAccepted}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.Cacheable(), "%+v", tt.v)
	}
}
