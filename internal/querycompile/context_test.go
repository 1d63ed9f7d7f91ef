package querycompile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionContextAverageScoreOfUnrecorded(t *testing.T) {
	ctx := NewExecutionContext()
	assert.Equal(t, float32(0), ctx.AverageScore(42))
}

func TestExecutionContextRecordScoreAverages(t *testing.T) {
	ctx := NewExecutionContext()
	ctx.RecordScore(1, 0.8)
	ctx.RecordScore(1, 0.4)

	assert.InDelta(t, 0.6, ctx.AverageScore(1), 0.0001)
}

func TestExecutionContextTracksIdsIndependently(t *testing.T) {
	ctx := NewExecutionContext()
	ctx.RecordScore(1, 1.0)
	ctx.RecordScore(2, 0.5)

	assert.Equal(t, float32(1.0), ctx.AverageScore(1))
	assert.Equal(t, float32(0.5), ctx.AverageScore(2))
}
