package memory_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yungbote/recall-backend/internal/modules/memory"
)

func TestPriority_WeightedBlend(t *testing.T) {
	got := memory.Priority(memory.Metrics{
		Novelty:     0.8,
		Excitement:  0.5,
		Helpfulness: 0.6,
		Centrality:  0.2,
		Sentiment:   -3,
	})
	assert.InDelta(t, 0.83, got, 1e-9)
}

func TestPriority_SentimentMagnitudeOnly(t *testing.T) {
	pos := memory.Priority(memory.Metrics{Sentiment: 4})
	neg := memory.Priority(memory.Metrics{Sentiment: -4})
	assert.InDelta(t, pos, neg, 1e-12)
	assert.InDelta(t, 0.4, pos, 1e-12)
}

func TestCentrality(t *testing.T) {
	assert.Equal(t, 0.0, memory.Centrality(nil))
	assert.InDelta(t, 0.2, memory.Centrality([]int{1, 3}), 1e-12)
	assert.Equal(t, 1.0, memory.Centrality([]int{30, 40}))
}

func TestNovelty(t *testing.T) {
	assert.Equal(t, 1.0, memory.Novelty(0, false, nil), "empty pool")
	assert.Equal(t, 1.0, memory.Novelty(0.9, true, errors.New("boom")), "query failure")
	assert.InDelta(t, 0.25, memory.Novelty(0.75, true, nil), 1e-12)
	assert.Equal(t, 0.0, memory.Novelty(1.0000001, true, nil))
	assert.Equal(t, 1.0, memory.Novelty(-0.2, true, nil))
}
