package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/recall-backend/internal/modules/memory"
	"github.com/yungbote/recall-backend/internal/modules/memory/memorytest"
)

func TestParseSentiment(t *testing.T) {
	cases := map[string]int{
		"3":            3,
		" -2 ":         -2,
		"Sentiment: 4": 4,
		"-9":           -5,
		"12":           5,
		"not-a-number": 0,
		"":             0,
	}
	for raw, want := range cases {
		assert.Equal(t, want, memory.ParseSentiment(raw), "raw=%q", raw)
	}
}

func TestParseUnit(t *testing.T) {
	cases := map[string]float64{
		"0.6":          0.6,
		".25":          0.25,
		"Score: 0.9.":  0.9,
		"1.7":          1,
		"-0.3":         0,
		"not-a-number": 0,
	}
	for raw, want := range cases {
		assert.InDelta(t, want, memory.ParseUnit(raw), 1e-12, "raw=%q", raw)
	}
}

func TestParseTriples(t *testing.T) {
	t.Run("plain array", func(t *testing.T) {
		got := memory.ParseTriples(`[{"s":"Alice","p":"Works At","o":"Acme Corp"}]`)
		require.Len(t, got, 1)
		assert.Equal(t, memory.Triple{S: "Alice", P: "works_at", O: "Acme Corp"}, got[0])
	})
	t.Run("fenced", func(t *testing.T) {
		got := memory.ParseTriples("```json\n[{\"s\":\"a\",\"p\":\"knows\",\"o\":\"b\"}]\n```")
		require.Len(t, got, 1)
		assert.Equal(t, "knows", got[0].P)
	})
	t.Run("wrapped object", func(t *testing.T) {
		got := memory.ParseTriples(`{"triples":[{"s":"a","p":"likes","o":"b"}]}`)
		require.Len(t, got, 1)
	})
	t.Run("prose around array", func(t *testing.T) {
		got := memory.ParseTriples(`Here you go: [{"s":"a","p":"likes","o":"b"}] hope that helps`)
		require.Len(t, got, 1)
	})
	t.Run("drops incomplete and caps", func(t *testing.T) {
		got := memory.ParseTriples(`[
			{"s":"a","p":"r1","o":"b"},
			{"s":"","p":"r2","o":"b"},
			{"s":"c","p":"r3","o":"d"},
			{"s":"e","p":"r4","o":"f"},
			{"s":"g","p":"r5","o":"h"}
		]`)
		require.Len(t, got, memory.MaxTriplesPerMessage)
		assert.Equal(t, "r1", got[0].P)
		assert.Equal(t, "r4", got[2].P)
	})
	t.Run("malformed", func(t *testing.T) {
		got := memory.ParseTriples("no triples here")
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestScoreMessage_MalformedSentimentFallsBackToZero(t *testing.T) {
	scorer := memorytest.NewFakeScorer(map[string]string{
		"sentiment":   "not-a-number",
		"helpfulness": "0.6",
		"excitement":  "0.5",
		"triples":     "[]",
	})
	s := memory.ScoreMessage(context.Background(), scorer, "User: hi", "hi", 0)
	assert.Equal(t, 0, s.Sentiment)
	assert.InDelta(t, 0.6, s.Helpfulness, 1e-12)
	assert.InDelta(t, 0.5, s.Excitement, 1e-12)
	assert.Empty(t, s.Failed)
}

func TestScoreMessage_FailedCallsDoNotCancelOthers(t *testing.T) {
	scorer := memorytest.NewFakeScorer(map[string]string{
		"sentiment":  "-2",
		"excitement": "0.7",
		"triples":    `[{"s":"a","p":"b","o":"c"}]`,
	})
	scorer.Errors["helpfulness"] = errors.New("upstream 500")
	s := memory.ScoreMessage(context.Background(), scorer, "", "msg", 2)
	assert.Equal(t, -2, s.Sentiment)
	assert.Equal(t, 0.0, s.Helpfulness)
	assert.InDelta(t, 0.7, s.Excitement, 1e-12)
	assert.Len(t, s.Triples, 1)
	assert.Equal(t, []string{"helpfulness"}, s.Failed)
	for _, name := range []string{"sentiment", "helpfulness", "excitement", "triples"} {
		assert.Equal(t, 1, scorer.Calls[name], name)
	}
}
