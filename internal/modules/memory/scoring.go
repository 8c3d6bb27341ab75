package memory

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

type Triple struct {
	S string `json:"s"`
	P string `json:"p"`
	O string `json:"o"`
}

// Scores holds parsed scoring output. Failed names the calls that errored
// and fell back to defaults.
type Scores struct {
	Sentiment   int      `json:"sentiment"`
	Helpfulness float64  `json:"helpfulness"`
	Excitement  float64  `json:"excitement"`
	Triples     []Triple `json:"triples"`
	Failed      []string `json:"failed,omitempty"`
}

var (
	intPattern   = regexp.MustCompile(`[-+]?\d+`)
	floatPattern = regexp.MustCompile(`[-+]?(\d+\.?\d*|\.\d+)`)
)

// ParseSentiment reads the first integer, clamped to [-5,5]. Anything else is 0.
func ParseSentiment(raw string) int {
	m := intPattern.FindString(strings.TrimSpace(raw))
	if m == "" {
		return 0
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return max(-5, min(5, v))
}

// ParseUnit reads the first decimal, clamped to [0,1]. Anything else is 0.
func ParseUnit(raw string) float64 {
	m := floatPattern.FindString(strings.TrimSpace(raw))
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return clamp01(v)
}

// ParseTriples accepts a JSON array of {s,p,o}, optionally fenced or wrapped
// in {"triples": [...]}. Malformed input yields an empty list.
func ParseTriples(raw string) []Triple {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var items []Triple
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		var wrapped struct {
			Triples []Triple `json:"triples"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
			if start < 0 || end <= start || json.Unmarshal([]byte(text[start:end+1]), &items) != nil {
				return []Triple{}
			}
		} else {
			items = wrapped.Triples
		}
	}

	out := make([]Triple, 0, len(items))
	for _, t := range items {
		t.S = strings.TrimSpace(t.S)
		t.O = strings.TrimSpace(t.O)
		t.P = normalizeRelation(t.P)
		if t.S == "" || t.P == "" || t.O == "" {
			continue
		}
		out = append(out, t)
		if len(out) == MaxTriplesPerMessage {
			break
		}
	}
	return out
}

func normalizeRelation(p string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(p)))
	return strings.Join(fields, "_")
}

// ScoreMessage issues the four scoring calls concurrently and waits for all
// of them. A failed call never cancels the others; it falls back to its default.
func ScoreMessage(ctx context.Context, scorer Scorer, conversation, target string, limit int) Scores {
	type call struct {
		name string
		fn   func(context.Context, string, string) (string, error)
		raw  string
		err  error
	}
	calls := []*call{
		{name: "sentiment", fn: scorer.Sentiment},
		{name: "helpfulness", fn: scorer.Helpfulness},
		{name: "excitement", fn: scorer.Excitement},
		{name: "triples", fn: scorer.Triples},
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, c := range calls {
		g.Go(func() error {
			c.raw, c.err = c.fn(ctx, conversation, target)
			return nil
		})
	}
	_ = g.Wait()

	s := Scores{Triples: []Triple{}}
	for _, c := range calls {
		if c.err != nil {
			s.Failed = append(s.Failed, c.name)
			continue
		}
		switch c.name {
		case "sentiment":
			s.Sentiment = ParseSentiment(c.raw)
		case "helpfulness":
			s.Helpfulness = ParseUnit(c.raw)
		case "excitement":
			s.Excitement = ParseUnit(c.raw)
		case "triples":
			s.Triples = ParseTriples(c.raw)
		}
	}
	return s
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
