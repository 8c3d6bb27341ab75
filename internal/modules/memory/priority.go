package memory

import "math"

// Metrics are the inputs of the priority formula.
type Metrics struct {
	Novelty     float64
	Excitement  float64
	Helpfulness float64
	Centrality  float64
	Sentiment   int
}

// Priority blends the metrics with fixed weights. |Sentiment| enters on its
// raw 0..5 scale, so priority can exceed 1.
func Priority(m Metrics) float64 {
	return WeightNovelty*m.Novelty +
		WeightExcitement*m.Excitement +
		WeightHelpfulness*m.Helpfulness +
		WeightCentrality*m.Centrality +
		WeightSentiment*math.Abs(float64(m.Sentiment))
}

// Centrality is the average degree of the touched nodes over
// CentralityDegreeScale, clamped to [0,1]. No nodes means 0.
func Centrality(degrees []int) float64 {
	if len(degrees) == 0 {
		return 0
	}
	sum := 0
	for _, d := range degrees {
		sum += d
	}
	avg := float64(sum) / float64(len(degrees))
	return clamp01(avg / CentralityDegreeScale)
}

// Novelty is 1 - maxSimilarity, clamped to [0,1]. With no comparable prior
// message, or when the lookup failed, the message is maximally novel.
func Novelty(maxSimilarity float64, found bool, err error) float64 {
	if err != nil || !found || math.IsNaN(maxSimilarity) {
		return 1
	}
	return clamp01(1 - maxSimilarity)
}
