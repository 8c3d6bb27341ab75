package memory

import "github.com/yungbote/recall-backend/internal/domain/chat"

// Persisted constants. Changing any of these changes stored data semantics.
const (
	EmbeddingDim = chat.EmbeddingDim

	// MergeDistanceThreshold is exclusive: a nearest node at exactly this
	// cosine distance is a different entity.
	MergeDistanceThreshold = 0.15
	MaxLabelsPerMessage    = 6
	MaxLabelLength         = 256
	MaxTriplesPerMessage   = 3
	NoveltyPoolSize        = 500

	WeightNovelty     = 0.3
	WeightExcitement  = 0.3
	WeightHelpfulness = 0.2
	WeightCentrality  = 0.1
	WeightSentiment   = 0.1

	// CentralityDegreeScale maps average degree onto [0,1].
	CentralityDegreeScale = 10.0

	RetrievalDistanceWeight = 0.7
	RetrievalPriorityWeight = 0.3

	DefaultDistanceThreshold = 0.8
	DefaultScoreThreshold    = 0.5
	DefaultK                 = 12
)
