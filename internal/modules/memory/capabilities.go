package memory

import (
	"context"

	"github.com/google/uuid"
)

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Scorer returns the raw model output for each scoring dimension. Parsing and
// fallback are the caller's job.
type Scorer interface {
	Sentiment(ctx context.Context, conversation, target string) (string, error)
	Helpfulness(ctx context.Context, conversation, target string) (string, error)
	Excitement(ctx context.Context, conversation, target string) (string, error)
	Triples(ctx context.Context, conversation, target string) (string, error)
}

// GraphMirror receives the part of a user's graph a message touched.
type GraphMirror interface {
	SyncSubgraph(ctx context.Context, userID uuid.UUID, nodeIDs []int64) error
}
