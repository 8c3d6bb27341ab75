package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type RetrieverConfig struct {
	DistanceThreshold float64
	ScoreThreshold    float64
	K                 int
}

// DefaultRetrieverConfig holds the stock retrieval thresholds.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		DistanceThreshold: DefaultDistanceThreshold,
		ScoreThreshold:    DefaultScoreThreshold,
		K:                 DefaultK,
	}
}

// withDefaults only replaces values that cannot be valid. Any score threshold
// is valid since scores go negative.
func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.DistanceThreshold <= 0 {
		c.DistanceThreshold = DefaultDistanceThreshold
	}
	if c.K <= 0 {
		c.K = DefaultK
	}
	return c
}

// Retriever returns the prior messages most worth recalling for a query.
// It never returns an error: on any failure the result is empty.
type Retriever struct {
	log      *logger.Logger
	embedder Embedder
	messages chatrepo.MessageRepo
	cfg      RetrieverConfig
}

func NewRetriever(log *logger.Logger, embedder Embedder, messages chatrepo.MessageRepo, cfg RetrieverConfig) *Retriever {
	return &Retriever{
		log:      log.With("component", "Retriever"),
		embedder: embedder,
		messages: messages,
		cfg:      cfg.withDefaults(),
	}
}

func (r *Retriever) Config() RetrieverConfig { return r.cfg }

// Retrieve embeds query and ranks the user's messages outside
// excludeThreadID. k <= 0 uses the configured K.
func (r *Retriever) Retrieve(ctx context.Context, userID uuid.UUID, query string, excludeThreadID *uuid.UUID, k int) []types.MemoryCandidate {
	out := []types.MemoryCandidate{}
	if k <= 0 {
		k = r.cfg.K
	}
	query = strings.TrimSpace(query)
	if userID == uuid.Nil || query == "" {
		observability.Current().ObserveRetrieval("empty", 0)
		return out
	}

	ctx, span := observability.Tracer().Start(ctx, "memory.Retrieve")
	defer span.End()

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err == nil && (len(vecs) != 1 || len(vecs[0]) == 0) {
		err = errors.New("embedder returned no vector")
	}
	if err != nil {
		r.log.Warn("memory retrieval embed failed; returning no memories", "error", err)
		observability.Current().ObserveRetrieval("error", 0)
		return out
	}

	cands, err := r.messages.MemoryCandidates(dbctx.New(ctx), types.MemoryQuery{
		UserID:            userID,
		ExcludeThreadID:   excludeThreadID,
		Embedding:         vecs[0],
		DistanceThreshold: r.cfg.DistanceThreshold,
		DistanceWeight:    RetrievalDistanceWeight,
		PriorityWeight:    RetrievalPriorityWeight,
		Limit:             k,
	})
	if err != nil {
		r.log.Warn("memory retrieval query failed; returning no memories", "error", err)
		observability.Current().ObserveRetrieval("error", 0)
		return out
	}

	out = RankMemories(cands, r.cfg.DistanceThreshold, r.cfg.ScoreThreshold, k)
	observability.Current().ObserveRetrieval("ok", len(out))
	return out
}

// MemoryScore is distance*0.7 - priority*0.3; lower is better.
func MemoryScore(distance, priority float64) float64 {
	return distance*RetrievalDistanceWeight - priority*RetrievalPriorityWeight
}

// RankMemories keeps candidates within distThreshold, orders them by
// ascending score (ties by msg_id), takes the top k and then drops any whose
// score exceeds scoreThreshold. The result is never nil.
func RankMemories(cands []types.MemoryCandidate, distThreshold, scoreThreshold float64, k int) []types.MemoryCandidate {
	out := make([]types.MemoryCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Distance > distThreshold {
			continue
		}
		c.Score = MemoryScore(c.Distance, c.Priority)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].MsgID < out[j].MsgID
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	kept := out[:0]
	for _, c := range out {
		if c.Score <= scoreThreshold {
			kept = append(kept, c)
		}
	}
	return kept
}
