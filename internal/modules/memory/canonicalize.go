package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/recall-backend/internal/pkg/errors"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

// Resolution paths, in precedence order.
const (
	PathCache   = "cache"
	PathExact   = "exact"
	PathMerged  = "merged"
	PathCreated = "created"
	PathRaced   = "raced"
)

type Resolution struct {
	NodeID  int64  `json:"node_id"`
	Label   string `json:"label"`
	Created bool   `json:"created"`
	Path    string `json:"path"`
}

// Canonicalizer maps raw entity strings onto one node per user. The store's
// unique (user_id, label) index is the only concurrency control.
type Canonicalizer struct {
	log      *logger.Logger
	embedder Embedder
	kg       chatrepo.KgRepo
}

func NewCanonicalizer(log *logger.Logger, embedder Embedder, kg chatrepo.KgRepo) *Canonicalizer {
	return &Canonicalizer{
		log:      log.With("component", "Canonicalizer"),
		embedder: embedder,
		kg:       kg,
	}
}

// NormalizeLabel lowercases, trims and caps a label at MaxLabelLength runes.
func NormalizeLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if utf8.RuneCountInString(s) > MaxLabelLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxLabelLength]))
	}
	return s
}

// Resolve returns the canonical node for label, creating it when no exact or
// near-duplicate node exists.
func (c *Canonicalizer) Resolve(ctx context.Context, userID uuid.UUID, label string, cp *Checkpoint) (Resolution, error) {
	norm := NormalizeLabel(label)
	if norm == "" {
		return Resolution{}, fmt.Errorf("resolve %q: %w", label, apperr.ErrInvalidArgument)
	}
	if res, ok, err := c.lookup(ctx, userID, norm, cp); err != nil || ok {
		return res, err
	}
	emb, ok := cp.Embedding(norm)
	if !ok {
		emb = c.embedOne(ctx, norm, cp)
	}
	return c.probeOrCreate(ctx, userID, norm, emb, cp)
}

// ResolveBatch resolves up to MaxLabelsPerMessage distinct labels. Labels
// that need a new embedding share one Embed call. A failing label is logged
// and skipped; the joined error reports every skipped label.
func (c *Canonicalizer) ResolveBatch(ctx context.Context, userID uuid.UUID, labels []string, cp *Checkpoint) (map[string]Resolution, error) {
	out := map[string]Resolution{}
	var errs []error

	pending := make([]string, 0, len(labels))
	var toEmbed []string
	for _, norm := range dedupeLabels(labels) {
		res, ok, err := c.lookup(ctx, userID, norm, cp)
		if err != nil {
			c.log.Warn("label lookup failed (skipping)", "label_len", len(norm), "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			out[norm] = res
			continue
		}
		pending = append(pending, norm)
		if _, cached := cp.Embedding(norm); !cached {
			toEmbed = append(toEmbed, norm)
		}
	}

	if len(toEmbed) > 0 {
		vecs, err := c.embedder.Embed(ctx, toEmbed)
		if err != nil || len(vecs) != len(toEmbed) {
			c.log.Warn("label embedding failed; nodes will be created without vectors", "labels", len(toEmbed), "error", err)
		} else {
			for i, label := range toEmbed {
				cp.PutEmbedding(label, vecs[i])
			}
		}
	}

	for _, norm := range pending {
		emb, _ := cp.Embedding(norm)
		res, err := c.probeOrCreate(ctx, userID, norm, emb, cp)
		if err != nil {
			c.log.Warn("label resolution failed (skipping)", "label_len", len(norm), "error", err)
			errs = append(errs, err)
			continue
		}
		out[norm] = res
	}
	return out, errors.Join(errs...)
}

// lookup covers the node cache and the exact-match query.
func (c *Canonicalizer) lookup(ctx context.Context, userID uuid.UUID, norm string, cp *Checkpoint) (Resolution, bool, error) {
	if id, ok := cp.Node(norm); ok {
		observability.Current().IncCanonicalize(PathCache)
		return Resolution{NodeID: id, Label: norm, Path: PathCache}, true, nil
	}
	node, err := c.kg.FindNodeByLabel(dbctx.New(ctx), userID, norm)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("find node by label: %w", err)
	}
	if node == nil {
		return Resolution{}, false, nil
	}
	cp.PutNode(norm, node.ID)
	observability.Current().IncCanonicalize(PathExact)
	return Resolution{NodeID: node.ID, Label: norm, Path: PathExact}, true, nil
}

func (c *Canonicalizer) embedOne(ctx context.Context, norm string, cp *Checkpoint) []float32 {
	vecs, err := c.embedder.Embed(ctx, []string{norm})
	if err != nil || len(vecs) != 1 || len(vecs[0]) == 0 {
		c.log.Warn("label embedding failed; node will be created without vector", "error", err)
		return nil
	}
	cp.PutEmbedding(norm, vecs[0])
	return vecs[0]
}

// probeOrCreate merges into the nearest node when strictly closer than
// MergeDistanceThreshold, otherwise inserts. A lost insert race re-selects
// the winner's row.
func (c *Canonicalizer) probeOrCreate(ctx context.Context, userID uuid.UUID, norm string, emb []float32, cp *Checkpoint) (Resolution, error) {
	dbc := dbctx.New(ctx)

	if len(emb) > 0 {
		match, err := c.kg.NearestNode(dbc, userID, emb)
		switch {
		case err != nil:
			c.log.Warn("similarity probe failed; creating node", "error", err)
		case match != nil && match.Distance < MergeDistanceThreshold:
			cp.PutNode(norm, match.NodeID)
			observability.Current().IncCanonicalize(PathMerged)
			return Resolution{NodeID: match.NodeID, Label: match.Label, Path: PathMerged}, nil
		}
	}

	node := &types.KgNode{UserID: userID, Label: norm}
	if len(emb) > 0 {
		v := pgvector.NewVector(emb)
		node.Embedding = &v
	}
	created, err := c.kg.InsertNodeIfAbsent(dbc, node)
	if err != nil {
		return Resolution{}, fmt.Errorf("insert node: %w", err)
	}
	if created && node.ID != 0 {
		cp.PutNode(norm, node.ID)
		observability.Current().IncCanonicalize(PathCreated)
		return Resolution{NodeID: node.ID, Label: norm, Created: true, Path: PathCreated}, nil
	}

	existing, err := c.kg.FindNodeByLabel(dbc, userID, norm)
	if err != nil {
		return Resolution{}, fmt.Errorf("re-select node after conflict: %w", err)
	}
	if existing == nil {
		return Resolution{}, fmt.Errorf("node %q neither inserted nor found: %w", norm, apperr.ErrPersistenceAnomaly)
	}
	cp.PutNode(norm, existing.ID)
	observability.Current().IncCanonicalize(PathRaced)
	return Resolution{NodeID: existing.ID, Label: norm, Path: PathRaced}, nil
}

func dedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		norm := NormalizeLabel(l)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
		if len(out) == MaxLabelsPerMessage {
			break
		}
	}
	return out
}
