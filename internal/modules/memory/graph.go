package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
)

type GraphResult struct {
	Edges   int     `json:"edges"`
	Touched []int64 `json:"touched"`
}

// TripleLabels returns the subject and object of every triple, in order.
func TripleLabels(triples []Triple) []string {
	out := make([]string, 0, 2*len(triples))
	for _, t := range triples {
		out = append(out, t.S, t.O)
	}
	return out
}

// ApplyTriples upserts an edge for every triple whose ends both resolved,
// bumps both endpoint degrees per upsert, and links the message to every
// resolved node. Failures are collected; the remaining triples still apply.
func ApplyTriples(ctx context.Context, kg chatrepo.KgRepo, userID uuid.UUID, msgID int64, triples []Triple, resolved map[string]Resolution) (GraphResult, error) {
	dbc := dbctx.New(ctx)
	var errs []error
	res := GraphResult{}

	for _, t := range triples {
		s, sok := resolved[NormalizeLabel(t.S)]
		o, ook := resolved[NormalizeLabel(t.O)]
		if !sok || !ook {
			continue
		}
		edge := &types.KgEdge{UserID: userID, SubjectID: s.NodeID, Relation: t.P, ObjectID: o.NodeID, Weight: 1}
		if err := kg.UpsertEdgeOrBumpWeight(dbc, edge); err != nil {
			errs = append(errs, fmt.Errorf("upsert edge %s: %w", t.P, err))
			continue
		}
		res.Edges++
		for _, id := range []int64{s.NodeID, o.NodeID} {
			if err := kg.IncrementDegree(dbc, id, 1); err != nil {
				errs = append(errs, fmt.Errorf("increment degree %d: %w", id, err))
			}
		}
	}

	seen := map[int64]bool{}
	for _, r := range resolved {
		if !seen[r.NodeID] {
			seen[r.NodeID] = true
			res.Touched = append(res.Touched, r.NodeID)
		}
	}
	sort.Slice(res.Touched, func(i, j int) bool { return res.Touched[i] < res.Touched[j] })

	for _, id := range res.Touched {
		if err := kg.LinkMessageToNode(dbc, msgID, id); err != nil {
			errs = append(errs, fmt.Errorf("link msg %d to node %d: %w", msgID, id, err))
		}
	}
	return res, errors.Join(errs...)
}

// MessageCentrality reads the touched nodes' degrees and applies Centrality.
func MessageCentrality(ctx context.Context, kg chatrepo.KgRepo, nodeIDs []int64) (float64, error) {
	if len(nodeIDs) == 0 {
		return 0, nil
	}
	nodes, err := kg.NodesByIDs(dbctx.New(ctx), nodeIDs)
	if err != nil {
		return 0, fmt.Errorf("load touched nodes: %w", err)
	}
	degrees := make([]int, 0, len(nodes))
	for _, n := range nodes {
		degrees = append(degrees, n.Degree)
	}
	return Centrality(degrees), nil
}
