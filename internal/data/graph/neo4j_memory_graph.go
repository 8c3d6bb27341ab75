package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
	"github.com/yungbote/recall-backend/internal/platform/neo4jdb"
)

var schemaStatements = []string{
	`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
	`CREATE CONSTRAINT memory_entity_node_unique IF NOT EXISTS FOR (e:MemoryEntity) REQUIRE e.node_id IS UNIQUE`,
}

// MemoryGraphMirror copies the Postgres knowledge graph into Neo4j for
// traversal and visualisation. Postgres stays the source of truth; a failed
// sync is repaired by the next sync touching the same nodes.
type MemoryGraphMirror struct {
	client *neo4jdb.Client
	kg     chatrepo.KgRepo
	log    *logger.Logger
	schema schemaGate
}

// schemaGate runs setup until it succeeds once, then never again.
type schemaGate struct {
	mu   sync.Mutex
	done bool
}

func (g *schemaGate) ensure(ctx context.Context, setup func(context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	if err := setup(ctx); err != nil {
		return err
	}
	g.done = true
	return nil
}

func NewMemoryGraphMirror(client *neo4jdb.Client, kg chatrepo.KgRepo, baseLog *logger.Logger) *MemoryGraphMirror {
	return &MemoryGraphMirror{client: client, kg: kg, log: baseLog.With("component", "MemoryGraphMirror")}
}

// SyncSubgraph upserts the given nodes, every edge touching them and the far
// endpoints of those edges.
func (m *MemoryGraphMirror) SyncSubgraph(ctx context.Context, userID uuid.UUID, nodeIDs []int64) error {
	if m == nil || m.client == nil || m.client.Driver == nil || len(nodeIDs) == 0 {
		return nil
	}
	dbc := dbctx.New(ctx)
	edges, err := m.kg.EdgesTouching(dbc, userID, nodeIDs)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}
	nodes, err := m.kg.NodesByIDs(dbc, endpointIDs(nodeIDs, edges))
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	sub := buildSubgraph(userID, nodes, edges, time.Now().UTC())
	if len(sub.Nodes) == 0 {
		return nil
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	if err := m.schema.ensure(ctx, func(ctx context.Context) error {
		for _, q := range schemaStatements {
			res, err := session.Run(ctx, q, nil)
			if err != nil {
				return err
			}
			if _, err := res.Consume(ctx); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		m.log.Warn("neo4j schema init failed (continuing)", "error", err)
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MERGE (u:User {id: $user_id})
SET u.synced_at = $synced_at
WITH u
UNWIND $nodes AS n
MERGE (e:MemoryEntity {node_id: n.node_id})
SET e += n
MERGE (u)-[r:KNOWS_ABOUT]->(e)
SET r.synced_at = $synced_at
`, map[string]any{"user_id": userID.String(), "nodes": sub.Nodes, "synced_at": sub.SyncedAt}); err != nil {
			return nil, err
		}
		if len(sub.Edges) == 0 {
			return nil, nil
		}
		return nil, run(ctx, tx, `
UNWIND $rels AS r
MATCH (a:MemoryEntity {node_id: r.subject_id})
MATCH (b:MemoryEntity {node_id: r.object_id})
MERGE (a)-[e:RELATES {edge_id: r.edge_id}]->(b)
SET e.relation = r.relation,
    e.weight = r.weight,
    e.user_id = r.user_id,
    e.synced_at = r.synced_at
`, map[string]any{"rels": sub.Edges})
	})
	if err != nil {
		return fmt.Errorf("neo4j sync: %w", err)
	}
	m.log.Debug("memory subgraph mirrored", "nodes", len(sub.Nodes), "edges", len(sub.Edges))
	return nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

type subgraph struct {
	SyncedAt string
	Nodes    []map[string]any
	Edges    []map[string]any
}

func endpointIDs(seed []int64, edges []*types.KgEdge) []int64 {
	set := make(map[int64]struct{}, len(seed)+2*len(edges))
	for _, id := range seed {
		set[id] = struct{}{}
	}
	for _, e := range edges {
		set[e.SubjectID] = struct{}{}
		set[e.ObjectID] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// buildSubgraph drops anything owned by another user and edges whose
// endpoints were not loaded.
func buildSubgraph(userID uuid.UUID, nodes []*types.KgNode, edges []*types.KgEdge, now time.Time) subgraph {
	sub := subgraph{SyncedAt: now.Format(time.RFC3339Nano)}
	known := map[int64]bool{}
	for _, n := range nodes {
		if n == nil || n.UserID != userID || n.Label == "" {
			continue
		}
		known[n.ID] = true
		sub.Nodes = append(sub.Nodes, map[string]any{
			"node_id":    n.ID,
			"user_id":    n.UserID.String(),
			"label":      n.Label,
			"degree":     int64(n.Degree),
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339Nano),
			"synced_at":  sub.SyncedAt,
		})
	}
	for _, e := range edges {
		if e == nil || e.UserID != userID || !known[e.SubjectID] || !known[e.ObjectID] {
			continue
		}
		sub.Edges = append(sub.Edges, map[string]any{
			"edge_id":    e.ID,
			"user_id":    e.UserID.String(),
			"subject_id": e.SubjectID,
			"object_id":  e.ObjectID,
			"relation":   e.Relation,
			"weight":     int64(e.Weight),
			"synced_at":  sub.SyncedAt,
		})
	}
	return sub
}
