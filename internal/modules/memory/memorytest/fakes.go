// Package memorytest provides in-memory doubles for the capabilities and
// stores the memory package depends on.
package memorytest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
)

var ErrInjected = errors.New("injected failure")

// Dim is the vector width produced by FakeEmbedder.
const Dim = 64

// FakeEmbedder gives every new text its own one-hot vector, so distinct
// texts are orthogonal unless Set says otherwise.
type FakeEmbedder struct {
	mu    sync.Mutex
	fixed map[string][]float32
	next  int
	calls [][]string
	Err   error

	// FailOn fails any call containing one of these texts.
	FailOn map[string]bool
}

func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{fixed: map[string][]float32{}, FailOn: map[string]bool{}}
}

func (f *FakeEmbedder) Set(text string, v []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixed[text] = v
}

func (f *FakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, 0, len(inputs))
	for _, in := range inputs {
		if f.FailOn[in] {
			return nil, fmt.Errorf("embed %q: %w", in, ErrInjected)
		}
		v, ok := f.fixed[in]
		if !ok {
			v = OneHot(f.next % Dim)
			f.next++
			f.fixed[in] = v
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *FakeEmbedder) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Requested lists every text passed to Embed, in call order.
func (f *FakeEmbedder) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c...)
	}
	return out
}

func OneHot(axis int) []float32 {
	v := make([]float32, Dim)
	v[axis%Dim] = 1
	return v
}

// AtCosineDistance returns a unit vector whose cosine distance to
// OneHot(axis) is d (0 <= d <= 1).
func AtCosineDistance(axis int, d float64) []float32 {
	v := make([]float32, Dim)
	sim := 1 - d
	v[axis%Dim] = float32(sim)
	v[(axis+1)%Dim] = float32(math.Sqrt(math.Max(0, 1-sim*sim)))
	return v
}

// FakeScorer answers each scoring dimension from Responses, or fails it
// when Errors has an entry. Missing responses return "".
type FakeScorer struct {
	mu        sync.Mutex
	Responses map[string]string
	Errors    map[string]error
	Calls     map[string]int
}

func NewFakeScorer(responses map[string]string) *FakeScorer {
	return &FakeScorer{Responses: responses, Errors: map[string]error{}, Calls: map[string]int{}}
}

func (f *FakeScorer) answer(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[name]++
	if err := f.Errors[name]; err != nil {
		return "", err
	}
	return f.Responses[name], nil
}

func (f *FakeScorer) Sentiment(ctx context.Context, _, _ string) (string, error) {
	return f.answer("sentiment")
}

func (f *FakeScorer) Helpfulness(ctx context.Context, _, _ string) (string, error) {
	return f.answer("helpfulness")
}

func (f *FakeScorer) Excitement(ctx context.Context, _, _ string) (string, error) {
	return f.answer("excitement")
}

func (f *FakeScorer) Triples(ctx context.Context, _, _ string) (string, error) {
	return f.answer("triples")
}

// FakeMessageStore is a chatrepo.MessageRepo over a map. Fail makes the
// named method return ErrInjected.
type FakeMessageStore struct {
	mu     sync.Mutex
	rows   map[int64]*types.Message
	nextID int64
	Fail   map[string]bool

	// Candidates, when set, replaces the computed MemoryCandidates result.
	Candidates []types.MemoryCandidate
	LastQuery  *types.MemoryQuery
}

var _ chatrepo.MessageRepo = (*FakeMessageStore)(nil)

func NewFakeMessageStore() *FakeMessageStore {
	return &FakeMessageStore{rows: map[int64]*types.Message{}, Fail: map[string]bool{}}
}

func (s *FakeMessageStore) failed(method string) error {
	if s.Fail[method] {
		return fmt.Errorf("%s: %w", method, ErrInjected)
	}
	return nil
}

// Add stores m, assigning an id and a creation time when missing.
func (s *FakeMessageStore) Add(m *types.Message) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.nextID++
		m.ID = s.nextID
	} else if m.ID > s.nextID {
		s.nextID = m.ID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Unix(0, 0).Add(time.Duration(m.ID) * time.Second)
	}
	s.rows[m.ID] = m
	return m
}

func (s *FakeMessageStore) Get(id int64) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

func (s *FakeMessageStore) Create(dbc dbctx.Context, m *types.Message) error {
	if err := s.failed("Create"); err != nil {
		return err
	}
	if !types.ValidRole(m.Role) {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	s.Add(m)
	return nil
}

func (s *FakeMessageStore) GetByID(dbc dbctx.Context, id int64) (*types.Message, error) {
	if err := s.failed("GetByID"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *FakeMessageStore) UpdateEmbedding(dbc dbctx.Context, id int64, emb []float32) error {
	if err := s.failed("UpdateEmbedding"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("msg %d not found", id)
	}
	v := pgvector.NewVector(emb)
	m.Embedding = &v
	m.EmbedReady = true
	return nil
}

func (s *FakeMessageStore) UpdateMetrics(dbc dbctx.Context, id int64, mm types.MessageMetrics) error {
	if err := s.failed("UpdateMetrics"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("msg %d not found", id)
	}
	sent := mm.Sentiment
	m.Sentiment = &sent
	m.Excitement = f64(mm.Excitement)
	m.Helpfulness = f64(mm.Helpfulness)
	m.Novelty = f64(mm.Novelty)
	m.Centrality = f64(mm.Centrality)
	m.Priority = f64(mm.Priority)
	m.MetricsReady = true
	return nil
}

func (s *FakeMessageStore) UpdateCentrality(dbc dbctx.Context, id int64, centrality, priority float64) error {
	if err := s.failed("UpdateCentrality"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("msg %d not found", id)
	}
	m.Centrality = f64(centrality)
	m.Priority = f64(priority)
	return nil
}

func (s *FakeMessageStore) ListByThreadOrdered(dbc dbctx.Context, threadID uuid.UUID) ([]*types.Message, error) {
	if err := s.failed("ListByThreadOrdered"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, m := range s.rows {
		if m.ThreadID == threadID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *FakeMessageStore) NearestNeighborSimilarity(dbc dbctx.Context, emb []float32, userID uuid.UUID, excludeID int64, limit int) (float64, bool, error) {
	if err := s.failed("NearestNeighborSimilarity"); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var sims []float64
	for _, m := range s.rows {
		if m.UserID != userID || m.ID == excludeID || m.Embedding == nil {
			continue
		}
		sims = append(sims, 1-CosineDistance(emb, m.Embedding.Slice()))
	}
	if len(sims) == 0 {
		return 0, false, nil
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	if limit > 0 && len(sims) > limit {
		sims = sims[:limit]
	}
	return sims[0], true, nil
}

func (s *FakeMessageStore) MemoryCandidates(dbc dbctx.Context, q types.MemoryQuery) ([]types.MemoryCandidate, error) {
	if err := s.failed("MemoryCandidates"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	qc := q
	s.LastQuery = &qc
	if s.Candidates != nil {
		return append([]types.MemoryCandidate(nil), s.Candidates...), nil
	}
	var out []types.MemoryCandidate
	for _, m := range s.rows {
		if m.UserID != q.UserID || !m.EmbedReady || m.Embedding == nil || m.Priority == nil || m.Content == nil {
			continue
		}
		if q.ExcludeThreadID != nil && m.ThreadID == *q.ExcludeThreadID {
			continue
		}
		d := L2Distance(q.Embedding, m.Embedding.Slice())
		if d > q.DistanceThreshold {
			continue
		}
		out = append(out, types.MemoryCandidate{
			MsgID:    m.ID,
			ThreadID: m.ThreadID,
			Role:     m.Role,
			Content:  *m.Content,
			Priority: *m.Priority,
			Distance: d,
			Score:    d*q.DistanceWeight - *m.Priority*q.PriorityWeight,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].MsgID < out[j].MsgID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *FakeMessageStore) ListPendingEmbeddings(dbc dbctx.Context, limit int) ([]*types.Message, error) {
	if err := s.failed("ListPendingEmbeddings"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, m := range s.rows {
		if !m.EmbedReady && m.Content != nil {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type edgeKey struct {
	user     uuid.UUID
	subject  int64
	relation string
	object   int64
}

type labelKey struct {
	user  uuid.UUID
	label string
}

type linkKey struct {
	msg  int64
	node int64
}

// FakeKgStore is a chatrepo.KgRepo that enforces the (user_id, label)
// uniqueness the real store gets from its index.
type FakeKgStore struct {
	mu      sync.Mutex
	nodes   map[int64]*types.KgNode
	byLabel map[labelKey]int64
	edges   map[edgeKey]*types.KgEdge
	links   map[linkKey]bool
	nextID  int64
	nextEID int64

	Fail    map[string]bool
	FailAll bool

	// FailLabels makes InsertNodeIfAbsent fail for these labels.
	FailLabels map[string]bool

	// NearestFn replaces the computed nearest-node probe.
	NearestFn func(userID uuid.UUID, emb []float32) (*types.NodeMatch, error)

	// BeforeInsert runs outside the lock before every InsertNodeIfAbsent.
	BeforeInsert func(label string)
}

var _ chatrepo.KgRepo = (*FakeKgStore)(nil)

func NewFakeKgStore() *FakeKgStore {
	return &FakeKgStore{
		nodes:   map[int64]*types.KgNode{},
		byLabel: map[labelKey]int64{},
		edges:   map[edgeKey]*types.KgEdge{},
		links:   map[linkKey]bool{},
		Fail:    map[string]bool{},

		FailLabels: map[string]bool{},
	}
}

func (s *FakeKgStore) failed(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll || s.Fail[method] {
		return fmt.Errorf("%s: %w", method, ErrInjected)
	}
	return nil
}

// SeedNode inserts a node directly and returns its id.
func (s *FakeKgStore) SeedNode(userID uuid.UUID, label string, emb []float32, degree int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	n := &types.KgNode{ID: s.nextID, UserID: userID, Label: label, Degree: degree}
	if len(emb) > 0 {
		v := pgvector.NewVector(emb)
		n.Embedding = &v
	}
	s.nodes[n.ID] = n
	s.byLabel[labelKey{userID, label}] = n.ID
	return n.ID
}

func (s *FakeKgStore) FindNodeByLabel(dbc dbctx.Context, userID uuid.UUID, label string) (*types.KgNode, error) {
	if err := s.failed("FindNodeByLabel"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byLabel[labelKey{userID, label}]
	if !ok {
		return nil, nil
	}
	cp := *s.nodes[id]
	return &cp, nil
}

func (s *FakeKgStore) NearestNode(dbc dbctx.Context, userID uuid.UUID, emb []float32) (*types.NodeMatch, error) {
	if err := s.failed("NearestNode"); err != nil {
		return nil, err
	}
	if s.NearestFn != nil {
		return s.NearestFn(userID, emb)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *types.NodeMatch
	for _, n := range s.nodes {
		if n.UserID != userID || n.Embedding == nil {
			continue
		}
		d := CosineDistance(emb, n.Embedding.Slice())
		if best == nil || d < best.Distance || (d == best.Distance && n.ID < best.NodeID) {
			best = &types.NodeMatch{NodeID: n.ID, Label: n.Label, Distance: d}
		}
	}
	return best, nil
}

func (s *FakeKgStore) InsertNodeIfAbsent(dbc dbctx.Context, node *types.KgNode) (bool, error) {
	if s.BeforeInsert != nil {
		s.BeforeInsert(node.Label)
	}
	if err := s.failed("InsertNodeIfAbsent"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLabels[node.Label] {
		return false, fmt.Errorf("insert %q: %w", node.Label, ErrInjected)
	}
	key := labelKey{node.UserID, node.Label}
	if _, ok := s.byLabel[key]; ok {
		return false, nil
	}
	s.nextID++
	n := *node
	n.ID = s.nextID
	s.nodes[n.ID] = &n
	s.byLabel[key] = n.ID
	node.ID = n.ID
	return true, nil
}

func (s *FakeKgStore) IncrementDegree(dbc dbctx.Context, nodeID int64, by int) error {
	if err := s.failed("IncrementDegree"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		n.Degree += by
	}
	return nil
}

func (s *FakeKgStore) UpsertEdgeOrBumpWeight(dbc dbctx.Context, edge *types.KgEdge) error {
	if err := s.failed("UpsertEdgeOrBumpWeight"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{edge.UserID, edge.SubjectID, edge.Relation, edge.ObjectID}
	if e, ok := s.edges[key]; ok {
		e.Weight++
		return nil
	}
	s.nextEID++
	e := *edge
	e.ID = s.nextEID
	if e.Weight < 1 {
		e.Weight = 1
	}
	s.edges[key] = &e
	return nil
}

func (s *FakeKgStore) LinkMessageToNode(dbc dbctx.Context, msgID, nodeID int64) error {
	if err := s.failed("LinkMessageToNode"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkKey{msgID, nodeID}] = true
	return nil
}

func (s *FakeKgStore) NodesByIDs(dbc dbctx.Context, ids []int64) ([]*types.KgNode, error) {
	if err := s.failed("NodesByIDs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.KgNode
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FakeKgStore) EdgesTouching(dbc dbctx.Context, userID uuid.UUID, nodeIDs []int64) ([]*types.KgEdge, error) {
	if err := s.failed("EdgesTouching"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range nodeIDs {
		want[id] = true
	}
	var out []*types.KgEdge
	for _, e := range s.edges {
		if e.UserID == userID && (want[e.SubjectID] || want[e.ObjectID]) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Nodes returns the user's nodes ordered by id.
func (s *FakeKgStore) Nodes(userID uuid.UUID) []types.KgNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.KgNode
	for _, n := range s.nodes {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns the user's edges ordered by id.
func (s *FakeKgStore) Edges(userID uuid.UUID) []types.KgEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.KgEdge
	for _, e := range s.edges {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *FakeKgStore) Linked(msgID, nodeID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[linkKey{msgID, nodeID}]
}

// FakeMirror records SyncSubgraph calls.
type FakeMirror struct {
	mu    sync.Mutex
	Err   error
	Calls [][]int64
}

func (m *FakeMirror) SyncSubgraph(ctx context.Context, userID uuid.UUID, nodeIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, append([]int64(nil), nodeIDs...))
	return m.Err
}

func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func L2Distance(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y float64
		if i < len(a) {
			x = float64(a[i])
		}
		if i < len(b) {
			y = float64(b[i])
		}
		sum += (x - y) * (x - y)
	}
	return math.Sqrt(sum)
}

func f64(v float64) *float64 { return &v }

// Str returns a pointer to s.
func Str(s string) *string { return &s }
