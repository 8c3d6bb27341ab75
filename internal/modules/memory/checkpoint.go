package memory

// Checkpoint is the per-attempt cache of label embeddings and resolved node
// ids. It is owned by one job attempt and is not safe for concurrent use.
// Only embeddings survive into the next attempt, through Snapshot.
type Checkpoint struct {
	embeddings map[string][]float32
	nodes      map[string]int64
}

// CheckpointSnapshot is the retry-visible form of a Checkpoint.
type CheckpointSnapshot struct {
	Embeddings map[string][]float32 `json:"embeddings"`
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		embeddings: map[string][]float32{},
		nodes:      map[string]int64{},
	}
}

// RestoreCheckpoint seeds a fresh Checkpoint from a previous attempt. A nil
// snapshot gives an empty one.
func RestoreCheckpoint(s *CheckpointSnapshot) *Checkpoint {
	c := NewCheckpoint()
	if s == nil {
		return c
	}
	for label, v := range s.Embeddings {
		if label == "" || len(v) == 0 {
			continue
		}
		c.embeddings[label] = v
	}
	return c
}

func (c *Checkpoint) Snapshot() CheckpointSnapshot {
	out := CheckpointSnapshot{Embeddings: make(map[string][]float32, len(c.embeddings))}
	for k, v := range c.embeddings {
		out.Embeddings[k] = v
	}
	return out
}

func (c *Checkpoint) Embedding(label string) ([]float32, bool) {
	v, ok := c.embeddings[label]
	return v, ok
}

func (c *Checkpoint) PutEmbedding(label string, v []float32) {
	if label == "" || len(v) == 0 {
		return
	}
	c.embeddings[label] = v
}

func (c *Checkpoint) Node(label string) (int64, bool) {
	id, ok := c.nodes[label]
	return id, ok
}

func (c *Checkpoint) PutNode(label string, id int64) {
	c.nodes[label] = id
}

func (c *Checkpoint) EmbeddingCount() int { return len(c.embeddings) }
