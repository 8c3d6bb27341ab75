package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/recall-backend/internal/pkg/errors"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type StageOutcome string

const (
	StageOK      StageOutcome = "ok"
	StagePartial StageOutcome = "partial"
	StageFatal   StageOutcome = "fatal"
	StageSkipped StageOutcome = "skipped"
)

const (
	StageEmbed      = "embed"
	StageContext    = "context"
	StageScore      = "score"
	StageNovelty    = "novelty"
	StageMetrics    = "metrics"
	StageGraph      = "graph"
	StageCentrality = "centrality"
	StageMirror     = "mirror"
)

type StageResult struct {
	Stage    string       `json:"stage"`
	Outcome  StageOutcome `json:"outcome"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
}

// EnrichInput is one job payload plus the attempt's checkpoint. SaveCheckpoint,
// when set, is called once before Enrich returns on every path.
type EnrichInput struct {
	MsgID    int64
	UserID   uuid.UUID
	ThreadID uuid.UUID
	Content  string

	Checkpoint     *Checkpoint
	SaveCheckpoint func(ctx context.Context, snap CheckpointSnapshot) error
}

type EnrichReport struct {
	MsgID           int64                `json:"msg_id"`
	Stages          []StageResult        `json:"stages"`
	Metrics         types.MessageMetrics `json:"metrics"`
	EmbeddingReused bool                 `json:"embedding_reused"`
	Triples         int                  `json:"triples"`
	NodesResolved   int                  `json:"nodes_resolved"`
	NodesCreated    int                  `json:"nodes_created"`
	Edges           int                  `json:"edges"`
}

// Outcome folds the stage results: any fatal stage is fatal, any partial is
// partial, otherwise ok.
func (r EnrichReport) Outcome() StageOutcome {
	out := StageOK
	for _, s := range r.Stages {
		switch s.Outcome {
		case StageFatal:
			return StageFatal
		case StagePartial:
			out = StagePartial
		}
	}
	return out
}

type EnricherDeps struct {
	Log      *logger.Logger
	Embedder Embedder
	Scorer   Scorer
	Messages chatrepo.MessageRepo
	KG       chatrepo.KgRepo

	// Mirror is optional.
	Mirror GraphMirror

	// ScoringConcurrency caps the concurrent scoring calls; 0 means all four.
	ScoringConcurrency int
}

// Enricher runs the per-message state machine. Every step is safe to re-run
// from the message's persisted state plus the checkpoint.
type Enricher struct {
	log      *logger.Logger
	embedder Embedder
	scorer   Scorer
	messages chatrepo.MessageRepo
	kg       chatrepo.KgRepo
	canon    *Canonicalizer
	mirror   GraphMirror
	scoreCap int
}

func NewEnricher(deps EnricherDeps) *Enricher {
	log := deps.Log.With("component", "Enricher")
	return &Enricher{
		log:      log,
		embedder: deps.Embedder,
		scorer:   deps.Scorer,
		messages: deps.Messages,
		kg:       deps.KG,
		canon:    NewCanonicalizer(deps.Log, deps.Embedder, deps.KG),
		mirror:   deps.Mirror,
		scoreCap: deps.ScoringConcurrency,
	}
}

// Enrich returns an error only when a fatal stage failed; graph-side
// failures are reported as partial stages.
func (e *Enricher) Enrich(ctx context.Context, in EnrichInput) (report EnrichReport, err error) {
	report.MsgID = in.MsgID
	cp := in.Checkpoint
	if cp == nil {
		cp = NewCheckpoint()
	}
	log := e.log.With("msg_id", in.MsgID, "user_id", in.UserID)

	ctx, span := observability.Tracer().Start(ctx, "memory.Enrich")
	span.SetAttributes(attribute.Int64("msg_id", in.MsgID))
	defer func() {
		e.saveCheckpoint(ctx, log, in.SaveCheckpoint, cp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dbc := dbctx.New(ctx)

	msg, err := e.messages.GetByID(dbc, in.MsgID)
	if err == nil && msg == nil {
		err = fmt.Errorf("message %d: %w", in.MsgID, apperr.ErrNotFound)
	}
	if err != nil {
		return report, e.fatal(&report, StageEmbed, time.Now(), err)
	}
	userID, threadID := in.UserID, in.ThreadID
	if userID == uuid.Nil {
		userID = msg.UserID
	}
	if threadID == uuid.Nil {
		threadID = msg.ThreadID
	}
	if userID != msg.UserID {
		return report, e.fatal(&report, StageEmbed, time.Now(), fmt.Errorf("message %d belongs to another user: %w", in.MsgID, apperr.ErrInvalidArgument))
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		content = strings.TrimSpace(msg.Text())
	}
	if content == "" {
		return report, e.fatal(&report, StageEmbed, time.Now(), fmt.Errorf("message %d has no content: %w", in.MsgID, apperr.ErrInvalidArgument))
	}

	// 1. embed, reusing a stored vector
	start := time.Now()
	emb := msg.Vector()
	if len(emb) > 0 {
		report.EmbeddingReused = true
	} else {
		vecs, eErr := e.embedder.Embed(ctx, []string{content})
		if eErr == nil && (len(vecs) != 1 || len(vecs[0]) == 0) {
			eErr = errors.New("embedder returned no vector")
		}
		if eErr != nil {
			return report, e.fatal(&report, StageEmbed, start, fmt.Errorf("embed message: %w", eErr))
		}
		emb = vecs[0]
		if uErr := e.messages.UpdateEmbedding(dbc, in.MsgID, emb); uErr != nil {
			return report, e.fatal(&report, StageEmbed, start, fmt.Errorf("persist embedding: %w", uErr))
		}
	}
	e.stage(&report, StageEmbed, StageOK, start, nil)

	// 2. conversation context
	start = time.Now()
	thread, err := e.messages.ListByThreadOrdered(dbc, threadID)
	if err != nil {
		return report, e.fatal(&report, StageContext, start, fmt.Errorf("load thread: %w", err))
	}
	lines := make([]string, 0, len(thread))
	for _, m := range thread {
		lines = append(lines, m.ContextLine())
	}
	conversation := strings.Join(lines, "\n")
	e.stage(&report, StageContext, StageOK, start, nil)

	// 3-4. parallel scoring with per-field fallback
	start = time.Now()
	scores := ScoreMessage(ctx, e.scorer, conversation, content, e.scoreCap)
	if len(scores.Failed) > 0 {
		log.Warn("scoring calls failed; using defaults", "failed", scores.Failed)
		e.stage(&report, StageScore, StagePartial, start, fmt.Errorf("scoring fallback: %s", strings.Join(scores.Failed, ",")))
	} else {
		e.stage(&report, StageScore, StageOK, start, nil)
	}
	report.Triples = len(scores.Triples)

	// 5. novelty against the user's nearest prior messages
	start = time.Now()
	maxSim, found, nErr := e.messages.NearestNeighborSimilarity(dbc, emb, userID, in.MsgID, NoveltyPoolSize)
	novelty := Novelty(maxSim, found, nErr)
	if nErr != nil {
		log.Warn("novelty query failed; assuming maximal novelty", "error", nErr)
		e.stage(&report, StageNovelty, StagePartial, start, nErr)
	} else {
		e.stage(&report, StageNovelty, StageOK, start, nil)
	}

	// 6-7. initial priority and the first metrics write
	start = time.Now()
	base := Metrics{
		Novelty:     novelty,
		Excitement:  scores.Excitement,
		Helpfulness: scores.Helpfulness,
		Sentiment:   scores.Sentiment,
	}
	report.Metrics = types.MessageMetrics{
		Sentiment:   base.Sentiment,
		Excitement:  base.Excitement,
		Helpfulness: base.Helpfulness,
		Novelty:     base.Novelty,
		Centrality:  0,
		Priority:    Priority(base),
	}
	if mErr := e.messages.UpdateMetrics(dbc, in.MsgID, report.Metrics); mErr != nil {
		return report, e.fatal(&report, StageMetrics, start, fmt.Errorf("persist metrics: %w", mErr))
	}
	e.stage(&report, StageMetrics, StageOK, start, nil)

	// 8. graph processing never fails the job
	start = time.Now()
	touched, gErr := e.updateGraph(ctx, &report, userID, in.MsgID, scores.Triples, cp)
	switch {
	case len(scores.Triples) == 0:
		e.stage(&report, StageGraph, StageSkipped, start, nil)
	case gErr != nil:
		log.Warn("graph processing failed (continuing)", "error", gErr, "checkpoint_labels", cp.EmbeddingCount())
		e.stage(&report, StageGraph, StagePartial, start, gErr)
	default:
		e.stage(&report, StageGraph, StageOK, start, nil)
	}

	// 9. refine centrality and priority from the touched nodes
	start = time.Now()
	if len(touched) == 0 {
		e.stage(&report, StageCentrality, StageSkipped, start, nil)
		return report, nil
	}
	centrality, cErr := MessageCentrality(ctx, e.kg, touched)
	if cErr == nil {
		base.Centrality = centrality
		priority := Priority(base)
		if cErr = e.messages.UpdateCentrality(dbc, in.MsgID, centrality, priority); cErr == nil {
			report.Metrics.Centrality = centrality
			report.Metrics.Priority = priority
		}
	}
	if cErr != nil {
		log.Warn("centrality refresh failed (continuing)", "error", cErr)
		e.stage(&report, StageCentrality, StagePartial, start, cErr)
	} else {
		e.stage(&report, StageCentrality, StageOK, start, nil)
	}

	if e.mirror != nil {
		start = time.Now()
		if mErr := e.mirror.SyncSubgraph(ctx, userID, touched); mErr != nil {
			log.Warn("graph mirror sync failed (continuing)", "error", mErr)
			e.stage(&report, StageMirror, StagePartial, start, mErr)
		} else {
			e.stage(&report, StageMirror, StageOK, start, nil)
		}
	}
	return report, nil
}

func (e *Enricher) updateGraph(ctx context.Context, report *EnrichReport, userID uuid.UUID, msgID int64, triples []Triple, cp *Checkpoint) ([]int64, error) {
	if len(triples) == 0 {
		return nil, nil
	}
	resolved, rErr := e.canon.ResolveBatch(ctx, userID, TripleLabels(triples), cp)
	report.NodesResolved = len(resolved)
	for _, r := range resolved {
		if r.Created {
			report.NodesCreated++
		}
	}
	if len(resolved) == 0 {
		return nil, rErr
	}
	res, aErr := ApplyTriples(ctx, e.kg, userID, msgID, triples, resolved)
	report.Edges = res.Edges
	return res.Touched, errors.Join(rErr, aErr)
}

func (e *Enricher) saveCheckpoint(ctx context.Context, log *logger.Logger, save func(context.Context, CheckpointSnapshot) error, cp *Checkpoint) {
	if save == nil || cp.EmbeddingCount() == 0 {
		return
	}
	// The attempt may be ending because ctx expired; the save must still land.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := save(saveCtx, cp.Snapshot()); err != nil {
		log.Warn("checkpoint save failed", "error", err)
	}
}

func (e *Enricher) stage(report *EnrichReport, name string, outcome StageOutcome, start time.Time, err error) {
	d := time.Since(start)
	sr := StageResult{Stage: name, Outcome: outcome, Duration: d.String()}
	if err != nil {
		sr.Error = err.Error()
	}
	report.Stages = append(report.Stages, sr)
	observability.Current().ObserveEnrichStage(name, string(outcome), d)
}

func (e *Enricher) fatal(report *EnrichReport, name string, start time.Time, err error) error {
	e.stage(report, name, StageFatal, start, err)
	return fmt.Errorf("enrich %s: %w", name, err)
}
