package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/httpx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type BackfillerConfig struct {
	BatchSize   int
	MaxAttempts int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

type BackfillResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Backfiller embeds messages that were stored without a vector.
type Backfiller struct {
	log      *logger.Logger
	embedder Embedder
	messages chatrepo.MessageRepo
	cfg      BackfillerConfig
	sleep    func(context.Context, time.Duration) error
}

func NewBackfiller(log *logger.Logger, embedder Embedder, messages chatrepo.MessageRepo, cfg BackfillerConfig) *Backfiller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Backfiller{
		log:      log.With("component", "Backfiller"),
		embedder: embedder,
		messages: messages,
		cfg:      cfg,
		sleep:    httpx.Sleep,
	}
}

// WithSleep replaces the backoff sleep. Tests use it to avoid waiting.
func (b *Backfiller) WithSleep(fn func(context.Context, time.Duration) error) *Backfiller {
	b.sleep = fn
	return b
}

// Run processes one batch. The error is non-nil only when the batch could
// not be listed or ctx ended; per-message failures are counted instead.
func (b *Backfiller) Run(ctx context.Context) (BackfillResult, error) {
	res := BackfillResult{}
	dbc := dbctx.New(ctx)
	pending, err := b.messages.ListPendingEmbeddings(dbc, b.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list pending embeddings: %w", err)
	}
	defer func() { observability.Current().AddBackfill(res.Processed, res.Errors) }()

	for _, m := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		content := strings.TrimSpace(m.Text())
		if content == "" {
			continue
		}
		emb, err := b.embedWithRetry(ctx, content)
		if err == nil {
			err = b.messages.UpdateEmbedding(dbc, m.ID, emb)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			b.log.Warn("backfill embedding failed", "msg_id", m.ID, "error", err)
			res.Errors++
			continue
		}
		res.Processed++
	}
	b.log.Info("embedding backfill done", "processed", res.Processed, "errors", res.Errors)
	return res, nil
}

func (b *Backfiller) embedWithRetry(ctx context.Context, content string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		vecs, err := b.embedder.Embed(ctx, []string{content})
		if err == nil && len(vecs) == 1 && len(vecs[0]) > 0 {
			return vecs[0], nil
		}
		if err == nil {
			err = errors.New("embedder returned no vector")
		}
		lastErr = err
		if attempt == b.cfg.MaxAttempts {
			break
		}
		if sErr := b.sleep(ctx, httpx.Backoff(b.cfg.Backoff, 0, attempt)); sErr != nil {
			return nil, sErr
		}
	}
	return nil, fmt.Errorf("embed after %d attempts: %w", b.cfg.MaxAttempts, lastErr)
}
