package message_enrich

import (
	"context"
	"fmt"

	types "github.com/yungbote/recall-backend/internal/domain"
	jobrt "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/modules/memory"
	apperr "github.com/yungbote/recall-backend/internal/pkg/errors"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var payload types.MessageEnrichPayload
	if err := jc.DecodePayload(&payload); err != nil {
		jc.Fail("validate", err)
		return nil
	}
	if payload.MsgID <= 0 {
		jc.Fail("validate", fmt.Errorf("%w: missing msg_id", apperr.ErrInvalidArgument))
		return nil
	}
	log := p.log.With("job_id", jc.Job.ID, "msg_id", payload.MsgID, "attempt", jc.Job.Attempts)

	var snap memory.CheckpointSnapshot
	found, err := jc.LoadCheckpoint(&snap)
	if err != nil {
		log.Warn("checkpoint unreadable, starting fresh (continuing)", "error", err)
		found = false
	}
	var restored *memory.CheckpointSnapshot
	if found {
		restored = &snap
		log.Debug("resuming from checkpoint", "embeddings", len(snap.Embeddings))
	}

	jc.Progress("enrich", 10, "enriching message")
	report, err := p.enricher.Enrich(jc.Ctx, memory.EnrichInput{
		MsgID:      payload.MsgID,
		UserID:     payload.UserID,
		ThreadID:   payload.ThreadID,
		Content:    payload.Content,
		Checkpoint: memory.RestoreCheckpoint(restored),
		SaveCheckpoint: func(_ context.Context, s memory.CheckpointSnapshot) error {
			return jc.SaveCheckpoint(s)
		},
	})
	if err != nil {
		jc.Fail(failedStage(report), err)
		return nil
	}

	outcome := report.Outcome()
	if outcome == memory.StagePartial {
		log.Warn("enrichment finished with partial stages", "stages", report.Stages)
	}
	jc.Succeed("done", map[string]any{
		"outcome": outcome,
		"report":  report,
	})
	return nil
}

func failedStage(r memory.EnrichReport) string {
	for _, s := range r.Stages {
		if s.Outcome == memory.StageFatal {
			return s.Stage
		}
	}
	return "enrich"
}
