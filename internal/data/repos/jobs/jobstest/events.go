package jobstest

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
)

// FakeJobRunEventRepo keeps events in append order.
type FakeJobRunEventRepo struct {
	mu     sync.Mutex
	events []*types.JobRunEvent
}

var _ jobsrepo.JobRunEventRepo = (*FakeJobRunEventRepo)(nil)

func NewFakeJobRunEventRepo() *FakeJobRunEventRepo {
	return &FakeJobRunEventRepo{}
}

func (r *FakeJobRunEventRepo) Append(dbc dbctx.Context, ev *types.JobRunEvent) error {
	if ev == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	cp := *ev
	r.events = append(r.events, &cp)
	return nil
}

func (r *FakeJobRunEventRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID, limit int) ([]*types.JobRunEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*types.JobRunEvent{}
	for _, ev := range r.events {
		if ev.JobID == jobID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
