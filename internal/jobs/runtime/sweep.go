package runtime

import (
	"time"

	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/services"
)

const staleSweepBatch = 100

// SweepStaleExhausted fails runs whose worker died during their last allowed
// attempt and emits a failed event for each. It returns how many were failed.
func SweepStaleExhausted(dbc dbctx.Context, repo jobsrepo.JobRunRepo, notify services.JobNotifier, staleRunning time.Duration) (int, error) {
	if staleRunning <= 0 {
		staleRunning = types.DefaultStaleRunningTime
	}
	failed, err := repo.FailExhaustedStale(dbc, staleRunning, staleSweepBatch)
	if err != nil {
		return 0, err
	}
	if notify != nil {
		for _, job := range failed {
			notify.JobFailed(job.OwnerUserID, job, job.Stage, job.Error)
		}
	}
	return len(failed), nil
}
