package app

import (
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/recall-backend/internal/data/repos/chat"
	jobsrepo "github.com/yungbote/recall-backend/internal/data/repos/jobs"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type Repos struct {
	Messages  chatrepo.MessageRepo
	KG        chatrepo.KgRepo
	JobRuns   jobsrepo.JobRunRepo
	JobEvents jobsrepo.JobRunEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Messages:  chatrepo.NewMessageRepo(db, log),
		KG:        chatrepo.NewKgRepo(db, log),
		JobRuns:   jobsrepo.NewJobRunRepo(db, log),
		JobEvents: jobsrepo.NewJobRunEventRepo(db, log),
	}
}
