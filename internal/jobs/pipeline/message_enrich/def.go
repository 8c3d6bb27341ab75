package message_enrich

import (
	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/modules/memory"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

type Pipeline struct {
	log      *logger.Logger
	enricher *memory.Enricher
}

func New(baseLog *logger.Logger, enricher *memory.Enricher) *Pipeline {
	return &Pipeline{
		log:      baseLog.With("job", types.JobTypeMessageEnrich),
		enricher: enricher,
	}
}

func (p *Pipeline) Type() string { return types.JobTypeMessageEnrich }
