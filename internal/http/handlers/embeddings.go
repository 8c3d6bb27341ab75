package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/recall-backend/internal/http/response"
	"github.com/yungbote/recall-backend/internal/modules/memory"
)

type EmbeddingBackfiller interface {
	Run(ctx context.Context) (memory.BackfillResult, error)
}

type EmbeddingHandler struct {
	backfill EmbeddingBackfiller
}

func NewEmbeddingHandler(backfill EmbeddingBackfiller) *EmbeddingHandler {
	return &EmbeddingHandler{backfill: backfill}
}

// POST /api/process-embeddings
func (h *EmbeddingHandler) ProcessPending(c *gin.Context) {
	res, err := h.backfill.Run(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, "backfill_failed", err)
		return
	}
	response.RespondOK(c, res)
}
