package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/http/response"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/services"
)

type MessageHandler struct {
	jobs services.JobService
}

func NewMessageHandler(jobs services.JobService) *MessageHandler {
	return &MessageHandler{jobs: jobs}
}

type enrichRequest struct {
	UserID   uuid.UUID `json:"user_id" binding:"required"`
	ThreadID uuid.UUID `json:"thread_id"`
	Content  string    `json:"content"`
}

// POST /api/messages/:id/enrich
//
// Queues enrichment for a persisted message. Repeated calls while a run is
// pending return that run with 200 instead of 202.
func (h *MessageHandler) Enrich(c *gin.Context) {
	msgID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || msgID <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_message_id", err)
		return
	}
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, created, err := h.jobs.EnqueueMessageEnrich(dbctx.New(c.Request.Context()), types.MessageEnrichPayload{
		MsgID:    msgID,
		UserID:   req.UserID,
		ThreadID: req.ThreadID,
		Content:  req.Content,
	})
	if err != nil {
		response.RespondAppError(c, "enqueue_failed", err)
		return
	}
	if !created {
		response.RespondOK(c, gin.H{"job": job, "created": false})
		return
	}
	response.RespondAccepted(c, gin.H{"job": job, "created": true})
}
