package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/recall-backend/internal/domain"
	"github.com/yungbote/recall-backend/internal/http/response"
)

const maxRetrieveK = 50

type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID uuid.UUID, query string, excludeThreadID *uuid.UUID, k int) []types.MemoryCandidate
}

type MemoryHandler struct {
	retriever MemoryRetriever
}

func NewMemoryHandler(retriever MemoryRetriever) *MemoryHandler {
	return &MemoryHandler{retriever: retriever}
}

type retrieveRequest struct {
	UserID          uuid.UUID  `json:"user_id" binding:"required"`
	Query           string     `json:"query"`
	ExcludeThreadID *uuid.UUID `json:"exclude_thread_id"`
	K               int        `json:"k"`
}

// POST /api/memories/retrieve
func (h *MemoryHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("query is required"))
		return
	}
	if req.K < 0 || req.K > maxRetrieveK {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("k must be between 0 and 50"))
		return
	}
	memories := h.retriever.Retrieve(c.Request.Context(), req.UserID, req.Query, req.ExcludeThreadID, req.K)
	response.RespondOK(c, gin.H{"memories": memories})
}
