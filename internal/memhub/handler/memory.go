// Package handler provides HTTP handlers for the memory service.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/memhub/internal/memhub/biz"
)

// MemoryHandler handles memory HTTP requests.
type MemoryHandler struct {
	service *biz.MemoryService
}

// NewMemoryHandler creates a new MemoryHandler.
func NewMemoryHandler(service *biz.MemoryService) *MemoryHandler {
	return &MemoryHandler{service: service}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// QueryRequest represents a memory query request.
type QueryRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
	Timestamp string `json:"timestamp"`
}

// Query retrieves memory for a tenant and builds augmented context.
func (h *MemoryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	var at time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "timestamp 必须是 RFC3339 格式"})
			return
		}
		at = parsed
	}

	result, err := h.service.Query(c.Request.Context(), req.UserID, req.Query, at)
	if err != nil {
		if errors.Is(err, biz.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "ok", Data: result})
}

// UploadMessage is one conversation turn in an upload request.
type UploadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UploadRequest represents a memory upload request.
type UploadRequest struct {
	UserID    string          `json:"user_id" binding:"required"`
	Messages  []UploadMessage `json:"messages"`
	Files     []string        `json:"files"`
	Timestamp string          `json:"timestamp"`
}

// Upload stores new conversation memory for a tenant.
func (h *MemoryHandler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	var at time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "timestamp 必须是 RFC3339 格式"})
			return
		}
		at = parsed
	}

	messages := make([]biz.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, biz.Message{Role: m.Role, Content: m.Content})
	}

	result, err := h.service.Upload(c.Request.Context(), req.UserID, messages, req.Files, at)
	if err != nil {
		if errors.Is(err, biz.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
			return
		}
		// 维度不匹配等硬性错误统一走 500
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "ok", Data: result})
}

// Stats returns service statistics.
func (h *MemoryHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "ok", Data: h.service.Stats(c.Request.Context())})
}

// Healthz reports service health including vector index connectivity.
func (h *MemoryHandler) Healthz(c *gin.Context) {
	status := gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)}
	if err := h.service.Ping(c.Request.Context()); err != nil {
		status["status"] = "degraded"
		status["vector_index"] = err.Error()
	}
	c.JSON(http.StatusOK, status)
}
