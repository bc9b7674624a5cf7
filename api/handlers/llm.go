package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/llm"
)

// LLMHandler exposes backend switching and status.
type LLMHandler struct {
	llm *llm.Service
}

func NewLLMHandler(llmService *llm.Service) *LLMHandler {
	return &LLMHandler{llm: llmService}
}

// Switch makes the named backend the primary for future answers. The
// backend comes from the "backend" query parameter or JSON body.
func (h *LLMHandler) Switch(c *gin.Context) {
	backend := c.Query("backend")
	if backend == "" {
		var req struct {
			Backend string `json:"backend"`
		}
		if err := c.ShouldBindJSON(&req); err == nil {
			backend = req.Backend
		}
	}
	if backend == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backend is required"})
		return
	}

	if err := h.llm.SwitchPrimary(backend); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrServiceUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"primary": backend,
		"message": "Switched primary LLM to " + backend,
	})
}

// Status reports backend availability and the active priority order.
func (h *LLMHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.llm.Status())
}
