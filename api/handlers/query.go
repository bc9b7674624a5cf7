package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/history"
	"github.com/liliang-cn/docqa/pkg/llm"
	"github.com/liliang-cn/docqa/pkg/query"
	"github.com/liliang-cn/docqa/pkg/rag"
)

// QueryHandler serves question answering and search.
type QueryHandler struct {
	query    *query.Service
	pipeline *rag.Service
	llm      *llm.Service
	repo     *history.Repository
}

func NewQueryHandler(q *query.Service, pipeline *rag.Service, llmService *llm.Service, repo *history.Repository) *QueryHandler {
	return &QueryHandler{
		query:    q,
		pipeline: pipeline,
		llm:      llmService,
		repo:     repo,
	}
}

// Ask answers a question against the indexed documents.
func (h *QueryHandler) Ask(c *gin.Context) {
	var req domain.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.query.Ask(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Search returns raw scored chunks without generation.
func (h *QueryHandler) Search(c *gin.Context) {
	var req domain.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.query.Search(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History returns past queries newest first.
func (h *QueryHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}

	records, total, err := h.repo.History(c.Request.Context(), limit, skip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": records,
		"total":   total,
		"limit":   limit,
		"skip":    skip,
		"page":    skip/limit + 1,
	})
}

// Status reports index statistics alongside LLM backend availability.
func (h *QueryHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rag": h.pipeline.Stats(),
		"llm": h.llm.Status(),
	})
}

// Health reports whether the query path is serviceable. Unhealthy means
// no LLM backend is reachable.
func (h *QueryHandler) Health(c *gin.Context) {
	status := h.llm.Status()

	available := false
	if priority, ok := status["priority"].([]string); ok {
		for _, name := range priority {
			if entry, ok := status[name].(map[string]interface{}); ok {
				if up, _ := entry["available"].(bool); up {
					available = true
					break
				}
			}
		}
	}

	code := http.StatusOK
	health := "healthy"
	if !available {
		code = http.StatusServiceUnavailable
		health = "unhealthy"
	}
	c.JSON(code, gin.H{
		"status":        health,
		"llm_available": available,
		"index_chunks":  h.pipeline.Stats()["total_chunks"],
	})
}
