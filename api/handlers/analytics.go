package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/docqa/pkg/history"
)

// AnalyticsHandler serves rolled-up query statistics.
type AnalyticsHandler struct {
	repo *history.Repository
}

func NewAnalyticsHandler(repo *history.Repository) *AnalyticsHandler {
	return &AnalyticsHandler{repo: repo}
}

// Stats returns overall query and document totals.
func (h *AnalyticsHandler) Stats(c *gin.Context) {
	stats, err := h.repo.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PopularQuestions returns frequently repeated questions.
func (h *AnalyticsHandler) PopularQuestions(c *gin.Context) {
	minFrequency, _ := strconv.Atoi(c.DefaultQuery("min_frequency", "2"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	result, err := h.repo.PopularQuestions(c.Request.Context(), minFrequency, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load popular questions: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// QueryTrends returns per-day query volume for the requested window.
func (h *AnalyticsHandler) QueryTrends(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	if days < 1 || days > 365 {
		days = 7
	}

	trends, err := h.repo.QueryTrends(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trends: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"days":   days,
		"trends": trends,
	})
}

// LLMUsage returns how often each backend answered.
func (h *AnalyticsHandler) LLMUsage(c *gin.Context) {
	usage, err := h.repo.LLMUsage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load llm usage: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}
