// Package handlers implements the HTTP endpoints under /api/v1.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/liliang-cn/docqa/api/websocket"
	"github.com/liliang-cn/docqa/pkg/domain"
	"github.com/liliang-cn/docqa/pkg/extractor"
	"github.com/liliang-cn/docqa/pkg/history"
	"github.com/liliang-cn/docqa/pkg/log"
	"github.com/liliang-cn/docqa/pkg/rag"
)

// DocumentsHandler manages document upload, listing, and index admin.
type DocumentsHandler struct {
	repo        *history.Repository
	pipeline    *rag.Service
	hub         *websocket.Hub
	uploadsDir  string
	maxFileSize int64
}

func NewDocumentsHandler(repo *history.Repository, pipeline *rag.Service, hub *websocket.Hub, uploadsDir string, maxFileSize int64) *DocumentsHandler {
	return &DocumentsHandler{
		repo:        repo,
		pipeline:    pipeline,
		hub:         hub,
		uploadsDir:  uploadsDir,
		maxFileSize: maxFileSize,
	}
}

// Upload accepts a multipart document, stores it, and runs the ingestion
// pipeline. An optional client_id form field routes progress events to
// that WebSocket client.
func (h *DocumentsHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	if !extractor.IsValidFile(fileHeader.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported file type, allowed: %s",
				strings.Join(extractor.SupportedExtensions(), ", ")),
		})
		return
	}
	if fileHeader.Size > h.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds the %d MB limit", h.maxFileSize/(1024*1024)),
		})
		return
	}

	fileID := uuid.New().String()
	savedName := fileID + "_" + filepath.Base(fileHeader.Filename)
	savedPath := filepath.Join(h.uploadsDir, savedName)

	if err := os.MkdirAll(h.uploadsDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded file"})
		return
	}
	if err := c.SaveUploadedFile(fileHeader, savedPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded file"})
		return
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:         fileID,
		Filename:   fileHeader.Filename,
		FilePath:   savedPath,
		FileType:   strings.ToLower(filepath.Ext(fileHeader.Filename)),
		Status:     domain.StatusUploaded,
		DocumentID: savedName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.repo.SaveDocument(c.Request.Context(), doc); err != nil {
		os.Remove(savedPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record document"})
		return
	}

	var notify domain.ProgressNotifier
	if clientID := c.PostForm("client_id"); clientID != "" && h.hub != nil {
		notify = h.hub.ProgressNotifier(clientID)
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), savedPath, doc.DocumentID, nil, notify)
	if err != nil {
		// The row and the file stay behind in the uploaded state so the
		// document can be retried or inspected.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process document: " + err.Error()})
		return
	}

	doc.ProcessedPath = result.ProcessedPath
	doc.CharCount = result.CharCount
	doc.ChunksCreated = result.ChunksCreated
	doc.Status = domain.StatusProcessed
	if err := h.repo.UpdateDocument(c.Request.Context(), doc); err != nil {
		log.Warnf("failed to update document after ingest: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"id":             doc.ID,
		"document_id":    doc.DocumentID,
		"filename":       doc.Filename,
		"status":         doc.Status,
		"char_count":     doc.CharCount,
		"chunks_created": doc.ChunksCreated,
	})
}

// List returns a page of documents, newest first.
func (h *DocumentsHandler) List(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if skip < 0 {
		skip = 0
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	docs, total, err := h.repo.ListDocuments(c.Request.Context(), skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list documents: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     total,
		"skip":      skip,
		"limit":     limit,
	})
}

// Get returns a single document.
func (h *DocumentsHandler) Get(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Delete removes the document's files, its vector rows, and its DB row.
func (h *DocumentsHandler) Delete(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}

	if _, err := h.pipeline.RemoveDocument(doc.DocumentID); err != nil {
		log.Warnf("failed to remove vectors for %s: %v", doc.DocumentID, err)
	}
	removeFile(doc.FilePath)
	removeFile(doc.ProcessedPath)

	if err := h.repo.DeleteDocument(c.Request.Context(), doc.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete document: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      doc.ID,
		"message": "Document deleted successfully",
	})
}

// Content returns the extracted text, re-extracting from the original
// file when the processed artifact is missing.
func (h *DocumentsHandler) Content(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}

	var content string
	if doc.ProcessedPath != "" {
		if data, err := os.ReadFile(doc.ProcessedPath); err == nil {
			content = string(data)
		}
	}
	if content == "" {
		text, _, err := h.pipeline.ExtractText(doc.FilePath)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to extract content: " + err.Error()})
			return
		}
		content = text
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       doc.ID,
		"filename": doc.Filename,
		"content":  content,
	})
}

// Download serves the original uploaded file.
func (h *DocumentsHandler) Download(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "original file no longer exists"})
		return
	}
	c.FileAttachment(doc.FilePath, doc.Filename)
}

// Search runs a direct vector search scoped to documents.
func (h *DocumentsHandler) Search(c *gin.Context) {
	var req struct {
		Query          string  `json:"query" binding:"required"`
		TopK           int     `json:"top_k"`
		ScoreThreshold float64 `json:"score_threshold"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TopK == 0 {
		req.TopK = 5
	}
	if req.TopK < 1 || req.TopK > 20 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be between 1 and 20"})
		return
	}
	if req.ScoreThreshold == 0 {
		req.ScoreThreshold = 0.2
	}

	results, err := h.pipeline.SearchDocuments(c.Request.Context(), req.Query, req.TopK, req.ScoreThreshold, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"query":         req.Query,
		"results_count": len(results),
		"results":       results,
	})
}

// RagStats exposes the pipeline's index statistics.
func (h *DocumentsHandler) RagStats(c *gin.Context) {
	stats := h.pipeline.Stats()
	if total, err := h.repo.CountDocuments(c.Request.Context()); err == nil {
		stats["total_documents"] = total
	}
	c.JSON(http.StatusOK, stats)
}

// ResetVectorStore clears the index and re-ingests every stored
// document from its original file.
func (h *DocumentsHandler) ResetVectorStore(c *gin.Context) {
	if err := h.pipeline.Reset(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear vector store: " + err.Error()})
		return
	}

	docs, err := h.repo.AllDocuments(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load documents: " + err.Error()})
		return
	}

	rebuilt := 0
	failed := 0
	for i := range docs {
		doc := &docs[i]
		result, err := h.pipeline.Ingest(c.Request.Context(), doc.FilePath, doc.DocumentID, nil, nil)
		if err != nil {
			log.Warnf("rebuild failed for %s: %v", doc.Filename, err)
			failed++
			continue
		}
		doc.ProcessedPath = result.ProcessedPath
		doc.CharCount = result.CharCount
		doc.ChunksCreated = result.ChunksCreated
		doc.Status = domain.StatusProcessed
		if err := h.repo.UpdateDocument(c.Request.Context(), doc); err != nil {
			log.Warnf("failed to update document %s after rebuild: %v", doc.ID, err)
		}
		rebuilt++
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"rebuilt": rebuilt,
		"failed":  failed,
		"message": fmt.Sprintf("Vector store rebuilt from %d documents", rebuilt),
	})
}

func (h *DocumentsHandler) lookup(c *gin.Context) (*domain.Document, bool) {
	id := c.Param("id")
	doc, err := h.repo.GetDocument(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return doc, true
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to remove %s: %v", path, err)
	}
}
