// Package history persists documents and query history in SQLite and
// derives the analytics served by the API.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/liliang-cn/docqa/pkg/domain"
)

// Repository stores documents, query history, and rolled-up analytics.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db}
	if err := repo.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return repo, nil
}

func (r *Repository) initialize(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_type TEXT NOT NULL,
			processed_path TEXT,
			status TEXT DEFAULT 'uploaded',
			char_count INTEGER DEFAULT 0,
			chunks_created INTEGER DEFAULT 0,
			document_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS query_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			question TEXT NOT NULL,
			answer TEXT,
			sources_count INTEGER DEFAULT 0,
			response_time REAL DEFAULT 0,
			llm_used TEXT,
			context_chunks_count INTEGER DEFAULT 0,
			success TEXT DEFAULT 'true',
			similarity_hash TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analytics_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			total_queries INTEGER DEFAULT 0,
			total_documents INTEGER DEFAULT 0,
			avg_response_time REAL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_document_id ON documents(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_query_history_similarity_hash ON query_history(similarity_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_query_history_created_at ON query_history(created_at)`,
	}

	for _, query := range queries {
		if _, err := r.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	// Singleton analytics row; everything else overwrites it in place.
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics_stats`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO analytics_stats (total_queries, total_documents, avg_response_time, last_updated)
			 VALUES (0, 0, 0, ?)`, time.Now().UTC())
		return err
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// SaveDocument inserts a new document row.
func (r *Repository) SaveDocument(ctx context.Context, doc *domain.Document) error {
	query := `INSERT INTO documents (id, filename, file_path, file_type, processed_path,
			  status, char_count, chunks_created, document_id, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Filename,
		doc.FilePath,
		doc.FileType,
		doc.ProcessedPath,
		doc.Status,
		doc.CharCount,
		doc.ChunksCreated,
		doc.DocumentID,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	return err
}

// UpdateDocument writes back processing results for an existing row.
func (r *Repository) UpdateDocument(ctx context.Context, doc *domain.Document) error {
	query := `UPDATE documents
			  SET processed_path = ?, status = ?, char_count = ?, chunks_created = ?, updated_at = ?
			  WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		doc.ProcessedPath,
		doc.Status,
		doc.CharCount,
		doc.ChunksCreated,
		time.Now().UTC(),
		doc.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, doc.ID)
	}
	return nil
}

const documentColumns = `id, filename, file_path, file_type, processed_path, status,
			  char_count, chunks_created, document_id, created_at, updated_at`

// GetDocument retrieves a document by its primary ID.
func (r *Repository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return doc, err
}

// DocumentName resolves a vector-store document ID to its filename.
func (r *Repository) DocumentName(ctx context.Context, documentID string) (string, error) {
	var filename string
	err := r.db.QueryRowContext(ctx,
		`SELECT filename FROM documents WHERE document_id = ? OR id = ?`,
		documentID, documentID).Scan(&filename)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}
	return filename, err
}

// ListDocuments returns a page of documents newest first, plus the total
// row count.
func (r *Repository) ListDocuments(ctx context.Context, skip, limit int) ([]domain.Document, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + documentColumns + ` FROM documents
			  ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, *doc)
	}
	return docs, total, rows.Err()
}

// AllDocuments returns every stored document, oldest first. Used by the
// vector store rebuild.
func (r *Repository) AllDocuments(ctx context.Context) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document row.
func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}

// CountDocuments returns the number of stored documents.
func (r *Repository) CountDocuments(ctx context.Context) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&total)
	return total, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var processedPath, documentID sql.NullString

	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.FilePath,
		&doc.FileType,
		&processedPath,
		&doc.Status,
		&doc.CharCount,
		&doc.ChunksCreated,
		&documentID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.ProcessedPath = processedPath.String
	doc.DocumentID = documentID.String
	return &doc, nil
}

// RecordQuery appends a history row and folds its response time into the
// running average on the analytics singleton.
func (r *Repository) RecordQuery(ctx context.Context, record domain.QueryRecord) error {
	query := `INSERT INTO query_history (question, answer, sources_count, response_time,
			  llm_used, context_chunks_count, success, similarity_hash, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		record.Question,
		record.Answer,
		record.SourcesCount,
		record.ResponseTime,
		record.LLMUsed,
		record.ContextChunksCount,
		encodeSuccess(record.Success),
		record.SimilarityHash,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHistoryStoreFailed, err)
	}

	// avg_n = (avg_{n-1} * (n-1) + rt) / n
	_, err = r.db.ExecContext(ctx,
		`UPDATE analytics_stats
		 SET total_queries = total_queries + 1,
			 avg_response_time = (avg_response_time * total_queries + ?) / (total_queries + 1),
			 last_updated = ?`,
		record.ResponseTime, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrHistoryStoreFailed, err)
	}
	return nil
}

// History returns a page of query records newest first, plus the total
// row count.
func (r *Repository) History(ctx context.Context, limit, skip int) ([]domain.QueryRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_history`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, question, answer, sources_count, response_time, llm_used,
			  context_chunks_count, success, similarity_hash, created_at
			  FROM query_history
			  ORDER BY created_at DESC, id DESC
			  LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := make([]domain.QueryRecord, 0)
	for rows.Next() {
		var rec domain.QueryRecord
		var answer, llmUsed, hash sql.NullString
		var success string

		err := rows.Scan(
			&rec.ID,
			&rec.Question,
			&answer,
			&rec.SourcesCount,
			&rec.ResponseTime,
			&llmUsed,
			&rec.ContextChunksCount,
			&success,
			&hash,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		rec.Answer = answer.String
		rec.LLMUsed = llmUsed.String
		rec.SimilarityHash = hash.String
		rec.Success = success == "true"
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// The success column keeps the original string encoding; callers only
// ever see a bool.
func encodeSuccess(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}
