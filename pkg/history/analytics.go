package history

import (
	"context"
	"database/sql"
	"math"
	"time"
)

// AnalyticsStats is the rolled-up view served by /analytics/stats.
type AnalyticsStats struct {
	TotalQueries      int       `json:"total_queries"`
	SuccessfulQueries int       `json:"successful_queries"`
	FailedQueries     int       `json:"failed_queries"`
	TotalDocuments    int       `json:"total_documents"`
	AvgResponseTime   float64   `json:"avg_response_time"`
	TopLLMUsed        string    `json:"top_llm_used,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// PopularQuestion is one frequently asked question group.
type PopularQuestion struct {
	Question        string    `json:"question"`
	Frequency       int       `json:"frequency"`
	SuccessRate     float64   `json:"success_rate"`
	AvgResponseTime float64   `json:"avg_response_time"`
	LastAsked       time.Time `json:"last_asked"`
}

// PopularQuestionsResult bundles popular questions with the distinct
// question count.
type PopularQuestionsResult struct {
	Questions      []PopularQuestion `json:"popular_questions"`
	TotalQuestions int               `json:"total_unique_questions"`
}

// QueryTrend is one day of query volume.
type QueryTrend struct {
	Date            string  `json:"date"`
	TotalQueries    int     `json:"total_queries"`
	SuccessRate     float64 `json:"success_rate"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

// LLMUsageStats reports how often each backend answered.
type LLMUsageStats struct {
	Usage map[string]int `json:"llm_usage"`
	Top   string         `json:"most_used,omitempty"`
}

// Stats recounts live totals, overwrites the singleton analytics row,
// and returns the fresh numbers. Counting live keeps the row honest even
// after out-of-band deletes.
func (r *Repository) Stats(ctx context.Context) (*AnalyticsStats, error) {
	stats := &AnalyticsStats{LastUpdated: time.Now().UTC()}

	err := r.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success = 'true' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(response_time), 0)
		FROM query_history`).Scan(&stats.TotalQueries, &stats.SuccessfulQueries, &stats.AvgResponseTime)
	if err != nil {
		return nil, err
	}
	stats.FailedQueries = stats.TotalQueries - stats.SuccessfulQueries
	stats.AvgResponseTime = round2(stats.AvgResponseTime)

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.TotalDocuments); err != nil {
		return nil, err
	}

	var top sql.NullString
	err = r.db.QueryRowContext(ctx, `SELECT llm_used FROM query_history
		WHERE llm_used IS NOT NULL AND llm_used != ''
		GROUP BY llm_used ORDER BY COUNT(*) DESC LIMIT 1`).Scan(&top)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	stats.TopLLMUsed = top.String

	_, err = r.db.ExecContext(ctx,
		`UPDATE analytics_stats SET total_queries = ?, total_documents = ?, avg_response_time = ?, last_updated = ?`,
		stats.TotalQueries, stats.TotalDocuments, stats.AvgResponseTime, stats.LastUpdated)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// PopularQuestions groups history rows by similarity hash and returns
// the groups asked at least minFrequency times, most frequent first. The
// representative question text is the most recent phrasing.
func (r *Repository) PopularQuestions(ctx context.Context, minFrequency, limit int) (*PopularQuestionsResult, error) {
	if minFrequency < 1 {
		minFrequency = 2
	}
	if limit < 1 || limit > 50 {
		limit = 10
	}

	result := &PopularQuestionsResult{Questions: make([]PopularQuestion, 0)}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT similarity_hash) FROM query_history WHERE similarity_hash IS NOT NULL`).
		Scan(&result.TotalQuestions)
	if err != nil {
		return nil, err
	}

	query := `SELECT
		(SELECT question FROM query_history q2
		 WHERE q2.similarity_hash = q.similarity_hash
		 ORDER BY q2.created_at DESC, q2.id DESC LIMIT 1) AS question,
		COUNT(*) AS frequency,
		SUM(CASE WHEN success = 'true' THEN 1 ELSE 0 END) AS successes,
		AVG(response_time) AS avg_response_time,
		MAX(created_at) AS last_asked
		FROM query_history q
		WHERE similarity_hash IS NOT NULL
		GROUP BY similarity_hash
		HAVING COUNT(*) >= ?
		ORDER BY frequency DESC, last_asked DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, minFrequency, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pq PopularQuestion
		var successes int
		var lastAsked string
		if err := rows.Scan(&pq.Question, &pq.Frequency, &successes, &pq.AvgResponseTime, &lastAsked); err != nil {
			return nil, err
		}
		pq.LastAsked = parseTimestamp(lastAsked)
		if pq.Frequency > 0 {
			pq.SuccessRate = round2(float64(successes) / float64(pq.Frequency) * 100)
		}
		pq.AvgResponseTime = round2(pq.AvgResponseTime)
		result.Questions = append(result.Questions, pq)
	}
	return result, rows.Err()
}

// QueryTrends reports per-day volume for the last days days, zero-filled
// so the chart has a point for every day. Days are UTC.
func (r *Repository) QueryTrends(ctx context.Context, days int) ([]QueryTrend, error) {
	if days < 1 {
		days = 7
	}

	since := time.Now().UTC().AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	query := `SELECT
		DATE(created_at) AS day,
		COUNT(*),
		SUM(CASE WHEN success = 'true' THEN 1 ELSE 0 END),
		AVG(response_time)
		FROM query_history
		WHERE created_at >= ?
		GROUP BY DATE(created_at)`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byDay := make(map[string]QueryTrend)
	for rows.Next() {
		var day string
		var total, successes int
		var avg float64
		if err := rows.Scan(&day, &total, &successes, &avg); err != nil {
			return nil, err
		}
		trend := QueryTrend{Date: day, TotalQueries: total, AvgResponseTime: round2(avg)}
		if total > 0 {
			trend.SuccessRate = round2(float64(successes) / float64(total) * 100)
		}
		byDay[day] = trend
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trends := make([]QueryTrend, 0, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format("2006-01-02")
		if trend, ok := byDay[date]; ok {
			trends = append(trends, trend)
		} else {
			trends = append(trends, QueryTrend{Date: date})
		}
	}
	return trends, nil
}

// LLMUsage counts answered queries per backend.
func (r *Repository) LLMUsage(ctx context.Context) (*LLMUsageStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT llm_used, COUNT(*) FROM query_history
		WHERE llm_used IS NOT NULL AND llm_used != ''
		GROUP BY llm_used ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &LLMUsageStats{Usage: make(map[string]int)}
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		if stats.Top == "" {
			stats.Top = name
		}
		stats.Usage[name] = count
	}
	return stats, rows.Err()
}

// parseTimestamp decodes a timestamp coming out of an aggregate
// expression, where the driver no longer knows the column type.
func parseTimestamp(s string) time.Time {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
