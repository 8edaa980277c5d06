package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Only approved churches are visible to it, matching the public feed.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the churches fts column with ts_headline
// snippets, restricted to approved profiles.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "status = 'approved' AND fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2
	if q.FilterProvince != "" {
		where += fmt.Sprintf(" AND province = $%d", argN)
		args = append(args, q.FilterProvince)
		argN++
	}
	if q.FilterClassification != "" {
		where += fmt.Sprintf(" AND classification = $%d", argN)
		args = append(args, q.FilterClassification)
		argN++
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM churches WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, name, town, province, diocese, classification,
			ts_headline('english', coalesce(description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM churches
		WHERE %s
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Town, &r.Province, &r.Diocese, &r.Classification, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadPublishedRecords returns all approved churches for full reindexing.
func (p *PgFTS) LoadPublishedRecords(ctx context.Context) ([]ChurchRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, town, province, diocese, patron, description, classification
		FROM churches
		WHERE status = 'approved'
	`)
	if err != nil {
		return nil, fmt.Errorf("load churches: %w", err)
	}
	defer rows.Close()

	records := make([]ChurchRecord, 0)
	for rows.Next() {
		var rec ChurchRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Town, &rec.Province, &rec.Diocese, &rec.Patron, &rec.Description, &rec.Classification); err != nil {
			return nil, fmt.Errorf("scan church: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate churches: %w", err)
	}
	return records, nil
}
