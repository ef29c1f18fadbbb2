package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search. It is the
// fallback when Meilisearch is down, and only available when tickets live
// in Postgres.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole service is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over the tickets table, ranking with ts_rank
// and building snippets with ts_headline.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.limitOrDefault()
	offset := q.offsetOrZero()

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	where := "t.fts @@ " + tsQuery
	if q.FilterStatus != "" {
		where += fmt.Sprintf(" AND t.status = $%d", argN)
		args = append(args, q.FilterStatus)
		argN++
	}
	if q.FilterParticipant != "" {
		where += fmt.Sprintf(" AND (t.creator = $%[1]d OR t.counterparty = $%[1]d OR t.claimant = $%[1]d)", argN)
		args = append(args, q.FilterParticipant)
		argN++
	}

	ctx := context.Background()

	countSQL := "SELECT count(*) FROM tickets t WHERE " + where
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT t.id, t.offer, t.request,
			ts_headline('english', t.offer || ' for ' || t.request, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			t.status, t.creator, t.counterparty, coalesce(t.claimant, '')
		FROM tickets t
		WHERE %s
		ORDER BY ts_rank(t.fts, %s) DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Offer, &r.Request, &r.Snippet, &r.Status, &r.Creator, &r.Counterparty, &r.Claimant); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all indexable tickets for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TicketRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, offer, request, status, creator, counterparty, coalesce(claimant, '')
		FROM tickets
	`)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	defer rows.Close()

	records := make([]TicketRecord, 0)
	for rows.Next() {
		var rec TicketRecord
		if err := rows.Scan(&rec.ID, &rec.Offer, &rec.Request, &rec.Status, &rec.Creator, &rec.Counterparty, &rec.Claimant); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}

	return records, nil
}
