package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

// PostgresStore keeps one row per ticket, forms and confirmations as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]ticket.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator, counterparty, offer, request, status, claimant,
		       forms, confirmations, finalized, revision, created_at, updated_at
		FROM tickets
	`)
	if err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	defer rows.Close()

	table := map[string]ticket.Ticket{}
	for rows.Next() {
		var (
			t          ticket.Ticket
			formsRaw   []byte
			confirmRaw []byte
		)
		if err := rows.Scan(
			&t.ID, &t.Creator, &t.Counterparty, &t.Offer, &t.Request,
			&t.Status, &t.Claimant, &formsRaw, &confirmRaw,
			&t.Finalized, &t.Revision, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		if err := json.Unmarshal(formsRaw, &t.Forms); err != nil {
			log.Printf("store: ticket %s has corrupt forms, dropping them: %v", t.ID, err)
			t.Forms = nil
		}
		if err := json.Unmarshal(confirmRaw, &t.Confirmations); err != nil {
			log.Printf("store: ticket %s has corrupt confirmations, dropping them: %v", t.ID, err)
			t.Confirmations = nil
		}
		table[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return table, nil
}

func (s *PostgresStore) Put(ctx context.Context, t ticket.Ticket) error {
	forms := t.Forms
	if forms == nil {
		forms = map[string][]string{}
	}
	confirmations := t.Confirmations
	if confirmations == nil {
		confirmations = []string{}
	}
	formsRaw, err := json.Marshal(forms)
	if err != nil {
		return fmt.Errorf("marshal forms: %w", err)
	}
	confirmRaw, err := json.Marshal(confirmations)
	if err != nil {
		return fmt.Errorf("marshal confirmations: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, creator, counterparty, offer, request, status, claimant,
		                     forms, confirmations, finalized, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			creator=EXCLUDED.creator,
			counterparty=EXCLUDED.counterparty,
			offer=EXCLUDED.offer,
			request=EXCLUDED.request,
			status=EXCLUDED.status,
			claimant=EXCLUDED.claimant,
			forms=EXCLUDED.forms,
			confirmations=EXCLUDED.confirmations,
			finalized=EXCLUDED.finalized,
			revision=EXCLUDED.revision,
			updated_at=EXCLUDED.updated_at
	`, t.ID, t.Creator, t.Counterparty, t.Offer, t.Request, t.Status, t.Claimant,
		formsRaw, confirmRaw, t.Finalized, t.Revision, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert ticket %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
