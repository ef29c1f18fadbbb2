package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Both backends are optional; with neither configured every query comes back
// empty and indexing is a no-op.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. Either backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTicket indexes a ticket (fire-and-forget to Meilisearch).
func (s *Service) IndexTicket(rec TicketRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTicket(rec); err != nil {
			log.Printf("search: index ticket %s: %v", rec.ID, err)
		}
	}()
}

// DeleteTicket removes a ticket from the search index (fire-and-forget).
func (s *Service) DeleteTicket(id string) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTicket(id); err != nil {
			log.Printf("search: delete ticket %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes a full set of ticket records to Meilisearch.
func (s *Service) ReindexAll(records []TicketRecord) {
	if s == nil || s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexTickets(records); err != nil {
		log.Printf("search: reindex tickets: %v", err)
	}
}

// ReindexAllFromPG reindexes every ticket from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s == nil || s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(records)
}

// Close releases backend resources.
func (s *Service) Close() {
	if s == nil || s.meili == nil {
		return
	}
	s.meili.Close()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
