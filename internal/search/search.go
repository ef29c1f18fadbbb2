package search

import "github.com/rimuz-hub/Tether-Middleman/internal/ticket"

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	Offer        string `json:"offer"`
	Request      string `json:"request"`
	Snippet      string `json:"snippet"`
	Status       string `json:"status"`
	Creator      string `json:"creator"`
	Counterparty string `json:"counterparty"`
	Claimant     string `json:"claimant,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text              string
	FilterStatus      string // empty = all statuses
	FilterParticipant string // restrict to tickets involving this user
	Limit             int
	Offset            int
}

const defaultLimit = 20

// limitOrDefault clamps the page size. Zero or negative means the default.
func (q Query) limitOrDefault() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

func (q Query) offsetOrZero() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over tickets.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push tickets into a search index.
type Indexer interface {
	IndexTicket(rec TicketRecord) error
	DeleteTicket(id string) error
}

// TicketRecord is the data we index for a ticket.
type TicketRecord struct {
	ID           string `json:"id"`
	Offer        string `json:"offer"`
	Request      string `json:"request"`
	Status       string `json:"status"`
	Creator      string `json:"creator"`
	Counterparty string `json:"counterparty"`
	Claimant     string `json:"claimant"`
}

// RecordFromTicket maps a ticket onto its indexable projection.
func RecordFromTicket(t ticket.Ticket) TicketRecord {
	return TicketRecord{
		ID:           t.ID,
		Offer:        t.Offer,
		Request:      t.Request,
		Status:       string(t.Status),
		Creator:      t.Creator,
		Counterparty: t.Counterparty,
		Claimant:     t.Claimant,
	}
}
