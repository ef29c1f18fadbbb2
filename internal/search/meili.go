package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTickets = "middleman_tickets"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the ticket index.
// The returned value is usable even when the initial connection fails; a
// background monitor flips it healthy once the server comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTickets,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxTickets, err)
	}

	index := m.client.Index(idxTickets)
	filterable := []interface{}{"status", "creator", "counterparty", "claimant"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxTickets, err)
	}
	searchable := []string{"offer", "request", "creator", "counterparty"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxTickets, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the ticket index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		Limit:                 int64(q.limitOrDefault()),
		Offset:                int64(q.offsetOrZero()),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var filters []string
	if q.FilterStatus != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.FilterStatus))
	}
	if q.FilterParticipant != "" {
		filters = append(filters, fmt.Sprintf("(creator = %[1]q OR counterparty = %[1]q OR claimant = %[1]q)", q.FilterParticipant))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxTickets).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:           decodeString(hit, "id"),
		Offer:        decodeString(hit, "offer"),
		Request:      decodeString(hit, "request"),
		Status:       decodeString(hit, "status"),
		Creator:      decodeString(hit, "creator"),
		Counterparty: decodeString(hit, "counterparty"),
		Claimant:     decodeString(hit, "claimant"),
	}
	r.Snippet = firstNonBlank(
		decodeFormattedString(hit, "offer"),
		decodeFormattedString(hit, "request"),
		r.Offer,
	)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexTicket adds or updates a ticket in the search index.
func (m *Meili) IndexTicket(rec TicketRecord) error {
	_, err := m.client.Index(idxTickets).AddDocuments([]TicketRecord{rec}, nil)
	return err
}

// DeleteTicket removes a ticket from the search index.
func (m *Meili) DeleteTicket(id string) error {
	_, err := m.client.Index(idxTickets).DeleteDocument(id, nil)
	return err
}

// IndexTickets bulk-indexes tickets.
func (m *Meili) IndexTickets(records []TicketRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTickets).AddDocuments(records, nil)
	return err
}
