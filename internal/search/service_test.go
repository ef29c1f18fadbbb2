package search

import (
	"testing"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

func TestServiceWithoutBackendsReturnsEmpty(t *testing.T) {
	svc := NewService(nil, nil)

	resp := svc.Search(Query{Text: "golden sword"})
	if resp.Total != 0 {
		t.Errorf("expected zero total, got %d", resp.Total)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Errorf("expected empty non-nil results, got %#v", resp.Results)
	}
	if resp.Query != "golden sword" {
		t.Errorf("query text not echoed: %q", resp.Query)
	}

	// Indexing without backends must not panic.
	svc.IndexTicket(TicketRecord{ID: "chan-1"})
	svc.DeleteTicket("chan-1")
	svc.ReindexAll([]TicketRecord{{ID: "chan-1"}})
}

func TestNilServiceIsSafe(t *testing.T) {
	var svc *Service

	resp := svc.Search(Query{Text: "anything"})
	if len(resp.Results) != 0 {
		t.Errorf("nil service returned results: %#v", resp.Results)
	}
	svc.IndexTicket(TicketRecord{ID: "chan-1"})
	svc.DeleteTicket("chan-1")
	svc.Close()
}

func TestQueryPagingNormalization(t *testing.T) {
	cases := []struct {
		limit, offset    int
		wantLim, wantOff int
	}{
		{0, 0, defaultLimit, 0},
		{-5, -3, defaultLimit, 0},
		{7, 40, 7, 40},
	}
	for _, c := range cases {
		q := Query{Limit: c.limit, Offset: c.offset}
		if got := q.limitOrDefault(); got != c.wantLim {
			t.Errorf("limitOrDefault(%d) = %d, want %d", c.limit, got, c.wantLim)
		}
		if got := q.offsetOrZero(); got != c.wantOff {
			t.Errorf("offsetOrZero(%d) = %d, want %d", c.offset, got, c.wantOff)
		}
	}
}

func TestRecordFromTicket(t *testing.T) {
	tk := ticket.Ticket{
		ID:           "chan-9",
		Creator:      "alice",
		Counterparty: "bob",
		Offer:        "golden sword",
		Request:      "50 gold",
		Status:       ticket.StatusClaimed,
		Claimant:     "staffX",
	}

	rec := RecordFromTicket(tk)
	if rec.ID != "chan-9" || rec.Status != "claimed" || rec.Claimant != "staffX" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Offer != "golden sword" || rec.Request != "50 gold" {
		t.Errorf("trade terms not carried over: %+v", rec)
	}
	if rec.Creator != "alice" || rec.Counterparty != "bob" {
		t.Errorf("parties not carried over: %+v", rec)
	}
}
