package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

// Service renders trade receipts from finalized tickets.
type Service struct {
	now func() time.Time
}

// NewService creates a receipt renderer.
func NewService() *Service {
	return &Service{now: time.Now}
}

// Receipt renders a receipt for a finalized ticket. It produces a PDF when
// headless Chrome is available and falls back to the HTML rendering when
// it is not.
func (s *Service) Receipt(t ticket.Ticket) (*Result, error) {
	data := ReceiptData{
		TicketID:     t.ID,
		Creator:      t.Creator,
		Counterparty: t.Counterparty,
		Mediator:     t.Claimant,
		Offer:        t.Offer,
		Request:      t.Request,
		Forms:        t.Forms,
		FinalizedAt:  s.clock(),
	}
	if !t.UpdatedAt.IsZero() {
		data.FinalizedAt = t.UpdatedAt
	}

	html, err := RenderReceiptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}

	title := fmt.Sprintf("receipt %s", t.ID)
	result, err := renderReceiptPDF(html, title)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrPDFDependencyMissing) {
		return nil, err
	}

	return &Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(title) + ".html",
		MimeType: "text/html; charset=utf-8",
		Format:   FormatHTML,
	}, nil
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
