// Package ticket owns the trade-ticket table and its lifecycle rules.
package ticket

import (
	"errors"
	"sort"
	"time"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClaimed Status = "claimed"
	StatusClosed  Status = "closed"
)

var (
	ErrNotFound            = errors.New("ticket not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrAlreadyClaimed      = errors.New("ticket already claimed")
	ErrNotParticipant      = errors.New("not a ticket participant")
	ErrNotYetFormed        = errors.New("both forms not yet submitted")
	ErrInvalidCounterparty = errors.New("invalid counterparty")
	ErrProvisioningFailed  = errors.New("channel provisioning failed")
)

// Ticket is one trade-mediation session, keyed by the private channel
// hosting it. Forms holds at most one entry per participant; Confirmations
// is a subset of the identities present in Forms.
type Ticket struct {
	ID            string              `json:"id"`
	Creator       string              `json:"creator"`
	Counterparty  string              `json:"counterparty"`
	Offer         string              `json:"offer"`
	Request       string              `json:"request"`
	Status        Status              `json:"status"`
	Claimant      string              `json:"claimant,omitempty"`
	Forms         map[string][]string `json:"forms,omitempty"`
	Confirmations []string            `json:"confirmations,omitempty"`
	Finalized     bool                `json:"finalized,omitempty"`
	Revision      int64               `json:"revision"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func (t Ticket) IsParticipant(identity string) bool {
	return identity != "" && (identity == t.Creator || identity == t.Counterparty)
}

func (t Ticket) Participants() []string {
	return []string{t.Creator, t.Counterparty}
}

func (t Ticket) HasConfirmed(identity string) bool {
	for _, id := range t.Confirmations {
		if id == identity {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers outside the table lock.
func (t Ticket) Clone() Ticket {
	out := t
	if t.Forms != nil {
		out.Forms = make(map[string][]string, len(t.Forms))
		for participant, answers := range t.Forms {
			out.Forms[participant] = append([]string(nil), answers...)
		}
	}
	out.Confirmations = append([]string(nil), t.Confirmations...)
	return out
}

// Normalize repairs a ticket deserialized from storage: missing fields take
// defaults, the claimant/status invariant is restored, and confirmations are
// deduplicated, restricted to form submitters, and sorted.
func (t *Ticket) Normalize() {
	if t.Status != StatusOpen && t.Status != StatusClaimed && t.Status != StatusClosed {
		t.Status = StatusOpen
	}
	if t.Status != StatusClaimed {
		t.Claimant = ""
	}
	if t.Status == StatusClaimed && t.Claimant == "" {
		t.Status = StatusOpen
	}
	if t.Forms == nil {
		t.Forms = map[string][]string{}
	}
	for participant := range t.Forms {
		if !t.IsParticipant(participant) {
			delete(t.Forms, participant)
		}
	}
	seen := map[string]bool{}
	kept := t.Confirmations[:0]
	for _, id := range t.Confirmations {
		if _, submitted := t.Forms[id]; submitted && !seen[id] {
			seen[id] = true
			kept = append(kept, id)
		}
	}
	t.Confirmations = kept
	sort.Strings(t.Confirmations)
}
