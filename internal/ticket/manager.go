package ticket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Store is the durable record of the ticket table. Load is called once at
// startup; Put/Remove are called synchronously inside the table lock, so a
// mutation is only acknowledged after the write lands.
type Store interface {
	Load(ctx context.Context) (map[string]Ticket, error)
	Put(ctx context.Context, t Ticket) error
	Remove(ctx context.Context, id string) error
}

// ChannelProvisioner is the slice of the platform gateway the Manager needs:
// a private channel per ticket at creation, and deletion for rollback and
// scheduled removal. Renames and permission edits are dispatcher side effects.
type ChannelProvisioner interface {
	CreatePrivateChannel(ctx context.Context, name string, visibleTo []string) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

type Options struct {
	// ProvisionTimeout bounds the channel-creation call during Create.
	ProvisionTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

const defaultProvisionTimeout = 10 * time.Second

// Manager owns the live ticket table. Every mutating operation is a critical
// section over the table: read, decide, write, persist, then return a copy.
type Manager struct {
	mu       sync.RWMutex
	table    map[string]*Ticket
	pending  map[string]*pendingDelete
	store    Store
	channels ChannelProvisioner

	provisionTimeout time.Duration
	now              func() time.Time
}

type pendingDelete struct {
	revision int64
	timer    *time.Timer
}

// errNoChange marks a mutation callback that decided the operation is a
// no-op: nothing is persisted and the revision is not bumped.
var errNoChange = errors.New("no change")

func NewManager(ctx context.Context, store Store, channels ChannelProvisioner, opts Options) (*Manager, error) {
	table, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ticket table: %w", err)
	}

	m := &Manager{
		table:            make(map[string]*Ticket, len(table)),
		pending:          map[string]*pendingDelete{},
		store:            store,
		channels:         channels,
		provisionTimeout: opts.ProvisionTimeout,
		now:              opts.Now,
	}
	if m.provisionTimeout <= 0 {
		m.provisionTimeout = defaultProvisionTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}

	for id, t := range table {
		loaded := t
		loaded.ID = id
		loaded.Normalize()
		if loaded.Finalized {
			// A finalized ticket on disk means the process died inside the
			// teardown grace window. Finalized tickets are retired, never
			// live state: finish the removal instead of resurrecting it.
			log.Printf("ticket: retiring finalized ticket %s left over from an interrupted teardown", id)
			if err := m.store.Remove(ctx, id); err != nil {
				log.Printf("ticket: removing finalized ticket %s from store: %v", id, err)
			}
			m.teardownChannel(id)
			continue
		}
		m.table[id] = &loaded
	}
	return m, nil
}

// Create provisions a private channel for the trade and records the ticket.
// If provisioning fails no ticket is recorded; if persistence fails the
// channel is torn down again so no partial state survives either way.
func (m *Manager) Create(ctx context.Context, creator, counterparty, offer, request string) (Ticket, error) {
	if creator == "" {
		return Ticket{}, fmt.Errorf("%w: creator identity required", ErrInvalidCounterparty)
	}
	if counterparty == "" || counterparty == creator {
		return Ticket{}, ErrInvalidCounterparty
	}

	provisionCtx, cancel := context.WithTimeout(ctx, m.provisionTimeout)
	defer cancel()
	channelID, err := m.channels.CreatePrivateChannel(provisionCtx, "ticket-"+creator, []string{creator, counterparty})
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	if channelID == "" {
		return Ticket{}, fmt.Errorf("%w: provisioner returned empty channel id", ErrProvisioningFailed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.table[channelID]; exists {
		m.teardownChannel(channelID)
		return Ticket{}, fmt.Errorf("%w: channel id %s already in use", ErrProvisioningFailed, channelID)
	}

	now := m.now()
	t := Ticket{
		ID:           channelID,
		Creator:      creator,
		Counterparty: counterparty,
		Offer:        offer,
		Request:      request,
		Status:       StatusOpen,
		Forms:        map[string][]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Put(ctx, t); err != nil {
		m.teardownChannel(channelID)
		return Ticket{}, fmt.Errorf("persist ticket %s: %w", channelID, err)
	}
	m.table[channelID] = &t
	return t.Clone(), nil
}

// Claim marks the ticket as being handled by a staff member. The check and
// the set happen under the table lock, so exactly one of two racing claims
// wins; the loser sees ErrAlreadyClaimed. Re-claiming by the current
// claimant is rejected too: release first.
func (m *Manager) Claim(ctx context.Context, id, actor string, actorIsStaff bool) (Ticket, error) {
	if !actorIsStaff {
		return Ticket{}, ErrPermissionDenied
	}
	return m.mutate(ctx, id, func(t *Ticket) error {
		if t.Status == StatusClaimed {
			return ErrAlreadyClaimed
		}
		t.Status = StatusClaimed
		t.Claimant = actor
		return nil
	})
}

// Release returns a claimed ticket to the open pool. Only the current
// claimant may release; override lets an admin force it.
func (m *Manager) Release(ctx context.Context, id, actor string, override bool) (Ticket, error) {
	return m.mutate(ctx, id, func(t *Ticket) error {
		if !override && t.Claimant != actor {
			return ErrPermissionDenied
		}
		t.Status = StatusOpen
		t.Claimant = ""
		return nil
	})
}

// SubmitForm upserts a participant's confirmation answers. The returned
// bool reports whether this submission completed the pair, and is true only
// on the call that takes the form count from one to two.
func (m *Manager) SubmitForm(ctx context.Context, id, participant string, answers []string) (Ticket, bool, error) {
	var bothSubmitted bool
	t, err := m.mutate(ctx, id, func(t *Ticket) error {
		if !t.IsParticipant(participant) {
			return ErrNotParticipant
		}
		_, resubmission := t.Forms[participant]
		t.Forms[participant] = append([]string(nil), answers...)
		bothSubmitted = !resubmission && len(t.Forms) == 2
		return nil
	})
	return t, bothSubmitted, err
}

// Confirm records a participant's confirmation once both forms are in.
// Repeat confirmations are a no-op. When the second participant confirms,
// the ticket is finalized atomically with that call and the returned bool is
// true exactly once; the caller is expected to retire the ticket afterwards.
func (m *Manager) Confirm(ctx context.Context, id, participant string) (Ticket, bool, error) {
	var finalized bool
	t, err := m.mutate(ctx, id, func(t *Ticket) error {
		if !t.IsParticipant(participant) {
			return ErrNotParticipant
		}
		if len(t.Forms) < 2 {
			return ErrNotYetFormed
		}
		if t.HasConfirmed(participant) {
			return errNoChange
		}
		t.Confirmations = append(t.Confirmations, participant)
		sort.Strings(t.Confirmations)
		if len(t.Confirmations) == 2 && !t.Finalized {
			t.Finalized = true
			finalized = true
		}
		return nil
	})
	return t, finalized, err
}

// Cancel lets either trading party withdraw the ticket in any state.
func (m *Manager) Cancel(ctx context.Context, id, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.table[id]
	if !ok {
		return ErrNotFound
	}
	if !t.IsParticipant(actor) {
		return ErrNotParticipant
	}
	return m.removeLocked(ctx, id)
}

// Close flips the ticket read-only for traders. The channel permission
// change is the caller's side effect, driven by the returned ticket.
func (m *Manager) Close(ctx context.Context, id string) (Ticket, error) {
	return m.mutate(ctx, id, func(t *Ticket) error {
		t.Status = StatusClosed
		t.Claimant = ""
		return nil
	})
}

// Delete removes the ticket from the live table. The caller owns the
// corresponding channel deletion.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.table[id]; !ok {
		return ErrNotFound
	}
	return m.removeLocked(ctx, id)
}

// ScheduleDelete arms a delayed deletion. The pending delete is pinned to
// the ticket's current revision: if anything touches the ticket before the
// grace period elapses, the deletion aborts instead of destroying a ticket
// that no longer matches what the scheduler saw.
func (m *Manager) ScheduleDelete(id string, grace time.Duration, onDeleted func(Ticket)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.table[id]
	if !ok {
		return ErrNotFound
	}
	if prior, armed := m.pending[id]; armed {
		prior.timer.Stop()
	}

	revision := t.Revision
	m.pending[id] = &pendingDelete{
		revision: revision,
		timer: time.AfterFunc(grace, func() {
			m.completeScheduledDelete(id, revision, onDeleted)
		}),
	}
	return nil
}

// CancelScheduledDelete disarms a pending delayed deletion, reporting
// whether one was armed.
func (m *Manager) CancelScheduledDelete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(m.pending, id)
	return true
}

func (m *Manager) completeScheduledDelete(id string, revision int64, onDeleted func(Ticket)) {
	m.mu.Lock()

	if p, ok := m.pending[id]; !ok || p.revision != revision {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)

	t, ok := m.table[id]
	if !ok || t.Revision != revision {
		m.mu.Unlock()
		return
	}
	snapshot := t.Clone()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.removeLocked(ctx, id); err != nil {
		log.Printf("ticket: scheduled delete of %s failed: %v", id, err)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if onDeleted != nil {
		onDeleted(snapshot)
	}
}

// Get returns a copy of a live ticket.
func (m *Manager) Get(id string) (Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.table[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t.Clone(), nil
}

// List returns copies of all live tickets, oldest first.
func (m *Manager) List() []Ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Ticket, 0, len(m.table))
	for _, t := range m.table {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shutdown disarms pending deletions and flushes the table a final time.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, id)
	}

	var firstErr error
	for _, t := range m.table {
		if err := m.store.Put(ctx, t.Clone()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush ticket %s: %w", t.ID, err)
		}
	}
	return firstErr
}

// mutate runs fn over a copy of the ticket, persists the copy, and only then
// swaps it into the table, so a failed store write leaves memory and disk
// agreeing on the old state.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*Ticket) error) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.table[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, errNoChange) {
			return current.Clone(), nil
		}
		return Ticket{}, err
	}
	next.Revision = current.Revision + 1
	next.UpdatedAt = m.now()

	if err := m.store.Put(ctx, next); err != nil {
		return Ticket{}, fmt.Errorf("persist ticket %s: %w", id, err)
	}
	m.table[id] = &next
	return next.Clone(), nil
}

func (m *Manager) removeLocked(ctx context.Context, id string) error {
	if err := m.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove ticket %s: %w", id, err)
	}
	delete(m.table, id)
	if p, armed := m.pending[id]; armed {
		p.timer.Stop()
		delete(m.pending, id)
	}
	return nil
}

func (m *Manager) teardownChannel(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.provisionTimeout)
	defer cancel()
	if err := m.channels.DeleteChannel(ctx, channelID); err != nil {
		log.Printf("ticket: rollback of channel %s failed: %v", channelID, err)
	}
}
