package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rimuz-hub/Tether-Middleman/internal/auth"
	"github.com/rimuz-hub/Tether-Middleman/internal/export"
	"github.com/rimuz-hub/Tether-Middleman/internal/ledger"
	"github.com/rimuz-hub/Tether-Middleman/internal/provisioner"
	"github.com/rimuz-hub/Tether-Middleman/internal/search"
	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]ticket.Ticket
}

func newMemStore() *memStore {
	return &memStore{m: map[string]ticket.Ticket{}}
}

func (s *memStore) Load(ctx context.Context) (map[string]ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ticket.Ticket, len(s.m))
	for id, t := range s.m {
		out[id] = t.Clone()
	}
	return out, nil
}

func (s *memStore) Put(ctx context.Context, t ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[t.ID] = t.Clone()
	return nil
}

func (s *memStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

type fakeIndex struct {
	mu       sync.Mutex
	indexed  []search.TicketRecord
	deleted  []string
	lastQ    search.Query
	response search.Response
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	return f.response
}

func (f *fakeIndex) IndexTicket(rec search.TicketRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec)
}

func (f *fakeIndex) DeleteTicket(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeIndex) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeLedger struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeLedger) RecordSnapshot(t ticket.Ticket, actor, message string) (ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return ledger.Entry{Hash: "abc1234", Message: message, Actor: actor}, nil
}

func (f *fakeLedger) History(ticketID string, limit int) ([]ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]ledger.Entry, 0, len(f.messages))
	for _, m := range f.messages {
		entries = append(entries, ledger.Entry{Message: m})
	}
	return entries, nil
}

func (f *fakeLedger) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeReceipts struct{}

func (fakeReceipts) Receipt(t ticket.Ticket) (*export.Result, error) {
	return &export.Result{Data: []byte("receipt " + t.ID), Filename: "receipt.html", MimeType: "text/html", Format: export.FormatHTML}, nil
}

type fakeArchive struct {
	mu        sync.Mutex
	receipts  []string
	snapshots []string
}

func (f *fakeArchive) StoreReceipt(ctx context.Context, ticketID string, receipt *export.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, ticketID)
	return nil
}

func (f *fakeArchive) StoreSnapshot(ctx context.Context, t ticket.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, t.ID)
	return nil
}

type testEnv struct {
	service *Service
	static  *provisioner.Static
	index   *fakeIndex
	ledger  *fakeLedger
	archive *fakeArchive
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	static := provisioner.NewStatic()
	manager, err := ticket.NewManager(context.Background(), newMemStore(), static, ticket.Options{})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if opts.JWTSecret == "" {
		opts.JWTSecret = "test-secret"
	}
	if opts.OperatorKeyHash == "" {
		hash, err := auth.HashOperatorKey("op-key")
		if err != nil {
			t.Fatalf("HashOperatorKey() error = %v", err)
		}
		opts.OperatorKeyHash = hash
	}
	if opts.DeleteGrace == 0 {
		opts.DeleteGrace = 20 * time.Millisecond
	}

	index := &fakeIndex{}
	ledgerSvc := &fakeLedger{}
	archive := &fakeArchive{}

	service := NewService(manager, static, index, ledgerSvc, fakeReceipts{}, archive, nil, opts)
	return &testEnv{service: service, static: static, index: index, ledger: ledgerSvc, archive: archive}
}

func sessionFor(userID, role string) Session {
	return Session{UserID: userID, UserName: userID, Role: role}
}

func TestLoginRolesAndOperatorKey(t *testing.T) {
	env := newTestEnv(t, Options{})

	trader, err := env.service.Login(context.Background(), "alice", "alice", "trader", "")
	if err != nil {
		t.Fatalf("trader login failed: %v", err)
	}
	if trader.Role != "trader" || trader.Token == "" {
		t.Errorf("unexpected trader session: %+v", trader)
	}

	if _, err := env.service.Login(context.Background(), "staffX", "staffX", "staff", "wrong"); err == nil {
		t.Error("staff login without valid operator key must fail")
	}

	staff, err := env.service.Login(context.Background(), "staffX", "staffX", "staff", "op-key")
	if err != nil {
		t.Fatalf("staff login failed: %v", err)
	}
	if staff.Role != "staff" {
		t.Errorf("staff role = %q", staff.Role)
	}

	parsed, err := env.service.SessionFromToken(staff.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != "staffX" || parsed.Role != "staff" {
		t.Errorf("parsed session = %+v", parsed)
	}
}

func TestLoginRejectsUnknownIdentity(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.static.KnownIdentities = map[string]bool{"alice": true}

	if _, err := env.service.Login(context.Background(), "stranger", "", "trader", ""); err == nil {
		t.Error("unknown identity must be rejected")
	}
	if _, err := env.service.Login(context.Background(), "alice", "", "trader", ""); err != nil {
		t.Errorf("known identity rejected: %v", err)
	}
}

func TestCreateTicketValidatesAndRecords(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := sessionFor("alice", "trader")

	if _, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{Counterparty: "bob"}); err == nil {
		t.Error("empty offer and request must be rejected")
	}

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob",
		Offer:        "golden sword",
		Request:      "50 gold",
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	if created.Status != ticket.StatusOpen || created.Creator != "alice" {
		t.Errorf("unexpected ticket: %+v", created)
	}

	messages := env.ledger.recorded()
	if len(messages) == 0 || !strings.Contains(messages[0], "ticket opened") {
		t.Errorf("opening not recorded: %v", messages)
	}
	if len(env.index.indexed) == 0 {
		t.Error("created ticket was not indexed")
	}
}

func TestFullTradeLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{DeleteGrace: 15 * time.Millisecond})
	alice := sessionFor("alice", "trader")
	bob := sessionFor("bob", "trader")
	staff := sessionFor("staffX", "staff")

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "golden sword", Request: "50 gold",
	})
	if err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}
	id := created.ID

	if _, err := env.service.ClaimTicket(context.Background(), bob, id); err == nil {
		t.Error("trader claim must be rejected")
	}
	claimed, err := env.service.ClaimTicket(context.Background(), staff, id)
	if err != nil {
		t.Fatalf("ClaimTicket() error = %v", err)
	}
	if claimed.Claimant != "staffX" {
		t.Errorf("claimant = %q", claimed.Claimant)
	}
	if name, _ := env.static.ChannelName(id); name != "claimed-by-staffX" {
		t.Errorf("channel not renamed after the claimant: %q", name)
	}

	if _, _, err := env.service.ConfirmTicket(context.Background(), alice, id); err == nil {
		t.Error("confirm before both forms must fail")
	}

	if _, _, err := env.service.SubmitForm(context.Background(), alice, id, SubmitFormInput{Answers: []string{"golden sword"}}); err != nil {
		t.Fatalf("alice form error = %v", err)
	}
	_, bothSubmitted, err := env.service.SubmitForm(context.Background(), bob, id, SubmitFormInput{Answers: []string{"50 gold"}})
	if err != nil {
		t.Fatalf("bob form error = %v", err)
	}
	if !bothSubmitted {
		t.Error("second form must complete the pair")
	}

	if _, finalized, err := env.service.ConfirmTicket(context.Background(), alice, id); err != nil || finalized {
		t.Fatalf("first confirm: finalized=%v err=%v", finalized, err)
	}
	final, finalized, err := env.service.ConfirmTicket(context.Background(), bob, id)
	if err != nil {
		t.Fatalf("second confirm error = %v", err)
	}
	if !finalized {
		t.Fatal("second confirm must finalize the trade")
	}
	if final.Status != ticket.StatusClosed {
		t.Errorf("finalized ticket status = %s, want closed", final.Status)
	}

	env.archive.mu.Lock()
	gotReceipt := len(env.archive.receipts) == 1 && env.archive.receipts[0] == id
	gotSnapshot := len(env.archive.snapshots) == 1
	env.archive.mu.Unlock()
	if !gotReceipt || !gotSnapshot {
		t.Error("receipt and snapshot must be archived on finalize")
	}

	// The delayed teardown should remove the ticket and its channel.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := env.service.GetTicket(staff, id); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticket still present after grace period")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := env.static.ChannelName(id); ok {
		t.Error("channel must be deleted after teardown")
	}
	found := false
	for _, deleted := range env.index.deletedIDs() {
		if deleted == id {
			found = true
		}
	}
	if !found {
		t.Error("ticket must be removed from the search index")
	}
}

func TestReleaseIsClaimantOnlyWithAdminOverride(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := sessionFor("alice", "trader")
	staffA := sessionFor("staffA", "staff")
	staffB := sessionFor("staffB", "staff")
	admin := sessionFor("root", "admin")

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "sword", Request: "gold",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.ClaimTicket(context.Background(), staffA, created.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.service.ReleaseTicket(context.Background(), staffB, created.ID); err == nil {
		t.Error("non-claimant staff release must fail")
	}
	released, err := env.service.ReleaseTicket(context.Background(), admin, created.ID)
	if err != nil {
		t.Fatalf("admin override release failed: %v", err)
	}
	if released.Status != ticket.StatusOpen || released.Claimant != "" {
		t.Errorf("release left %+v", released)
	}
}

func TestCancelTearsDownImmediately(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := sessionFor("alice", "trader")
	mallory := sessionFor("mallory", "trader")

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "sword", Request: "gold",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.service.CancelTicket(context.Background(), mallory, created.ID); err == nil {
		t.Error("outsider cancel must be rejected")
	}
	if err := env.service.CancelTicket(context.Background(), alice, created.ID); err != nil {
		t.Fatalf("CancelTicket() error = %v", err)
	}
	if _, ok := env.static.ChannelName(created.ID); ok {
		t.Error("channel must be deleted on cancel")
	}
	if _, err := env.service.GetTicket(sessionFor("staffX", "staff"), created.ID); err == nil {
		t.Error("cancelled ticket must be gone")
	}
}

func TestDeleteRequiresPrivilege(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := sessionFor("alice", "trader")
	staff := sessionFor("staffX", "staff")

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "sword", Request: "gold",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.service.DeleteTicket(context.Background(), alice, created.ID); err == nil {
		t.Error("trader delete must be rejected")
	}
	if err := env.service.DeleteTicket(context.Background(), staff, created.ID); err != nil {
		t.Fatalf("staff delete failed: %v", err)
	}
}

func TestVisibilityScoping(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := sessionFor("alice", "trader")
	carol := sessionFor("carol", "trader")
	staff := sessionFor("staffX", "staff")

	mine, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "sword", Request: "gold",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.CreateTicket(context.Background(), carol, CreateTicketInput{
		Counterparty: "dave", Offer: "shield", Request: "silver",
	}); err != nil {
		t.Fatal(err)
	}

	if got := len(env.service.ListTickets(staff)); got != 2 {
		t.Errorf("staff sees %d tickets, want 2", got)
	}
	if got := len(env.service.ListTickets(alice)); got != 1 {
		t.Errorf("alice sees %d tickets, want 1", got)
	}
	if _, err := env.service.GetTicket(carol, mine.ID); err == nil {
		t.Error("carol must not see alice's ticket")
	}
}

func TestSearchScopedToParticipant(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.service.SearchTickets(sessionFor("alice", "trader"), search.Query{Text: "sword"})
	if env.index.lastQ.FilterParticipant != "alice" {
		t.Errorf("trader search not scoped: %+v", env.index.lastQ)
	}

	env.service.SearchTickets(sessionFor("staffX", "staff"), search.Query{Text: "sword"})
	if env.index.lastQ.FilterParticipant != "" {
		t.Errorf("staff search should be unscoped: %+v", env.index.lastQ)
	}
}

func TestCloseArmsDelayedTeardownThatAbortsOnTouch(t *testing.T) {
	env := newTestEnv(t, Options{DeleteGrace: 30 * time.Millisecond})
	alice := sessionFor("alice", "trader")
	staff := sessionFor("staffX", "staff")

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "sword", Request: "gold",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.CloseTicket(context.Background(), staff, created.ID); err != nil {
		t.Fatalf("CloseTicket() error = %v", err)
	}

	// Touch the ticket before the grace period elapses; the teardown must abort.
	if _, err := env.service.ClaimTicket(context.Background(), staff, created.ID); err != nil {
		t.Fatalf("ClaimTicket() after close error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if _, err := env.service.GetTicket(staff, created.ID); err != nil {
		t.Errorf("ticket deleted despite being touched: %v", err)
	}
}

func TestTicketHistoryVisibility(t *testing.T) {
	env := newTestEnv(t, Options{})
	alice := sessionFor("alice", "trader")
	carol := sessionFor("carol", "trader")
	staff := sessionFor("staffX", "staff")

	created, err := env.service.CreateTicket(context.Background(), alice, CreateTicketInput{
		Counterparty: "bob", Offer: "sword", Request: "gold",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.service.TicketHistory(carol, created.ID, 10); err == nil {
		t.Error("outsider must not read history")
	}
	entries, err := env.service.TicketHistory(staff, created.ID, 10)
	if err != nil {
		t.Fatalf("TicketHistory() error = %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected recorded history")
	}
	if _, err := env.service.TicketHistory(alice, created.ID, 10); err != nil {
		t.Errorf("participant history read failed: %v", err)
	}
}
