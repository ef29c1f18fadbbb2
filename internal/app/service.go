package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rimuz-hub/Tether-Middleman/internal/auth"
	"github.com/rimuz-hub/Tether-Middleman/internal/export"
	"github.com/rimuz-hub/Tether-Middleman/internal/ledger"
	"github.com/rimuz-hub/Tether-Middleman/internal/rbac"
	"github.com/rimuz-hub/Tether-Middleman/internal/search"
	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

type CreateTicketInput struct {
	Counterparty string `json:"counterparty"`
	Offer        string `json:"offer"`
	Request      string `json:"request"`
}

type SubmitFormInput struct {
	Answers []string `json:"answers"`
}

// channelGateway is the slice of the platform API the dispatcher drives for
// side effects beyond creation, which the ticket manager owns itself.
type channelGateway interface {
	ResolveIdentity(ctx context.Context, identity string) error
	SetChannelName(ctx context.Context, channelID, name string) error
	RestrictWrite(ctx context.Context, channelID string, allow []string) error
	DeleteChannel(ctx context.Context, channelID string) error
}

type ticketIndex interface {
	Search(q search.Query) search.Response
	IndexTicket(rec search.TicketRecord)
	DeleteTicket(id string)
}

type transitionLedger interface {
	RecordSnapshot(t ticket.Ticket, actor, message string) (ledger.Entry, error)
	History(ticketID string, limit int) ([]ledger.Entry, error)
}

type receiptRenderer interface {
	Receipt(t ticket.Ticket) (*export.Result, error)
}

type snapshotArchive interface {
	StoreReceipt(ctx context.Context, ticketID string, receipt *export.Result) error
	StoreSnapshot(ctx context.Context, t ticket.Ticket) error
}

type storePinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	JWTSecret       string
	OperatorKeyHash string
	SessionTTL      time.Duration
	DeleteGrace     time.Duration
}

// Service is the command dispatcher: it maps authenticated requests onto
// ticket manager operations and fans the results out to the gateway, the
// search index, the ledger, and the archive.
type Service struct {
	manager  *ticket.Manager
	gateway  channelGateway
	index    ticketIndex
	ledger   transitionLedger
	receipts receiptRenderer
	archive  snapshotArchive
	pinger   storePinger

	jwtSecret       []byte
	operatorKeyHash string
	sessionTTL      time.Duration
	deleteGrace     time.Duration
}

func NewService(manager *ticket.Manager, gateway channelGateway, index ticketIndex, ledgerSvc transitionLedger, receipts receiptRenderer, archive snapshotArchive, pinger storePinger, opts Options) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.DeleteGrace <= 0 {
		opts.DeleteGrace = 30 * time.Second
	}
	return &Service{
		manager:         manager,
		gateway:         gateway,
		index:           index,
		ledger:          ledgerSvc,
		receipts:        receipts,
		archive:         archive,
		pinger:          pinger,
		jwtSecret:       []byte(opts.JWTSecret),
		operatorKeyHash: opts.OperatorKeyHash,
		sessionTTL:      opts.SessionTTL,
		deleteGrace:     opts.DeleteGrace,
	}
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}

// Login resolves the caller against the guild and issues a session token.
// Staff and admin roles additionally require the operator key.
func (s *Service) Login(ctx context.Context, userID, name, role, operatorKey string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	if name == "" {
		name = userID
	}

	normalized := rbac.Normalize(role)
	if rbac.IsStaff(normalized) {
		if err := auth.VerifyOperatorKey(s.operatorKeyHash, operatorKey); err != nil {
			return Session{}, domainError(http.StatusForbidden, "OPERATOR_KEY_REQUIRED", "Operator key invalid or missing", nil)
		}
	}

	if s.gateway != nil {
		if err := s.gateway.ResolveIdentity(ctx, userID); err != nil {
			return Session{}, domainError(http.StatusUnprocessableEntity, "UNKNOWN_IDENTITY", "Identity not found in guild", nil)
		}
	}

	expiresAt := time.Now().Add(s.sessionTTL)
	token, err := auth.IssueToken(s.jwtSecret, auth.Claims{
		Sub:  userID,
		Name: name,
		Role: string(normalized),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  name,
		Role:      string(normalized),
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and rebuilds the session.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Can reports whether the session's role permits the action.
func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Role(role), action)
}

// CreateTicket opens a trade ticket between the caller and the counterparty.
func (s *Service) CreateTicket(ctx context.Context, session Session, input CreateTicketInput) (ticket.Ticket, error) {
	counterparty := strings.TrimSpace(input.Counterparty)
	if strings.TrimSpace(input.Offer) == "" || strings.TrimSpace(input.Request) == "" {
		return ticket.Ticket{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offer and request are required", nil)
	}
	if s.gateway != nil && counterparty != "" && counterparty != session.UserID {
		if err := s.gateway.ResolveIdentity(ctx, counterparty); err != nil {
			return ticket.Ticket{}, ticket.ErrInvalidCounterparty
		}
	}

	t, err := s.manager.Create(ctx, session.UserID, counterparty, strings.TrimSpace(input.Offer), strings.TrimSpace(input.Request))
	if err != nil {
		return ticket.Ticket{}, err
	}

	s.recordTransition(t, session.UserID, fmt.Sprintf("ticket opened by %s for %s", session.UserID, counterparty))
	return t, nil
}

// ClaimTicket assigns the ticket to a staff mediator. The first of two
// racing claims wins.
func (s *Service) ClaimTicket(ctx context.Context, session Session, id string) (ticket.Ticket, error) {
	t, err := s.manager.Claim(ctx, id, session.UserID, s.Can(session.Role, rbac.ActionClaim))
	if err != nil {
		return ticket.Ticket{}, err
	}

	if s.gateway != nil {
		if err := s.gateway.SetChannelName(ctx, t.ID, "claimed-by-"+t.Claimant); err != nil {
			log.Printf("app: rename channel %s after claim: %v", t.ID, err)
		}
	}
	s.recordTransition(t, session.UserID, fmt.Sprintf("claimed by %s", session.UserID))
	return t, nil
}

// ReleaseTicket returns a claimed ticket to the open pool. Only the claimant
// may release; admins may force it.
func (s *Service) ReleaseTicket(ctx context.Context, session Session, id string) (ticket.Ticket, error) {
	override := s.Can(session.Role, rbac.ActionOverride)
	t, err := s.manager.Release(ctx, id, session.UserID, override)
	if err != nil {
		return ticket.Ticket{}, err
	}

	if s.gateway != nil {
		if err := s.gateway.SetChannelName(ctx, t.ID, "ticket-"+t.Creator); err != nil {
			log.Printf("app: rename channel %s after release: %v", t.ID, err)
		}
	}
	s.recordTransition(t, session.UserID, fmt.Sprintf("released by %s", session.UserID))
	return t, nil
}

// SubmitForm records the caller's trade terms. The returned bool is true on
// the submission that completes the pair.
func (s *Service) SubmitForm(ctx context.Context, session Session, id string, input SubmitFormInput) (ticket.Ticket, bool, error) {
	t, bothSubmitted, err := s.manager.SubmitForm(ctx, id, session.UserID, input.Answers)
	if err != nil {
		return ticket.Ticket{}, false, err
	}

	message := fmt.Sprintf("form submitted by %s", session.UserID)
	if bothSubmitted {
		message = fmt.Sprintf("form submitted by %s, both parties have now submitted", session.UserID)
	}
	s.recordTransition(t, session.UserID, message)
	return t, bothSubmitted, nil
}

// ConfirmTicket records the caller's confirmation. The confirmation that
// finalizes the trade also closes the ticket, renders and archives the
// receipt, and arms the delayed channel teardown.
func (s *Service) ConfirmTicket(ctx context.Context, session Session, id string) (ticket.Ticket, bool, error) {
	t, finalized, err := s.manager.Confirm(ctx, id, session.UserID)
	if err != nil {
		return ticket.Ticket{}, false, err
	}
	if !finalized {
		s.recordTransition(t, session.UserID, fmt.Sprintf("confirmed by %s", session.UserID))
		return t, false, nil
	}

	s.recordTransition(t, session.UserID, fmt.Sprintf("confirmed by %s, trade finalized", session.UserID))
	s.retireFinalized(ctx, t)

	closed, err := s.manager.Close(ctx, id)
	if err != nil {
		log.Printf("app: close after finalize of %s: %v", id, err)
		return t, true, nil
	}
	if err := s.manager.ScheduleDelete(id, s.deleteGrace, s.onTicketRetired); err != nil {
		log.Printf("app: arm delayed teardown for %s: %v", id, err)
	}
	return closed, true, nil
}

// CancelTicket withdraws the ticket at a participant's request and tears the
// channel down immediately.
func (s *Service) CancelTicket(ctx context.Context, session Session, id string) error {
	t, err := s.manager.Get(id)
	if err != nil {
		return err
	}
	if err := s.manager.Cancel(ctx, id, session.UserID); err != nil {
		return err
	}

	s.teardown(ctx, t)
	if s.ledger != nil {
		if _, err := s.ledger.RecordSnapshot(t, session.UserID, fmt.Sprintf("cancelled by %s", session.UserID)); err != nil {
			log.Printf("app: ledger record for %s: %v", t.ID, err)
		}
	}
	return nil
}

// CloseTicket flips the ticket read-only for the traders and arms the
// delayed channel teardown. Touching the ticket again before the grace
// period elapses aborts the teardown.
func (s *Service) CloseTicket(ctx context.Context, session Session, id string) (ticket.Ticket, error) {
	if !s.Can(session.Role, rbac.ActionClose) {
		return ticket.Ticket{}, ticket.ErrPermissionDenied
	}
	t, err := s.manager.Close(ctx, id)
	if err != nil {
		return ticket.Ticket{}, err
	}

	if s.gateway != nil {
		if err := s.gateway.RestrictWrite(ctx, t.ID, []string{session.UserID}); err != nil {
			log.Printf("app: restrict channel %s after close: %v", t.ID, err)
		}
	}
	s.recordTransition(t, session.UserID, fmt.Sprintf("closed by %s", session.UserID))

	if err := s.manager.ScheduleDelete(id, s.deleteGrace, s.onTicketRetired); err != nil {
		log.Printf("app: arm delayed teardown for %s: %v", id, err)
	}
	return t, nil
}

// DeleteTicket removes the ticket and its channel immediately.
func (s *Service) DeleteTicket(ctx context.Context, session Session, id string) error {
	if !s.Can(session.Role, rbac.ActionDelete) {
		return ticket.ErrPermissionDenied
	}
	t, err := s.manager.Get(id)
	if err != nil {
		return err
	}
	if err := s.manager.Delete(ctx, id); err != nil {
		return err
	}

	s.teardown(ctx, t)
	if s.ledger != nil {
		if _, err := s.ledger.RecordSnapshot(t, session.UserID, fmt.Sprintf("deleted by %s", session.UserID)); err != nil {
			log.Printf("app: ledger record for %s: %v", t.ID, err)
		}
	}
	return nil
}

// GetTicket returns a ticket visible to the caller: staff see everything,
// traders only tickets they participate in.
func (s *Service) GetTicket(session Session, id string) (ticket.Ticket, error) {
	t, err := s.manager.Get(id)
	if err != nil {
		return ticket.Ticket{}, err
	}
	if !s.canView(session, t) {
		return ticket.Ticket{}, ticket.ErrPermissionDenied
	}
	return t, nil
}

// ListTickets returns the tickets visible to the caller, oldest first.
func (s *Service) ListTickets(session Session) []ticket.Ticket {
	all := s.manager.List()
	if rbac.IsStaff(rbac.Role(session.Role)) {
		return all
	}
	visible := make([]ticket.Ticket, 0, len(all))
	for _, t := range all {
		if t.IsParticipant(session.UserID) {
			visible = append(visible, t)
		}
	}
	return visible
}

// SearchTickets runs a full-text query, scoped to the caller's own tickets
// unless they are staff.
func (s *Service) SearchTickets(session Session, q search.Query) search.Response {
	if !rbac.IsStaff(rbac.Role(session.Role)) {
		q.FilterParticipant = session.UserID
	}
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.index.Search(q)
}

// TicketHistory returns the recorded lifecycle transitions for a ticket.
// History outlives the live ticket, so a retired ticket's trail stays
// readable by staff.
func (s *Service) TicketHistory(session Session, id string, limit int) ([]ledger.Entry, error) {
	if t, err := s.manager.Get(id); err == nil {
		if !s.canView(session, t) {
			return nil, ticket.ErrPermissionDenied
		}
	} else if !rbac.IsStaff(rbac.Role(session.Role)) {
		return nil, ticket.ErrPermissionDenied
	}

	if s.ledger == nil {
		return []ledger.Entry{}, nil
	}
	return s.ledger.History(id, limit)
}

func (s *Service) canView(session Session, t ticket.Ticket) bool {
	if rbac.IsStaff(rbac.Role(session.Role)) {
		return true
	}
	return t.IsParticipant(session.UserID)
}

// recordTransition pushes the ticket into the search index and appends the
// transition to the ledger. Both are best-effort side effects.
func (s *Service) recordTransition(t ticket.Ticket, actor, message string) {
	if s.index != nil {
		s.index.IndexTicket(search.RecordFromTicket(t))
	}
	if s.ledger != nil {
		if _, err := s.ledger.RecordSnapshot(t, actor, message); err != nil {
			log.Printf("app: ledger record for %s: %v", t.ID, err)
		}
	}
}

// retireFinalized renders the receipt and stores it plus the final snapshot
// in the archive.
func (s *Service) retireFinalized(ctx context.Context, t ticket.Ticket) {
	if s.receipts != nil {
		receipt, err := s.receipts.Receipt(t)
		if err != nil {
			log.Printf("app: render receipt for %s: %v", t.ID, err)
		} else if s.archive != nil {
			if err := s.archive.StoreReceipt(ctx, t.ID, receipt); err != nil {
				log.Printf("app: archive receipt for %s: %v", t.ID, err)
			}
		}
	}
	if s.archive != nil {
		if err := s.archive.StoreSnapshot(ctx, t); err != nil {
			log.Printf("app: archive snapshot for %s: %v", t.ID, err)
		}
	}
}

// onTicketRetired runs when a delayed teardown fires.
func (s *Service) onTicketRetired(t ticket.Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.teardown(ctx, t)
}

func (s *Service) teardown(ctx context.Context, t ticket.Ticket) {
	if s.gateway != nil {
		if err := s.gateway.DeleteChannel(ctx, t.ID); err != nil {
			log.Printf("app: delete channel %s: %v", t.ID, err)
		}
	}
	if s.index != nil {
		s.index.DeleteTicket(t.ID)
	}
}

// Shutdown flushes the ticket table and disarms timers.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.manager.Shutdown(ctx)
}
