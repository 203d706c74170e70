package repository

import (
	"context"
	"errors"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store opens transactions spanning every repository. All writes of one
// lifecycle operation go through a single WithinTx call and commit together.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Tickets() TicketRepository
	Assignments() AssignmentRepository
	Audit() AuditRepository
	Directory() DirectoryRepository
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Get(ctx context.Context, id int64) (*domain.Ticket, error)
	// GetForUpdate loads the ticket and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	Update(ctx context.Context, ticket *domain.Ticket) error
	Delete(ctx context.Context, id int64) error
	// List returns matching tickets, newest first.
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

// Default and maximum page sizes for TicketRepository.List.
const (
	DefaultTicketPageSize = 20
	MaxTicketPageSize     = 200
)

// TicketFilter narrows a ticket listing. Nil and empty fields match everything.
type TicketFilter struct {
	ClientID *int64
	// AnalystID matches tickets whose current assignment belongs to the analyst.
	AnalystID     *int64
	States        []domain.TicketState
	ExcludeStates []domain.TicketState
	Limit         int
	Offset        int
}

// Page returns the effective limit and offset.
func (f TicketFilter) Page() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = DefaultTicketPageSize
	}
	if limit > MaxTicketPageSize {
		limit = MaxTicketPageSize
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// matchState applies the state clauses of the filter.
func (f TicketFilter) matchState(state domain.TicketState) bool {
	if len(f.States) > 0 && !containsState(f.States, state) {
		return false
	}
	return !containsState(f.ExcludeStates, state)
}

func containsState(states []domain.TicketState, state domain.TicketState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// AssignmentRepository stores analyst assignments.
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *domain.Assignment) error
	// Current returns the assignment with the highest Seq, or nil when none exists.
	Current(ctx context.Context, ticketID int64) (*domain.Assignment, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Assignment, error)
	DeleteByTicket(ctx context.Context, ticketID int64) (int64, error)
	DeleteByTicketAndAnalyst(ctx context.Context, ticketID, analystID int64) (int64, error)
}

// AuditFilter narrows a timeline listing. Zero values match everything.
type AuditFilter struct {
	Kind    domain.AuditKind
	Channel domain.ChatKind
}

// Match reports whether entry passes the filter.
func (f AuditFilter) Match(entry *domain.AuditEntry) bool {
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	if f.Channel != "" && entry.Channel != f.Channel {
		return false
	}
	return true
}

// AuditRepository stores the append-only ticket timeline.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
	ListByTicket(ctx context.Context, ticketID int64, filter AuditFilter) ([]domain.AuditEntry, error)
	DeleteByTicket(ctx context.Context, ticketID int64) (int64, error)
}

// DirectoryRepository resolves people managed by the CRUD layer.
type DirectoryRepository interface {
	GetPerson(ctx context.Context, role domain.Role, id int64) (*domain.Person, error)
}
