package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

var tracer = otel.Tracer("github.com/spec-kit/helpdesk-service/internal/service")

// Actor is the verified identity performing an operation.
type Actor struct {
	UserID int64
	Role   domain.Role
}

func (a Actor) author() *domain.Author {
	return &domain.Author{Role: a.Role, ID: a.UserID}
}

func (a Actor) eventActor() events.Actor {
	return events.Actor{Role: a.Role, UserID: a.UserID}
}

func (a Actor) validate() error {
	if !a.Role.Valid() || a.UserID <= 0 {
		return apperrors.NewUnauthorized("verified identity required")
	}
	return nil
}

// Dependencies bundles collaborators shared by the ticket, assignment and chat services.
// Services that mutate the same tickets must share one Locks table.
type Dependencies struct {
	Store     repository.Store
	Publisher events.Publisher
	Locks     *TicketLocks
	Logger    *zap.Logger
	Clock     func() time.Time
}

type core struct {
	store     repository.Store
	publisher events.Publisher
	locks     *TicketLocks
	logger    *zap.Logger
	now       func() time.Time
}

func newCore(deps Dependencies) core {
	c := core{
		store:     deps.Store,
		publisher: deps.Publisher,
		locks:     deps.Locks,
		logger:    deps.Logger,
		now:       deps.Clock,
	}
	if c.publisher == nil {
		c.publisher = events.Discard
	}
	if c.locks == nil {
		c.locks = NewTicketLocks()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

type publication struct {
	event   events.Event
	targets []events.Topic
}

// outbox collects events during a transaction; they are published only after commit.
type outbox struct {
	items []publication
}

func (o *outbox) add(event events.Event, targets ...events.Topic) {
	o.items = append(o.items, publication{event: event, targets: targets})
}

// mutate runs fn in one transaction inside the ticket's critical section and
// publishes the collected events after commit, before the section is released.
func (c *core) mutate(ctx context.Context, ticketID int64, fn func(ctx context.Context, tx repository.Tx, out *outbox) error) error {
	unlock := c.locks.Lock(ticketID)
	defer unlock()
	return c.commitAndPublish(ctx, fn)
}

func (c *core) commitAndPublish(ctx context.Context, fn func(ctx context.Context, tx repository.Tx, out *outbox) error) error {
	var out outbox
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return fn(ctx, tx, &out)
	})
	if err != nil {
		return asDomainError(err)
	}
	for _, p := range out.items {
		c.publisher.Publish(ctx, p.event, p.targets...)
	}
	return nil
}

func (c *core) read(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := c.store.WithinTx(ctx, fn); err != nil {
		return asDomainError(err)
	}
	return nil
}

func (c *core) appendAudit(ctx context.Context, tx repository.Tx, entry *domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if err := tx.Audit().Create(ctx, entry); err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

func (c *core) systemNote(ctx context.Context, tx repository.Tx, ticketID int64, actor Actor, text string) error {
	return c.appendAudit(ctx, tx, &domain.AuditEntry{
		TicketID: ticketID,
		Kind:     domain.AuditSystemNote,
		Author:   actor.author(),
		Text:     text,
	})
}

func (c *core) event(eventType events.EventType, ticketID int64, actor Actor, payload any) events.Event {
	return events.Event{
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor.eventActor(),
		Timestamp: c.now(),
		Payload:   payload,
	}
}

func loadTicket(ctx context.Context, tx repository.Tx, ticketID int64, forUpdate bool) (*domain.Ticket, error) {
	var (
		ticket *domain.Ticket
		err    error
	)
	if forUpdate {
		ticket, err = tx.Tickets().GetForUpdate(ctx, ticketID)
	} else {
		ticket, err = tx.Tickets().Get(ctx, ticketID)
	}
	if err != nil {
		return nil, storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// checkOwnership rejects clients acting on tickets they do not own.
func checkOwnership(actor Actor, ticket *domain.Ticket) error {
	if actor.Role == domain.RoleClient && ticket.ClientID != actor.UserID {
		return apperrors.NewForbidden("ticket belongs to another client")
	}
	return nil
}

// staffTargets are the topics every lifecycle event of a ticket reaches.
func staffTargets(ticket *domain.Ticket) []events.Topic {
	return []events.Topic{
		events.TicketTopic(ticket.ID),
		events.RoleTopic(domain.RoleSupervisor),
		events.RoleTopic(domain.RoleAdministrator),
		events.UserTopic(domain.RoleClient, ticket.ClientID),
	}
}

func storeError(err error, resource string, details map[string]any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, details)
	}
	return apperrors.NewPersistenceError(err)
}

func asDomainError(err error) error {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewInternalError(err)
	}
	return apperrors.NewPersistenceError(err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
