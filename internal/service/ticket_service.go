package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const defaultPriority = "medium"

// TicketService runs the ticket lifecycle.
type TicketService struct {
	core
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies) *TicketService {
	return &TicketService{core: newCore(deps)}
}

// CreateTicketInput describes ticket creation payload.
type CreateTicketInput struct {
	// ClientID is required when an administrator files on behalf of a client
	// and ignored for clients.
	ClientID    int64
	Title       string
	Description string
	Priority    string
	ImageURL    *string
}

// TransitionRequest asks for a state change. To is a persisted state or RequestReopen.
type TransitionRequest struct {
	To            string
	Rating        *int
	RatingComment string
}

// Create files a new ticket in state created.
func (s *TicketService) Create(ctx context.Context, actor Actor, input CreateTicketInput) (ticket *domain.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "TicketService.Create")
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	clientID := input.ClientID
	switch actor.Role {
	case domain.RoleClient:
		clientID = actor.UserID
	case domain.RoleAdministrator:
		if clientID <= 0 {
			return nil, apperrors.NewValidationError("client_id is required", nil)
		}
	default:
		return nil, apperrors.NewForbidden("only clients and administrators create tickets")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("title is required", map[string]any{"field": "title"})
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = defaultPriority
	}

	ticket = &domain.Ticket{
		ClientID:    clientID,
		State:       domain.StateCreated,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Priority:    priority,
		ImageURL:    input.ImageURL,
		CreatedAt:   s.now(),
	}
	err = s.commitAndPublish(ctx, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		if _, err := tx.Directory().GetPerson(ctx, domain.RoleClient, clientID); err != nil {
			return storeError(err, "client", map[string]any{"client_id": clientID})
		}
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return apperrors.NewPersistenceError(err)
		}
		out.add(s.event(events.EventTicketCreated, ticket.ID, actor, events.TicketCreatedPayload{
			TicketID: ticket.ID,
			ClientID: ticket.ClientID,
			Title:    ticket.Title,
			Priority: ticket.Priority,
			State:    ticket.State,
		}),
			events.RoleTopic(domain.RoleSupervisor),
			events.RoleTopic(domain.RoleAdministrator),
			events.UserTopic(domain.RoleClient, ticket.ClientID),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("ticket.id", ticket.ID))
	s.logger.Info("ticket created", zap.Int64("ticket_id", ticket.ID), zap.Int64("client_id", ticket.ClientID))
	return ticket, nil
}

// Get returns a ticket. Clients only see their own tickets and never supervisor-closed ones.
func (s *TicketService) Get(ctx context.Context, actor Actor, ticketID int64) (*domain.Ticket, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	var ticket *domain.Ticket
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ticket, err = loadTicket(ctx, tx, ticketID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(actor, ticket); err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleClient && ticket.HiddenFromClient() {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// TicketListFilter narrows List inside the caller's scope.
type TicketListFilter struct {
	State domain.TicketState
	// Closed restricts supervisors and administrators to both closed variants.
	Closed bool
	Limit  int
	Offset int
}

// analystHidden are the states in which a ticket leaves its analyst's queue.
var analystHidden = []domain.TicketState{domain.StateSolved, domain.StateClosed, domain.StateClosedBySupervisor}

// List returns the tickets in the actor's scope, newest first. Clients see
// their own tickets except supervisor-closed ones, analysts see open tickets
// currently assigned to them, supervisors and administrators see everything.
func (s *TicketService) List(ctx context.Context, actor Actor, filter TicketListFilter) ([]domain.Ticket, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if filter.State != "" && !filter.State.Valid() {
		return nil, apperrors.NewValidationError("unknown ticket state", map[string]any{"state": filter.State})
	}

	scope := repository.TicketFilter{Limit: filter.Limit, Offset: filter.Offset}
	switch actor.Role {
	case domain.RoleClient:
		scope.ClientID = &actor.UserID
		scope.ExcludeStates = []domain.TicketState{domain.StateClosedBySupervisor}
	case domain.RoleAnalyst:
		scope.AnalystID = &actor.UserID
		scope.ExcludeStates = analystHidden
	case domain.RoleSupervisor, domain.RoleAdministrator:
		if filter.Closed {
			if filter.State != "" && !filter.State.IsClosed() {
				return nil, apperrors.NewValidationError("state is not a closed state", map[string]any{"state": filter.State})
			}
			scope.States = []domain.TicketState{domain.StateClosed, domain.StateClosedBySupervisor}
		}
	default:
		return nil, apperrors.NewForbidden("role cannot list tickets")
	}
	if filter.State != "" {
		scope.States = []domain.TicketState{filter.State}
	}

	var tickets []domain.Ticket
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		tickets, err = tx.Tickets().List(ctx, scope)
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// Transition applies one row of the lifecycle table. Either every side effect
// commits and events are published, or nothing changes.
func (s *TicketService) Transition(ctx context.Context, actor Actor, ticketID int64, req TransitionRequest) (result *domain.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "TicketService.Transition")
	span.SetAttributes(
		attribute.Int64("ticket.id", ticketID),
		attribute.String("actor.role", string(actor.Role)),
		attribute.String("transition.to", req.To),
	)
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}

	err = s.mutate(ctx, ticketID, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		ticket, err := loadTicket(ctx, tx, ticketID, true)
		if err != nil {
			return err
		}
		if err := checkOwnership(actor, ticket); err != nil {
			return err
		}
		previous := ticket.State
		tr, err := resolveTransition(actor.Role, previous, req.To)
		if err != nil {
			return err
		}
		now := s.now()

		if tr.acceptsRating && req.Rating != nil {
			if !domain.ValidRating(*req.Rating) {
				return apperrors.NewInvalidRating("rating must be between 1 and 5", map[string]any{"rating": *req.Rating})
			}
		}
		changed := false
		if tr.apply != nil {
			tr.apply(ticket, now)
			changed = true
		}
		if tr.acceptsRating && req.Rating != nil {
			ticket.SetEvaluation(*req.Rating, strings.TrimSpace(req.RatingComment), now)
			changed = true
		}
		if changed {
			if err := tx.Tickets().Update(ctx, ticket); err != nil {
				return storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
			}
		}
		if tr.escalates {
			if _, err := tx.Assignments().DeleteByTicketAndAnalyst(ctx, ticket.ID, actor.UserID); err != nil {
				return apperrors.NewPersistenceError(err)
			}
		}
		if tr.note != "" {
			if err := s.systemNote(ctx, tx, ticket.ID, actor, tr.note); err != nil {
				return err
			}
		}

		out.add(s.event(tr.event, ticket.ID, actor, transitionPayload(tr.event, ticket, actor, req)), staffTargets(ticket)...)
		result = ticket
		s.logger.Info("ticket transitioned",
			zap.Int64("ticket_id", ticket.ID),
			zap.String("role", string(actor.Role)),
			zap.String("from", string(previous)),
			zap.String("to", string(ticket.State)),
			zap.String("event", string(tr.event)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func transitionPayload(eventType events.EventType, ticket *domain.Ticket, actor Actor, req TransitionRequest) any {
	switch eventType {
	case events.EventTicketClosed:
		return events.TicketClosedPayload{TicketID: ticket.ID, Rating: ticket.Rating}
	case events.EventReopenRequested:
		return events.ReopenRequestedPayload{TicketID: ticket.ID, ClientID: ticket.ClientID}
	case events.EventTicketReopened:
		return events.TicketReopenedPayload{TicketID: ticket.ID}
	case events.EventTicketEscalated:
		return events.TicketEscalatedPayload{TicketID: ticket.ID, AnalystID: actor.UserID}
	}
	return events.TicketUpdatedPayload{
		TicketID:  ticket.ID,
		State:     ticket.State,
		Requested: req.To,
		ActorRole: actor.Role,
	}
}

// Evaluate records the owning client's rating of a ticket it closed.
// Supervisor-closed tickets are not evaluable.
func (s *TicketService) Evaluate(ctx context.Context, actor Actor, ticketID int64, rating int, comment string) (result *domain.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "TicketService.Evaluate")
	span.SetAttributes(attribute.Int64("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleClient {
		return nil, apperrors.NewForbidden("only the owning client can evaluate a ticket")
	}

	err = s.mutate(ctx, ticketID, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		ticket, err := loadTicket(ctx, tx, ticketID, true)
		if err != nil {
			return err
		}
		if err := checkOwnership(actor, ticket); err != nil {
			return err
		}
		if !domain.ValidRating(rating) {
			return apperrors.NewInvalidRating("rating must be between 1 and 5", map[string]any{"rating": rating})
		}
		if ticket.State != domain.StateClosed {
			return apperrors.NewInvalidRating("ticket is not in an evaluable state", map[string]any{"state": ticket.State})
		}
		comment = strings.TrimSpace(comment)
		ticket.SetEvaluation(rating, comment, s.now())
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			return storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		out.add(s.event(events.EventTicketEvaluated, ticket.ID, actor, events.TicketEvaluatedPayload{
			TicketID: ticket.ID,
			Rating:   rating,
			Comment:  comment,
		}), staffTargets(ticket)...)
		result = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddComment appends a human comment to the ticket timeline.
func (s *TicketService) AddComment(ctx context.Context, actor Actor, ticketID int64, text string) (entry *domain.AuditEntry, err error) {
	ctx, span := tracer.Start(ctx, "TicketService.AddComment")
	span.SetAttributes(attribute.Int64("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("comment text is required", map[string]any{"field": "text"})
	}

	err = s.mutate(ctx, ticketID, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		ticket, err := loadTicket(ctx, tx, ticketID, true)
		if err != nil {
			return err
		}
		if err := checkOwnership(actor, ticket); err != nil {
			return err
		}
		entry = &domain.AuditEntry{
			TicketID: ticket.ID,
			Kind:     domain.AuditComment,
			Author:   actor.author(),
			Text:     text,
		}
		if err := s.appendAudit(ctx, tx, entry); err != nil {
			return err
		}
		out.add(s.event(events.EventTicketCommented, ticket.ID, actor, events.TicketCommentedPayload{
			TicketID: ticket.ID,
			EntryID:  entry.ID,
			Preview:  preview(text),
		}), staffTargets(ticket)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListAudit returns the ticket timeline in order. Clients never see the
// supervisor_analyst channel.
func (s *TicketService) ListAudit(ctx context.Context, actor Actor, ticketID int64, filter repository.AuditFilter) ([]domain.AuditEntry, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	var entries []domain.AuditEntry
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		ticket, err := loadTicket(ctx, tx, ticketID, false)
		if err != nil {
			return err
		}
		if err := checkOwnership(actor, ticket); err != nil {
			return err
		}
		all, err := tx.Audit().ListByTicket(ctx, ticketID, filter)
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		entries = make([]domain.AuditEntry, 0, len(all))
		for i := range all {
			if all[i].VisibleTo(actor.Role) {
				entries = append(entries, all[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Purge physically removes a ticket with its assignments and timeline.
func (s *TicketService) Purge(ctx context.Context, actor Actor, ticketID int64) (err error) {
	ctx, span := tracer.Start(ctx, "TicketService.Purge")
	span.SetAttributes(attribute.Int64("ticket.id", ticketID))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return err
	}
	if actor.Role != domain.RoleAdministrator {
		return apperrors.NewForbidden("only administrators can purge tickets")
	}

	return s.mutate(ctx, ticketID, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		ticket, err := loadTicket(ctx, tx, ticketID, true)
		if err != nil {
			return err
		}
		current, err := tx.Assignments().Current(ctx, ticketID)
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		if _, err := tx.Assignments().DeleteByTicket(ctx, ticketID); err != nil {
			return apperrors.NewPersistenceError(err)
		}
		removed, err := tx.Audit().DeleteByTicket(ctx, ticketID)
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		if err := tx.Tickets().Delete(ctx, ticketID); err != nil {
			return storeError(err, "ticket", map[string]any{"ticket_id": ticketID})
		}

		targets := []events.Topic{
			events.TicketTopic(ticketID),
			events.UserTopic(domain.RoleClient, ticket.ClientID),
			events.RoleTopic(domain.RoleClient),
			events.RoleTopic(domain.RoleAnalyst),
			events.RoleTopic(domain.RoleSupervisor),
			events.RoleTopic(domain.RoleAdministrator),
		}
		if current != nil {
			targets = append(targets, events.UserTopic(domain.RoleAnalyst, current.AnalystID))
		}
		out.add(s.event(events.EventTicketDeleted, ticketID, actor, events.TicketDeletedPayload{
			TicketID: ticketID,
			State:    ticket.State,
		}), targets...)
		s.logger.Info("ticket purged", zap.Int64("ticket_id", ticketID), zap.Int64("audit_entries", removed))
		return nil
	})
}

func preview(text string) string {
	const limit = 120
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
