package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// assignableStates lists the states from which a ticket may be (re)assigned.
var assignableStates = map[domain.TicketState]bool{
	domain.StateCreated:  true,
	domain.StateWaiting:  true,
	domain.StateReopened: true,
	domain.StateSolved:   true,
}

// AssignmentService keeps at most one current analyst per ticket.
type AssignmentService struct {
	core
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps Dependencies) *AssignmentService {
	return &AssignmentService{core: newCore(deps)}
}

// AssignInput describes an assignment request. Reassign only changes the
// audit wording and the published action.
type AssignInput struct {
	TicketID  int64
	AnalystID int64
	Note      string
	Reassign  bool
}

// Assign replaces every assignment of the ticket with one for the analyst and
// moves the ticket to waiting.
func (s *AssignmentService) Assign(ctx context.Context, actor Actor, input AssignInput) (assignment *domain.Assignment, err error) {
	ctx, span := tracer.Start(ctx, "AssignmentService.Assign")
	span.SetAttributes(
		attribute.Int64("ticket.id", input.TicketID),
		attribute.Int64("analyst.id", input.AnalystID),
	)
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleSupervisor && actor.Role != domain.RoleAdministrator {
		return nil, apperrors.NewForbidden("insufficient role for assignment")
	}

	err = s.mutate(ctx, input.TicketID, func(ctx context.Context, tx repository.Tx, out *outbox) error {
		ticket, err := loadTicket(ctx, tx, input.TicketID, true)
		if err != nil {
			return err
		}
		analyst, err := tx.Directory().GetPerson(ctx, domain.RoleAnalyst, input.AnalystID)
		if err != nil {
			return storeError(err, "analyst", map[string]any{"analyst_id": input.AnalystID})
		}
		if !assignableStates[ticket.State] {
			return apperrors.NewTicketNotAssignable(string(ticket.State))
		}

		if _, err := tx.Assignments().DeleteByTicket(ctx, ticket.ID); err != nil {
			return apperrors.NewPersistenceError(err)
		}
		now := s.now()
		assignment = &domain.Assignment{
			TicketID:     ticket.ID,
			AnalystID:    analyst.ID,
			SupervisorID: actor.UserID,
			AssignedAt:   now,
		}
		if err := tx.Assignments().Create(ctx, assignment); err != nil {
			return apperrors.NewPersistenceError(err)
		}

		ticket.MarkOpen(domain.StateWaiting)
		if err := tx.Tickets().Update(ctx, ticket); err != nil {
			return storeError(err, "ticket", map[string]any{"ticket_id": ticket.ID})
		}

		action := events.ActionAssigned
		if input.Reassign {
			action = events.ActionReassigned
		}
		if err := s.systemNote(ctx, tx, ticket.ID, actor, fmt.Sprintf("%s to %s", action, analyst.FullName())); err != nil {
			return err
		}
		if note := strings.TrimSpace(input.Note); note != "" {
			if err := s.systemNote(ctx, tx, ticket.ID, actor, note); err != nil {
				return err
			}
		}

		out.add(s.event(events.EventTicketAssigned, ticket.ID, actor, events.TicketAssignedPayload{
			TicketID:  ticket.ID,
			AnalystID: analyst.ID,
			Action:    action,
		}),
			events.UserTopic(domain.RoleAnalyst, analyst.ID),
			events.TicketTopic(ticket.ID),
			events.RoleTopic(domain.RoleSupervisor),
			events.RoleTopic(domain.RoleAdministrator),
		)
		s.logger.Info("ticket assigned",
			zap.Int64("ticket_id", ticket.ID),
			zap.Int64("analyst_id", analyst.ID),
			zap.String("action", action),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// CurrentAssignment returns the ticket's current assignment, or nil when it has none.
func (s *AssignmentService) CurrentAssignment(ctx context.Context, ticketID int64) (*domain.Assignment, error) {
	var current *domain.Assignment
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := loadTicket(ctx, tx, ticketID, false); err != nil {
			return err
		}
		var err error
		current, err = tx.Assignments().Current(ctx, ticketID)
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}
