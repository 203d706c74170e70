package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// ChatService handles the two chat channels attached to each ticket.
type ChatService struct {
	core
}

// NewChatService creates the service.
func NewChatService(deps Dependencies) *ChatService {
	return &ChatService{core: newCore(deps)}
}

func chatAccess(actor Actor, kind domain.ChatKind) error {
	if !kind.Valid() {
		return apperrors.NewValidationError("unknown chat channel", map[string]any{"channel": kind})
	}
	if !kind.Allows(actor.Role) {
		return apperrors.NewForbidden("role cannot use this chat channel")
	}
	return nil
}

// Send stores a chat message and pushes it to the channel's followers.
func (s *ChatService) Send(ctx context.Context, actor Actor, ticketID int64, kind domain.ChatKind, message string) (entry *domain.AuditEntry, err error) {
	ctx, span := tracer.Start(ctx, "ChatService.Send")
	span.SetAttributes(attribute.Int64("ticket.id", ticketID), attribute.String("chat.channel", string(kind)))
	defer func() { endSpan(span, err) }()

	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := chatAccess(actor, kind); err != nil {
		return nil, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperrors.NewValidationError("message is required", map[string]any{"field": "message"})
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
			Kind:     domain.AuditChat,
			Channel:  kind,
			Author:   actor.author(),
			Text:     message,
		}
		if err := s.appendAudit(ctx, tx, entry); err != nil {
			return err
		}

		targets := []events.Topic{events.ChatTopic(ticket.ID, kind)}
		if kind == domain.ChatAnalystClient {
			targets = append(targets, events.TicketTopic(ticket.ID))
		}
		out.add(s.event(events.EventNewChatMessage, ticket.ID, actor, events.NewChatMessagePayload{
			TicketID: ticket.ID,
			Channel:  kind,
			Message:  message,
			EntryID:  entry.ID,
			Author:   events.ChatAuthor{ID: actor.UserID, Role: actor.Role},
		}), targets...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns the channel's messages oldest first.
func (s *ChatService) History(ctx context.Context, actor Actor, ticketID int64, kind domain.ChatKind) ([]domain.AuditEntry, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}
	if err := chatAccess(actor, kind); err != nil {
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
		entries, err = tx.Audit().ListByTicket(ctx, ticketID, repository.AuditFilter{Kind: domain.AuditChat, Channel: kind})
		if err != nil {
			return apperrors.NewPersistenceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
