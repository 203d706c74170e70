package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TicketsHandler exposes the ticket lifecycle.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Title) == "" {
		return apperrors.NewValidationError("title is required", map[string]any{"field": "title"})
	}

	ticket, err := h.service.Create(c.UserContext(), actor, service.CreateTicketInput{
		ClientID:    req.ClientID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /tickets. The listing is scoped to the caller's role.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	return h.list(c, false)
}

// ListClosedTickets GET /tickets/closed.
func (h *TicketsHandler) ListClosedTickets(c *fiber.Ctx) error {
	return h.list(c, true)
}

func (h *TicketsHandler) list(c *fiber.Ctx, closed bool) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.List(c.UserContext(), actor, parseTicketListQuery(c, closed))
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseTicketListQuery(c *fiber.Ctx, closed bool) service.TicketListFilter {
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", repository.DefaultTicketPageSize)
	return service.TicketListFilter{
		State:  domain.TicketState(strings.TrimSpace(c.Query("state"))),
		Closed: closed,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.Get(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Transition PUT /tickets/:id/state.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.State == "" {
		return apperrors.NewValidationError("state required", nil)
	}

	ticket, err := h.service.Transition(c.UserContext(), actor, id, service.TransitionRequest{
		To:            req.State,
		Rating:        req.Rating,
		RatingComment: req.RatingComment,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Evaluate POST /tickets/:id/evaluation.
func (h *TicketsHandler) Evaluate(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.EvaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.Evaluate(c.UserContext(), actor, id, req.Rating, req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// AddComment POST /tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return apperrors.NewValidationError("text required", nil)
	}
	entry, err := h.service.AddComment(c.UserContext(), actor, id, req.Text)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAuditEntryResponse(entry)})
}

// ListAudit GET /tickets/:id/audit?kind=&channel=.
func (h *TicketsHandler) ListAudit(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	filter := repository.AuditFilter{
		Kind:    domain.AuditKind(c.Query("kind")),
		Channel: domain.ChatKind(c.Query("channel")),
	}
	switch filter.Kind {
	case "", domain.AuditSystemNote, domain.AuditComment, domain.AuditChat:
	default:
		return apperrors.NewValidationError("unknown audit kind", map[string]any{"kind": filter.Kind})
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		return apperrors.NewValidationError("unknown chat channel", map[string]any{"channel": filter.Channel})
	}

	entries, err := h.service.ListAudit(c.UserContext(), actor, id, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuditEntryList(entries)})
}

// DeleteTicket DELETE /tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	if err := h.service.Purge(c.UserContext(), actor, id); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
