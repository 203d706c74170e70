package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AssignmentsHandler exposes analyst assignment.
type AssignmentsHandler struct {
	assignments *service.AssignmentService
	tickets     *service.TicketService
}

// NewAssignmentsHandler constructs handler.
func NewAssignmentsHandler(assignments *service.AssignmentService, tickets *service.TicketService) *AssignmentsHandler {
	return &AssignmentsHandler{assignments: assignments, tickets: tickets}
}

// Assign POST /tickets/:id/assignment.
func (h *AssignmentsHandler) Assign(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AnalystID <= 0 {
		return apperrors.NewValidationError("analyst_id required", nil)
	}

	assignment, err := h.assignments.Assign(c.UserContext(), actor, service.AssignInput{
		TicketID:  id,
		AnalystID: req.AnalystID,
		Note:      req.Note,
		Reassign:  req.Reassign,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAssignmentResponse(assignment)})
}

// Current GET /tickets/:id/assignment.
func (h *AssignmentsHandler) Current(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	id, err := ticketIDParam(c)
	if err != nil {
		return err
	}
	// visibility follows the ticket itself
	if _, err := h.tickets.Get(c.UserContext(), actor, id); err != nil {
		return err
	}
	assignment, err := h.assignments.CurrentAssignment(c.UserContext(), id)
	if err != nil {
		return err
	}
	if assignment == nil {
		return c.JSON(fiber.Map{"data": nil})
	}
	return c.JSON(fiber.Map{"data": dto.NewAssignmentResponse(assignment)})
}
