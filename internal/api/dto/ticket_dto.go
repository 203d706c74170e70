package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest payload. ClientID is only honoured for administrators.
type CreateTicketRequest struct {
	ClientID    int64   `json:"client_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	ImageURL    *string `json:"image_url"`
}

// TransitionRequest asks for a state change.
type TransitionRequest struct {
	State         string `json:"state"`
	Rating        *int   `json:"rating"`
	RatingComment string `json:"rating_comment"`
}

// EvaluateRequest carries a satisfaction rating.
type EvaluateRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CommentRequest payload.
type CommentRequest struct {
	Text string `json:"text"`
}

// AssignRequest payload.
type AssignRequest struct {
	AnalystID int64  `json:"analyst_id"`
	Note      string `json:"note"`
	Reassign  bool   `json:"reassign"`
}

// ChatMessageRequest payload.
type ChatMessageRequest struct {
	Message string `json:"message"`
}

// TicketResponse renders a ticket.
type TicketResponse struct {
	ID            int64              `json:"id"`
	ClientID      int64              `json:"client_id"`
	State         domain.TicketState `json:"state"`
	Title         string             `json:"title"`
	Description   string             `json:"description"`
	Priority      string             `json:"priority"`
	ImageURL      *string            `json:"image_url,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ClosedAt      *time.Time         `json:"closed_at"`
	Rating        *int               `json:"rating"`
	RatingComment *string            `json:"rating_comment"`
	EvaluatedAt   *time.Time         `json:"evaluated_at"`
}

// AuthorResponse identifies who wrote an entry.
type AuthorResponse struct {
	Role domain.Role `json:"role"`
	ID   int64       `json:"id"`
}

// AuditEntryResponse renders a timeline entry.
type AuditEntryResponse struct {
	ID        int64            `json:"id"`
	TicketID  int64            `json:"ticket_id"`
	Kind      domain.AuditKind `json:"kind"`
	Channel   domain.ChatKind  `json:"channel,omitempty"`
	Author    *AuthorResponse  `json:"author"`
	Text      string           `json:"text"`
	CreatedAt time.Time        `json:"created_at"`
}

// AssignmentResponse renders the current assignment.
type AssignmentResponse struct {
	ID           int64     `json:"id"`
	TicketID     int64     `json:"ticket_id"`
	AnalystID    int64     `json:"analyst_id"`
	SupervisorID int64     `json:"supervisor_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:            t.ID,
		ClientID:      t.ClientID,
		State:         t.State,
		Title:         t.Title,
		Description:   t.Description,
		Priority:      t.Priority,
		ImageURL:      t.ImageURL,
		CreatedAt:     t.CreatedAt,
		ClosedAt:      t.ClosedAt,
		Rating:        t.Rating,
		RatingComment: t.RatingComment,
		EvaluatedAt:   t.EvaluatedAt,
	}
}

// NewAuditEntryResponse maps an entry.
func NewAuditEntryResponse(e *domain.AuditEntry) AuditEntryResponse {
	resp := AuditEntryResponse{
		ID:        e.ID,
		TicketID:  e.TicketID,
		Kind:      e.Kind,
		Channel:   e.Channel,
		Text:      e.Text,
		CreatedAt: e.CreatedAt,
	}
	if e.Author != nil {
		resp.Author = &AuthorResponse{Role: e.Author.Role, ID: e.Author.ID}
	}
	return resp
}

// NewAuditEntryList maps entries, never returning nil.
func NewAuditEntryList(entries []domain.AuditEntry) []AuditEntryResponse {
	items := make([]AuditEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, NewAuditEntryResponse(&entries[i]))
	}
	return items
}

// NewAssignmentResponse maps an assignment.
func NewAssignmentResponse(a *domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:           a.ID,
		TicketID:     a.TicketID,
		AnalystID:    a.AnalystID,
		SupervisorID: a.SupervisorID,
		AssignedAt:   a.AssignedAt,
	}
}
