package events

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventTicketUpdated   EventType = "ticket_updated"
	EventTicketClosed    EventType = "ticket_closed"
	EventTicketReopened  EventType = "ticket_reopened"
	EventReopenRequested EventType = "reopen_requested"
	EventTicketEscalated EventType = "ticket_escalated"
	EventTicketAssigned  EventType = "ticket_assigned"
	EventTicketEvaluated EventType = "ticket_evaluated"
	EventTicketCommented EventType = "ticket_commented"
	EventTicketDeleted   EventType = "ticket_deleted"
	EventNewChatMessage  EventType = "new_chat_message"
	EventCriticalUpdate  EventType = "critical_ticket_update"
	EventConnected       EventType = "connected"
	EventPong            EventType = "pong"
	EventJoinedTicket    EventType = "joined_ticket"
	EventLeftTicket      EventType = "left_ticket"
	EventJoinedChat      EventType = "joined_chat"
	EventLeftChat        EventType = "left_chat"
	EventJoinedCritical  EventType = "joined_critical_rooms"
	EventProtocolError   EventType = "error"
)

// CriticalPriorityLabel is the priority carried by critical_ticket_update.
const CriticalPriorityLabel = "critical"

// criticalActions maps lifecycle events onto the action name carried by critical_ticket_update.
var criticalActions = map[EventType]string{
	EventTicketCreated:   "created",
	EventTicketUpdated:   "updated",
	EventTicketClosed:    "closed",
	EventTicketReopened:  "reopened",
	EventTicketEscalated: "escalated",
	EventTicketAssigned:  "assigned",
	EventTicketCommented: "commented",
}

// CriticalAction returns the action name for critical events.
func (t EventType) CriticalAction() (string, bool) {
	action, ok := criticalActions[t]
	return action, ok
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Role   domain.Role `json:"role,omitempty"`
	UserID int64       `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"event"`
	TicketID  int64       `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID int64              `json:"ticket_id"`
	ClientID int64              `json:"client_id"`
	Title    string             `json:"title"`
	Priority string             `json:"priority"`
	State    domain.TicketState `json:"state"`
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	TicketID  int64              `json:"ticket_id"`
	State     domain.TicketState `json:"state"`
	Requested string             `json:"requested_state,omitempty"`
	ActorRole domain.Role        `json:"actor_role"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	TicketID int64 `json:"ticket_id"`
	Rating   *int  `json:"rating,omitempty"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	TicketID int64 `json:"ticket_id"`
}

// ReopenRequestedPayload payload.
type ReopenRequestedPayload struct {
	TicketID int64 `json:"ticket_id"`
	ClientID int64 `json:"client_id"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	TicketID  int64 `json:"ticket_id"`
	AnalystID int64 `json:"analyst_id"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TicketID  int64  `json:"ticket_id"`
	AnalystID int64  `json:"analyst_id"`
	Action    string `json:"action"`
}

// Assignment actions.
const (
	ActionAssigned   = "assigned"
	ActionReassigned = "reassigned"
)

// TicketEvaluatedPayload payload.
type TicketEvaluatedPayload struct {
	TicketID int64  `json:"ticket_id"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment,omitempty"`
}

// TicketCommentedPayload payload.
type TicketCommentedPayload struct {
	TicketID int64  `json:"ticket_id"`
	EntryID  int64  `json:"entry_id"`
	Preview  string `json:"preview"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	TicketID int64              `json:"ticket_id"`
	State    domain.TicketState `json:"state"`
}

// ChatAuthor identifies the sender of a chat message.
type ChatAuthor struct {
	ID   int64       `json:"id"`
	Role domain.Role `json:"role"`
}

// NewChatMessagePayload payload.
type NewChatMessagePayload struct {
	TicketID int64           `json:"ticket_id"`
	Channel  domain.ChatKind `json:"channel"`
	Message  string          `json:"message"`
	EntryID  int64           `json:"entry_id"`
	Author   ChatAuthor      `json:"author"`
}

// CriticalUpdatePayload is the generic envelope broadcast to every dashboard role.
type CriticalUpdatePayload struct {
	TicketID int64       `json:"ticket_id"`
	Action   string      `json:"action"`
	Role     domain.Role `json:"role"`
	UserID   int64       `json:"user_id,omitempty"`
	Priority string      `json:"priority"`
	SourceID string      `json:"source_event_id"`
}
