package realtime

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// Inbound actions.
const (
	ActionPing              = "ping"
	ActionJoinTicket        = "join_ticket"
	ActionLeaveTicket       = "leave_ticket"
	ActionJoinChat          = "join_chat"
	ActionLeaveChat         = "leave_chat"
	ActionJoinCriticalRooms = "join_critical_rooms"
)

const maxFrameBytes = 32 << 10

type inboundFrame struct {
	Action    string          `json:"action"`
	TicketID  int64           `json:"ticket_id,omitempty"`
	TicketIDs []int64         `json:"ticket_ids,omitempty"`
	Chat      domain.ChatKind `json:"chat,omitempty"`
}

type outboundFrame struct {
	ID        string           `json:"id"`
	Event     events.EventType `json:"event"`
	TicketID  int64            `json:"ticket_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload"`
}

func frameFor(event events.Event) outboundFrame {
	return outboundFrame{
		ID:        event.ID,
		Event:     event.Type,
		TicketID:  event.TicketID,
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}
}

// ConnectedPayload greets a freshly authenticated connection.
type ConnectedPayload struct {
	ConnectionID string      `json:"connection_id"`
	UserID       int64       `json:"user_id"`
	Role         domain.Role `json:"role"`
}

// AckPayload acknowledges a join or leave.
type AckPayload struct {
	TicketID  int64           `json:"ticket_id,omitempty"`
	TicketIDs []int64         `json:"ticket_ids,omitempty"`
	Chat      domain.ChatKind `json:"chat,omitempty"`
	Role      domain.Role     `json:"role,omitempty"`
}

// ErrorPayload reports a rejected frame.
type ErrorPayload struct {
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
}
