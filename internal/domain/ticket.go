package domain

import "time"

// TicketState enumerates lifecycle states for tickets.
type TicketState string

const (
	StateCreated            TicketState = "created"
	StateWaiting            TicketState = "waiting"
	StateInProgress         TicketState = "in_progress"
	StateSolved             TicketState = "solved"
	StateClosed             TicketState = "closed"
	StateClosedBySupervisor TicketState = "closed_by_supervisor"
	StateReopened           TicketState = "reopened"
)

// AllStates lists every persisted state in lifecycle order.
var AllStates = []TicketState{
	StateCreated,
	StateWaiting,
	StateInProgress,
	StateSolved,
	StateClosed,
	StateClosedBySupervisor,
	StateReopened,
}

// Valid reports whether s is a known persisted state.
func (s TicketState) Valid() bool {
	for _, candidate := range AllStates {
		if s == candidate {
			return true
		}
	}
	return false
}

// IsClosed is true for both closed variants.
func (s TicketState) IsClosed() bool {
	return s == StateClosed || s == StateClosedBySupervisor
}

// Rating bounds for client satisfaction.
const (
	MinRating = 1
	MaxRating = 5
)

// ValidRating reports whether r is within the accepted satisfaction scale.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            int64
	ClientID      int64
	State         TicketState
	Title         string
	Description   string
	Priority      string
	ImageURL      *string
	CreatedAt     time.Time
	ClosedAt      *time.Time
	Rating        *int
	RatingComment *string
	EvaluatedAt   *time.Time
	EverClosed    bool
}

// HiddenFromClient is true when a supervisor closed the ticket.
func (t *Ticket) HiddenFromClient() bool {
	return t.State == StateClosedBySupervisor
}

// Clone returns a deep copy so callers can mutate without aliasing stored values.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	if t.ImageURL != nil {
		v := *t.ImageURL
		c.ImageURL = &v
	}
	if t.ClosedAt != nil {
		v := *t.ClosedAt
		c.ClosedAt = &v
	}
	if t.Rating != nil {
		v := *t.Rating
		c.Rating = &v
	}
	if t.RatingComment != nil {
		v := *t.RatingComment
		c.RatingComment = &v
	}
	if t.EvaluatedAt != nil {
		v := *t.EvaluatedAt
		c.EvaluatedAt = &v
	}
	return &c
}

// MarkClosed enters a closed variant and stamps the close time.
func (t *Ticket) MarkClosed(state TicketState, at time.Time) {
	t.State = state
	t.ClosedAt = &at
	t.EverClosed = true
}

// MarkOpen moves to a non-closed state and clears the close time.
func (t *Ticket) MarkOpen(state TicketState) {
	t.State = state
	t.ClosedAt = nil
}

// SetEvaluation records the client's satisfaction rating.
func (t *Ticket) SetEvaluation(rating int, comment string, at time.Time) {
	t.Rating = &rating
	t.RatingComment = &comment
	t.EvaluatedAt = &at
}
