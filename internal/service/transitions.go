package service

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// RequestReopen is the target a client sends to ask for a solved ticket to be reopened.
// The ticket keeps its state.
const RequestReopen = "request_reopen"

// Audit texts written by lifecycle side effects.
const (
	NoteClosedByClient       = "closed by client"
	NoteReopenRequested      = "reopen requested"
	NoteReopenedByClient     = "reopened by client"
	NoteSolved               = "solved"
	NoteEscalated            = "escalated to supervisor"
	NoteReopenedBySupervisor = "reopened by supervisor"
)

type transitionKey struct {
	role domain.Role
	to   string
}

type transition struct {
	from  []domain.TicketState
	event events.EventType
	note  string
	// acceptsRating lets the client attach a satisfaction rating.
	acceptsRating bool
	// escalates removes the acting analyst's assignment.
	escalates bool
	apply     func(t *domain.Ticket, now time.Time)
}

func (tr transition) allows(state domain.TicketState) bool {
	for _, s := range tr.from {
		if s == state {
			return true
		}
	}
	return false
}

func moveTo(state domain.TicketState) func(*domain.Ticket, time.Time) {
	return func(t *domain.Ticket, _ time.Time) { t.MarkOpen(state) }
}

func closeAs(state domain.TicketState) func(*domain.Ticket, time.Time) {
	return func(t *domain.Ticket, now time.Time) { t.MarkClosed(state, now) }
}

var transitions = map[transitionKey]transition{
	{domain.RoleClient, string(domain.StateClosed)}: {
		from:          []domain.TicketState{domain.StateSolved},
		event:         events.EventTicketClosed,
		note:          NoteClosedByClient,
		acceptsRating: true,
		apply:         closeAs(domain.StateClosed),
	},
	{domain.RoleClient, RequestReopen}: {
		from:  []domain.TicketState{domain.StateSolved},
		event: events.EventReopenRequested,
		note:  NoteReopenRequested,
	},
	{domain.RoleClient, string(domain.StateReopened)}: {
		from:  []domain.TicketState{domain.StateClosed},
		event: events.EventTicketReopened,
		note:  NoteReopenedByClient,
		apply: moveTo(domain.StateReopened),
	},
	{domain.RoleAnalyst, string(domain.StateInProgress)}: {
		from:  []domain.TicketState{domain.StateCreated, domain.StateWaiting},
		event: events.EventTicketUpdated,
		apply: moveTo(domain.StateInProgress),
	},
	{domain.RoleAnalyst, string(domain.StateSolved)}: {
		from:  []domain.TicketState{domain.StateInProgress},
		event: events.EventTicketUpdated,
		note:  NoteSolved,
		apply: moveTo(domain.StateSolved),
	},
	{domain.RoleAnalyst, string(domain.StateWaiting)}: {
		from:      []domain.TicketState{domain.StateInProgress, domain.StateWaiting},
		event:     events.EventTicketEscalated,
		note:      NoteEscalated,
		escalates: true,
		apply:     moveTo(domain.StateWaiting),
	},
	{domain.RoleSupervisor, string(domain.StateWaiting)}: {
		from:  []domain.TicketState{domain.StateCreated, domain.StateReopened},
		event: events.EventTicketUpdated,
		apply: moveTo(domain.StateWaiting),
	},
	{domain.RoleSupervisor, string(domain.StateClosed)}: {
		from:  []domain.TicketState{domain.StateSolved, domain.StateReopened},
		event: events.EventTicketUpdated,
		apply: closeAs(domain.StateClosedBySupervisor),
	},
	{domain.RoleSupervisor, string(domain.StateReopened)}: {
		from:  []domain.TicketState{domain.StateSolved},
		event: events.EventTicketUpdated,
		note:  NoteReopenedBySupervisor,
		apply: moveTo(domain.StateReopened),
	},
}

// administrators may move any ticket to any persisted state.
func adminTransition(target domain.TicketState) transition {
	tr := transition{
		from:  domain.AllStates,
		event: events.EventTicketUpdated,
	}
	if target.IsClosed() {
		tr.apply = func(t *domain.Ticket, now time.Time) {
			if t.ClosedAt != nil {
				t.State = target
				t.EverClosed = true
				return
			}
			t.MarkClosed(target, now)
		}
	} else {
		tr.apply = moveTo(target)
	}
	return tr
}

// resolveTransition looks up the rule for (role, current, requested) and fails
// with INVALID_TRANSITION when none applies.
func resolveTransition(role domain.Role, current domain.TicketState, requested string) (transition, error) {
	invalid := apperrors.NewInvalidTransition(string(role), string(current), requested)
	if role == domain.RoleAdministrator {
		target := domain.TicketState(requested)
		if !target.Valid() {
			return transition{}, invalid
		}
		return adminTransition(target), nil
	}
	tr, ok := transitions[transitionKey{role: role, to: requested}]
	if !ok || !tr.allows(current) {
		return transition{}, invalid
	}
	return tr, nil
}
