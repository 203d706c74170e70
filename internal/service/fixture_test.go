package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

var (
	clientActor     = Actor{UserID: 1, Role: domain.RoleClient}
	otherClient     = Actor{UserID: 2, Role: domain.RoleClient}
	analystActor    = Actor{UserID: 10, Role: domain.RoleAnalyst}
	otherAnalyst    = Actor{UserID: 11, Role: domain.RoleAnalyst}
	supervisorActor = Actor{UserID: 20, Role: domain.RoleSupervisor}
	adminActor      = Actor{UserID: 30, Role: domain.RoleAdministrator}
)

type recordingPublisher struct {
	mu    sync.Mutex
	items []publication
}

func (r *recordingPublisher) Publish(_ context.Context, event events.Event, targets ...events.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, publication{event: event, targets: targets})
}

func (r *recordingPublisher) published() []publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publication(nil), r.items...)
}

func (r *recordingPublisher) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store       *repository.MemoryStore
	publisher   *recordingPublisher
	tickets     *TicketService
	assignments *AssignmentService
	chat        *ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, p := range []domain.Person{
		{ID: 1, Role: domain.RoleClient, FirstName: "Carla", LastName: "Diaz"},
		{ID: 2, Role: domain.RoleClient, FirstName: "Omar", LastName: "Reyes"},
		{ID: 10, Role: domain.RoleAnalyst, FirstName: "Ana", LastName: "Lopez"},
		{ID: 11, Role: domain.RoleAnalyst, FirstName: "Beto", LastName: "Ruiz"},
		{ID: 20, Role: domain.RoleSupervisor, FirstName: "Sara", LastName: "Mena"},
		{ID: 30, Role: domain.RoleAdministrator, FirstName: "Root"},
	} {
		store.SeedPerson(p)
	}
	publisher := &recordingPublisher{}
	clock := &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	deps := Dependencies{
		Store:     store,
		Publisher: publisher,
		Locks:     NewTicketLocks(),
		Clock:     clock.Now,
	}
	return &fixture{
		store:       store,
		publisher:   publisher,
		tickets:     NewTicketService(deps),
		assignments: NewAssignmentService(deps),
		chat:        NewChatService(deps),
	}
}

// seedTicket stores a ticket of client 1 directly in state, with one
// assignment for analyst 10 and no audit entries.
func (f *fixture) seedTicket(t *testing.T, state domain.TicketState) int64 {
	t.Helper()
	ticket := &domain.Ticket{
		ClientID:  1,
		State:     state,
		Title:     "printer on fire",
		Priority:  "high",
		CreatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	if state.IsClosed() {
		ticket.MarkClosed(state, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC))
	}
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return err
		}
		return tx.Assignments().Create(ctx, &domain.Assignment{
			TicketID:     ticket.ID,
			AnalystID:    10,
			SupervisorID: 20,
			AssignedAt:   ticket.CreatedAt,
		})
	})
	if err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	f.publisher.reset()
	return ticket.ID
}

type snapshot struct {
	ticket      *domain.Ticket
	assignments []domain.Assignment
	audit       []domain.AuditEntry
}

func (f *fixture) snapshot(t *testing.T, ticketID int64) snapshot {
	t.Helper()
	var snap snapshot
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		if snap.ticket, err = tx.Tickets().Get(ctx, ticketID); err != nil {
			return err
		}
		if snap.assignments, err = tx.Assignments().ListByTicket(ctx, ticketID); err != nil {
			return err
		}
		snap.audit, err = tx.Audit().ListByTicket(ctx, ticketID, repository.AuditFilter{})
		return err
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func hasTopic(targets []events.Topic, want events.Topic) bool {
	for _, topic := range targets {
		if topic == want {
			return true
		}
	}
	return false
}
