package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Operation names accepted by MemoryStore.FailOn.
const (
	OpTicketCreate     = "tickets.create"
	OpTicketUpdate     = "tickets.update"
	OpTicketDelete     = "tickets.delete"
	OpAssignmentCreate = "assignments.create"
	OpAssignmentDelete = "assignments.delete"
	OpAuditCreate      = "audit.create"
	OpAuditDelete      = "audit.delete"
)

type memoryState struct {
	tickets     map[int64]*domain.Ticket
	assignments []domain.Assignment
	audit       []domain.AuditEntry
	people      map[domain.Role]map[int64]domain.Person

	nextTicketID     int64
	nextAssignmentID int64
	nextAuditID      int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		tickets:          make(map[int64]*domain.Ticket, len(s.tickets)),
		assignments:      append([]domain.Assignment(nil), s.assignments...),
		audit:            make([]domain.AuditEntry, len(s.audit)),
		people:           make(map[domain.Role]map[int64]domain.Person, len(s.people)),
		nextTicketID:     s.nextTicketID,
		nextAssignmentID: s.nextAssignmentID,
		nextAuditID:      s.nextAuditID,
	}
	for id, t := range s.tickets {
		c.tickets[id] = t.Clone()
	}
	for i, e := range s.audit {
		c.audit[i] = cloneEntry(e)
	}
	for role, byID := range s.people {
		m := make(map[int64]domain.Person, len(byID))
		for id, p := range byID {
			m[id] = p
		}
		c.people[role] = m
	}
	return c
}

// MemoryStore keeps everything in process for tests and local development; it
// is not meant for production traffic. Transactions are serialized under one
// mutex. A transaction reads the committed state directly and copies it only
// on its first write, so the copy replaces the committed state on success and
// read-only transactions never copy.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memoryState
	faults map[string]error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			tickets: make(map[int64]*domain.Ticket),
			people:  make(map[domain.Role]map[int64]domain.Person),
		},
		faults: make(map[string]error),
	}
}

// SeedPerson registers a directory entry.
func (s *MemoryStore) SeedPerson(p domain.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.state.people[p.Role]
	if !ok {
		byID = make(map[int64]domain.Person)
		s.state.people[p.Role] = byID
	}
	byID[p.ID] = p
}

// FailOn makes every later call of op return err. A nil err clears the fault.
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// WithinTx runs fn and commits its writes when fn returns nil.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{base: s.state, faults: s.faults}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.dirty != nil {
		s.state = tx.dirty
	}
	return nil
}

type memoryTx struct {
	base   *memoryState
	dirty  *memoryState
	faults map[string]error
}

func (t *memoryTx) fault(op string) error { return t.faults[op] }

// view returns the state this transaction reads from.
func (t *memoryTx) view() *memoryState {
	if t.dirty != nil {
		return t.dirty
	}
	return t.base
}

// mutable returns the private copy, taking it on first use.
func (t *memoryTx) mutable() *memoryState {
	if t.dirty == nil {
		t.dirty = t.base.clone()
	}
	return t.dirty
}

func (t *memoryTx) Tickets() TicketRepository         { return memoryTickets{t} }
func (t *memoryTx) Assignments() AssignmentRepository { return memoryAssignments{t} }
func (t *memoryTx) Audit() AuditRepository            { return memoryAudit{t} }
func (t *memoryTx) Directory() DirectoryRepository    { return memoryDirectory{t} }

type memoryTickets struct{ tx *memoryTx }

func (r memoryTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	if err := r.tx.fault(OpTicketCreate); err != nil {
		return err
	}
	st := r.tx.mutable()
	st.nextTicketID++
	ticket.ID = st.nextTicketID
	st.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r memoryTickets) Get(_ context.Context, id int64) (*domain.Ticket, error) {
	t, ok := r.tx.view().tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (r memoryTickets) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.Get(ctx, id)
}

func (r memoryTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	if err := r.tx.fault(OpTicketUpdate); err != nil {
		return err
	}
	st := r.tx.mutable()
	if _, ok := st.tickets[ticket.ID]; !ok {
		return ErrNotFound
	}
	st.tickets[ticket.ID] = ticket.Clone()
	return nil
}

func (r memoryTickets) Delete(_ context.Context, id int64) error {
	if err := r.tx.fault(OpTicketDelete); err != nil {
		return err
	}
	st := r.tx.mutable()
	if _, ok := st.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(st.tickets, id)
	return nil
}

func (r memoryTickets) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	st := r.tx.view()
	var current map[int64]int64
	if filter.AnalystID != nil {
		current = currentAnalysts(st.assignments)
	}
	var matched []domain.Ticket
	for _, t := range st.tickets {
		if filter.ClientID != nil && t.ClientID != *filter.ClientID {
			continue
		}
		if filter.AnalystID != nil {
			if analyst, ok := current[t.ID]; !ok || analyst != *filter.AnalystID {
				continue
			}
		}
		if !filter.matchState(t.State) {
			continue
		}
		matched = append(matched, *t.Clone())
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit, offset := filter.Page()
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// currentAnalysts maps each ticket to the analyst of its highest-Seq assignment.
func currentAnalysts(assignments []domain.Assignment) map[int64]int64 {
	seqs := make(map[int64]int64)
	analysts := make(map[int64]int64)
	for _, a := range assignments {
		if seq, ok := seqs[a.TicketID]; ok && seq >= a.Seq {
			continue
		}
		seqs[a.TicketID] = a.Seq
		analysts[a.TicketID] = a.AnalystID
	}
	return analysts
}

type memoryAssignments struct{ tx *memoryTx }

func (r memoryAssignments) Create(_ context.Context, a *domain.Assignment) error {
	if err := r.tx.fault(OpAssignmentCreate); err != nil {
		return err
	}
	st := r.tx.mutable()
	st.nextAssignmentID++
	a.ID = st.nextAssignmentID
	a.Seq = a.ID
	st.assignments = append(st.assignments, *a)
	return nil
}

func (r memoryAssignments) Current(_ context.Context, ticketID int64) (*domain.Assignment, error) {
	var current *domain.Assignment
	for _, a := range r.tx.view().assignments {
		if a.TicketID != ticketID {
			continue
		}
		if current == nil || a.Seq > current.Seq {
			cp := a
			current = &cp
		}
	}
	return current, nil
}

func (r memoryAssignments) ListByTicket(_ context.Context, ticketID int64) ([]domain.Assignment, error) {
	var result []domain.Assignment
	for _, a := range r.tx.view().assignments {
		if a.TicketID == ticketID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (r memoryAssignments) DeleteByTicket(_ context.Context, ticketID int64) (int64, error) {
	return r.deleteWhere(func(a domain.Assignment) bool { return a.TicketID == ticketID })
}

func (r memoryAssignments) DeleteByTicketAndAnalyst(_ context.Context, ticketID, analystID int64) (int64, error) {
	return r.deleteWhere(func(a domain.Assignment) bool {
		return a.TicketID == ticketID && a.AnalystID == analystID
	})
}

func (r memoryAssignments) deleteWhere(match func(domain.Assignment) bool) (int64, error) {
	if err := r.tx.fault(OpAssignmentDelete); err != nil {
		return 0, err
	}
	st := r.tx.mutable()
	kept := st.assignments[:0]
	var removed int64
	for _, a := range st.assignments {
		if match(a) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	st.assignments = kept
	return removed, nil
}

type memoryAudit struct{ tx *memoryTx }

func (r memoryAudit) Create(_ context.Context, entry *domain.AuditEntry) error {
	if err := r.tx.fault(OpAuditCreate); err != nil {
		return err
	}
	st := r.tx.mutable()
	st.nextAuditID++
	entry.ID = st.nextAuditID
	st.audit = append(st.audit, cloneEntry(*entry))
	return nil
}

func (r memoryAudit) ListByTicket(_ context.Context, ticketID int64, filter AuditFilter) ([]domain.AuditEntry, error) {
	var result []domain.AuditEntry
	for _, e := range r.tx.view().audit {
		if e.TicketID != ticketID || !filter.Match(&e) {
			continue
		}
		result = append(result, cloneEntry(e))
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r memoryAudit) DeleteByTicket(_ context.Context, ticketID int64) (int64, error) {
	if err := r.tx.fault(OpAuditDelete); err != nil {
		return 0, err
	}
	st := r.tx.mutable()
	kept := st.audit[:0]
	var removed int64
	for _, e := range st.audit {
		if e.TicketID == ticketID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	st.audit = kept
	return removed, nil
}

type memoryDirectory struct{ tx *memoryTx }

func (r memoryDirectory) GetPerson(_ context.Context, role domain.Role, id int64) (*domain.Person, error) {
	p, ok := r.tx.view().people[role][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func cloneEntry(e domain.AuditEntry) domain.AuditEntry {
	if e.Author != nil {
		a := *e.Author
		e.Author = &a
	}
	return e
}
