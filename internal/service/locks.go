package service

import "sync"

// TicketLocks hands out one mutex per ticket id. Entries are dropped once no
// goroutine holds or waits on them.
type TicketLocks struct {
	mu    sync.Mutex
	locks map[int64]*ticketLock
}

type ticketLock struct {
	mu   sync.Mutex
	refs int
}

// NewTicketLocks builds an empty lock table.
func NewTicketLocks() *TicketLocks {
	return &TicketLocks{locks: make(map[int64]*ticketLock)}
}

// Lock blocks until the ticket's critical section is free and returns its release func.
func (l *TicketLocks) Lock(ticketID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[ticketID]
	if !ok {
		entry = &ticketLock{}
		l.locks[ticketID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, ticketID)
		}
		l.mu.Unlock()
	}
}

func (l *TicketLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
