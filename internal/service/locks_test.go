package service

import (
	"sync"
	"testing"
)

func TestTicketLocksSerializeSameTicket(t *testing.T) {
	locks := NewTicketLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(7)
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("lock table leaked %d entries", n)
	}
}

func TestTicketLocksIndependentTickets(t *testing.T) {
	locks := NewTicketLocks()
	unlockA := locks.Lock(1)
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock(2)
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
