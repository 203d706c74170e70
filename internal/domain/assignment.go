package domain

import "time"

// Assignment pairs a ticket with the analyst working it and the supervisor who assigned it.
type Assignment struct {
	ID           int64
	TicketID     int64
	AnalystID    int64
	SupervisorID int64
	AssignedAt   time.Time
	// Seq grows monotonically across inserts; the current assignment is the highest Seq.
	Seq int64
}
