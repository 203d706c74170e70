package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

type assignmentRepository struct {
	db DBTX
}

// NewAssignmentRepository builds repository.
func NewAssignmentRepository(db DBTX) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) Create(ctx context.Context, a *domain.Assignment) error {
	const query = `
        INSERT INTO assignments (ticket_id, analyst_id, supervisor_id, assigned_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id, seq`
	return r.db.QueryRow(ctx, query, a.TicketID, a.AnalystID, a.SupervisorID, a.AssignedAt).Scan(&a.ID, &a.Seq)
}

func (r *assignmentRepository) Current(ctx context.Context, ticketID int64) (*domain.Assignment, error) {
	const query = `
        SELECT id, ticket_id, analyst_id, supervisor_id, assigned_at, seq
        FROM assignments WHERE ticket_id=$1 ORDER BY seq DESC LIMIT 1`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanAssignments(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *assignmentRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Assignment, error) {
	const query = `
        SELECT id, ticket_id, analyst_id, supervisor_id, assigned_at, seq
        FROM assignments WHERE ticket_id=$1 ORDER BY seq ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func (r *assignmentRepository) DeleteByTicket(ctx context.Context, ticketID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM assignments WHERE ticket_id=$1`, ticketID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *assignmentRepository) DeleteByTicketAndAnalyst(ctx context.Context, ticketID, analystID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM assignments WHERE ticket_id=$1 AND analyst_id=$2`, ticketID, analystID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanAssignments(rows pgx.Rows) ([]domain.Assignment, error) {
	var result []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.AnalystID, &a.SupervisorID, &a.AssignedAt, &a.Seq); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
