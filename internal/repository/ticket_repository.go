package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

const ticketColumns = `id, client_id, state, title, description, priority, image_url,
               created_at, closed_at, rating, rating_comment, evaluated_at, ever_closed`

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (client_id, state, title, description, priority, image_url, created_at, ever_closed)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		ticket.ClientID,
		ticket.State,
		ticket.Title,
		ticket.Description,
		ticket.Priority,
		ticket.ImageURL,
		ticket.CreatedAt,
		ticket.EverClosed,
	).Scan(&ticket.ID)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET state=$1, title=$2, description=$3, priority=$4, image_url=$5,
            closed_at=$6, rating=$7, rating_comment=$8, evaluated_at=$9, ever_closed=$10
        WHERE id=$11`
	cmd, err := r.db.Exec(ctx, query,
		ticket.State,
		ticket.Title,
		ticket.Description,
		ticket.Priority,
		ticket.ImageURL,
		ticket.ClosedAt,
		ticket.Rating,
		ticket.RatingComment,
		ticket.EvaluatedAt,
		ticket.EverClosed,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) Get(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, id)
}

func (r *ticketRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.ClientID != nil {
		args = append(args, *filter.ClientID)
		clauses = append(clauses, fmt.Sprintf("t.client_id=$%d", len(args)))
	}
	if filter.AnalystID != nil {
		args = append(args, *filter.AnalystID)
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
            SELECT 1 FROM assignments a
            WHERE a.ticket_id=t.id AND a.analyst_id=$%d
              AND a.seq=(SELECT MAX(seq) FROM assignments WHERE ticket_id=t.id))`, len(args)))
	}
	if len(filter.States) > 0 {
		clauses = append(clauses, "t.state IN ("+statePlaceholders(&args, filter.States)+")")
	}
	if len(filter.ExcludeStates) > 0 {
		clauses = append(clauses, "t.state NOT IN ("+statePlaceholders(&args, filter.ExcludeStates)+")")
	}

	limit, offset := filter.Page()
	query := fmt.Sprintf(`SELECT %s FROM tickets t WHERE %s ORDER BY t.created_at DESC, t.id DESC LIMIT %d OFFSET %d`,
		qualifiedTicketColumns(), strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *ticket)
	}
	return tickets, rows.Err()
}

func statePlaceholders(args *[]any, states []domain.TicketState) string {
	placeholders := make([]string, len(states))
	for i, state := range states {
		*args = append(*args, state)
		placeholders[i] = fmt.Sprintf("$%d", len(*args))
	}
	return strings.Join(placeholders, ",")
}

func qualifiedTicketColumns() string {
	cols := strings.Split(ticketColumns, ",")
	for i, col := range cols {
		cols[i] = "t." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		rating *int32
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.ClientID,
		&ticket.State,
		&ticket.Title,
		&ticket.Description,
		&ticket.Priority,
		&ticket.ImageURL,
		&ticket.CreatedAt,
		&ticket.ClosedAt,
		&rating,
		&ticket.RatingComment,
		&ticket.EvaluatedAt,
		&ticket.EverClosed,
	); err != nil {
		return nil, err
	}
	if rating != nil {
		v := int(*rating)
		ticket.Rating = &v
	}
	return &ticket, nil
}
