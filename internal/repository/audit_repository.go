package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

type auditRepository struct {
	db DBTX
}

// NewAuditRepository builds repository.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_entries (ticket_id, kind, channel, author_role, author_id, body, created_at)
        VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7)
        RETURNING id`

	var (
		authorRole string
		authorID   *int64
	)
	if entry.Author != nil {
		authorRole = string(entry.Author.Role)
		id := entry.Author.ID
		authorID = &id
	}
	return r.db.QueryRow(ctx, query,
		entry.TicketID,
		entry.Kind,
		string(entry.Channel),
		authorRole,
		authorID,
		entry.Text,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

func (r *auditRepository) ListByTicket(ctx context.Context, ticketID int64, filter AuditFilter) ([]domain.AuditEntry, error) {
	const query = `
        SELECT id, ticket_id, COALESCE(kind, ''), COALESCE(channel, ''), author_role, author_id, body, created_at
        FROM audit_entries WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEntry
	for rows.Next() {
		var (
			entry      domain.AuditEntry
			kind       string
			channel    string
			authorRole *string
			authorID   *int64
		)
		if err := rows.Scan(&entry.ID, &entry.TicketID, &kind, &channel, &authorRole, &authorID, &entry.Text, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if authorRole != nil && authorID != nil {
			entry.Author = &domain.Author{Role: domain.Role(*authorRole), ID: *authorID}
		}
		entry.Kind = domain.AuditKind(kind)
		entry.Channel = domain.ChatKind(channel)
		if entry.Kind == "" {
			// rows imported from the old comment table carry their channel in the body
			entry.Kind, entry.Channel, entry.Text = domain.ParseLegacyText(entry.Text, entry.Author != nil)
		}
		if !filter.Match(&entry) {
			continue
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (r *auditRepository) DeleteByTicket(ctx context.Context, ticketID int64) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM audit_entries WHERE ticket_id=$1`, ticketID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
