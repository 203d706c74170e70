package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// people tables are owned by the CRUD layer; this service only reads names.
var directoryTables = map[domain.Role]string{
	domain.RoleClient:        "clients",
	domain.RoleAnalyst:       "analysts",
	domain.RoleSupervisor:    "supervisors",
	domain.RoleAdministrator: "administrators",
}

type directoryRepository struct {
	db DBTX
}

// NewDirectoryRepository builds repository.
func NewDirectoryRepository(db DBTX) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) GetPerson(ctx context.Context, role domain.Role, id int64) (*domain.Person, error) {
	table, ok := directoryTables[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	query := fmt.Sprintf(`SELECT id, first_name, last_name FROM %s WHERE id=$1`, table)

	person := domain.Person{Role: role}
	if err := r.db.QueryRow(ctx, query, id).Scan(&person.ID, &person.FirstName, &person.LastName); err != nil {
		return nil, notFound(err)
	}
	return &person, nil
}
