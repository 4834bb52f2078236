package repository

import (
	"database/sql"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// ProjectRepository reads project settings.
type ProjectRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewProjectRepository(db *sql.DB, clock core.Clock) *ProjectRepository {
	return &ProjectRepository{db: db, clock: clock}
}

func (r *ProjectRepository) FindByID(id string) (*domain.Project, error) {
	query := `
		SELECT id, name, primary_currency, timezone, created
		FROM projects WHERE id = ` + placeholder(1) + `
	`
	var p domain.Project
	err := r.db.QueryRow(query, id).Scan(&p.ID, &p.Name, &p.PrimaryCurrency, &p.Timezone, &p.Created)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) FindAll() (*[]domain.Project, error) {
	query := `SELECT id, name, primary_currency, timezone, created FROM projects ORDER BY id`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.PrimaryCurrency, &p.Timezone, &p.Created); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return &projects, rows.Err()
}
