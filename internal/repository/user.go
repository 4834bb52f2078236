package repository

import (
	"database/sql"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// UserRepository provides persistence methods for the users table. Users here
// are platform API principals (key id + bcrypt-hashed secret), not the
// end-users of hosted sites.
type UserRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewUserRepository(db *sql.DB, clock core.Clock) *UserRepository {
	return &UserRepository{db: db, clock: clock}
}

// Save inserts a new user and returns its generated id.
func (r *UserRepository) Save(u *domain.User) (int64, error) {
	if !u.Created.Valid {
		u.Created = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}

	base := `
        INSERT INTO users (project_id, username, role, key_id, secret_hash, created, enabled)
        VALUES (` + placeholder(1) + `,` + placeholder(2) + `,` + placeholder(3) + `,` + placeholder(4) + `,` + placeholder(5) + `,` + placeholder(6) + `,` + placeholder(7) + `)
    `

	var id int64
	var err error
	if supportsReturning() {
		err = r.db.QueryRow(
			base+" RETURNING id",
			u.ProjectID, u.Username, u.Role, u.KeyID, u.SecretHash,
			formatDateInDatabaseNull(u.Created), u.Enabled,
		).Scan(&id)
	} else {
		res, e := r.db.Exec(base,
			u.ProjectID, u.Username, u.Role, u.KeyID, u.SecretHash,
			formatDateInDatabaseNull(u.Created), u.Enabled,
		)
		if e != nil {
			err = e
		} else {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

// FindByKeyID looks up an enabled user by API key id.
func (r *UserRepository) FindByKeyID(keyID string) (*domain.User, error) {
	query := `
		SELECT id, project_id, username, role, key_id, secret_hash, created, enabled
		FROM users
		WHERE key_id = ` + placeholder(1) + ` AND enabled = ` + trueLiteral() + `
	`
	var u domain.User
	err := r.db.QueryRow(query, keyID).Scan(
		&u.ID, &u.ProjectID, &u.Username, &u.Role, &u.KeyID, &u.SecretHash, &u.Created, &u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindById(id int64) (*domain.User, error) {
	query := `
		SELECT id, project_id, username, role, key_id, secret_hash, created, enabled
		FROM users WHERE id = ` + placeholder(1) + `
	`
	var u domain.User
	err := r.db.QueryRow(query, id).Scan(
		&u.ID, &u.ProjectID, &u.Username, &u.Role, &u.KeyID, &u.SecretHash, &u.Created, &u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
