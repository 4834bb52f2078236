package domain

import (
	"database/sql"
)

// Roles recognised by policy role gating.
const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

type User struct {
	ID         int64          `json:"id"`
	ProjectID  string         `json:"projectId"`
	Username   string         `json:"username"`
	Role       string         `json:"role"`
	KeyID      string         `json:"keyId"`
	SecretHash string         `json:"-"`
	Created    sql.NullTime   `json:"created"`
	Enabled    sql.NullBool   `json:"enabled"`
	LastSeen   sql.NullTime   `json:"lastSeen"`
	Notes      sql.NullString `json:"notes,omitempty"`
}
