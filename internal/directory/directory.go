package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrUnknownSubject is returned when a subject id cannot be resolved.
var ErrUnknownSubject = errors.New("unknown subject")

// Identity is the display information resolved for a subject id.
type Identity struct {
	Name  string
	Email string
}

// Directory resolves subject ids to display identities. The transaction core
// stores only the reference plus the denormalized display fields it needs for
// filtering; the identity records themselves are owned elsewhere.
type Directory interface {
	Resolve(ctx context.Context, subjectID string) (*Identity, error)
}

// SQLDirectory resolves subjects from the shared users table.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) Resolve(ctx context.Context, subjectID string) (*Identity, error) {
	var id Identity
	err := d.db.QueryRowContext(ctx, `
		SELECT name, email FROM users WHERE id = $1
	`, subjectID).Scan(&id.Name, &id.Email)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownSubject
	}
	if err != nil {
		return nil, fmt.Errorf("resolving subject %s: %w", subjectID, err)
	}
	return &id, nil
}
