package store

import (
	"database/sql"
	"fmt"

	"github.com/hardspoon/chatsemble/internal/domain"
)

// SQLiteDirectoryStore persists the organization user/agent directory.
type SQLiteDirectoryStore struct {
	db *DB
}

// NewSQLiteDirectoryStore creates a directory store using the given database.
func NewSQLiteDirectoryStore(db *DB) *SQLiteDirectoryStore {
	return &SQLiteDirectoryStore{db: db}
}

// Upsert inserts or replaces an identity.
func (s *SQLiteDirectoryStore) Upsert(id domain.Identity) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO org_identities (organization_id, id, type, name, email, image)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (organization_id, id) DO UPDATE SET
		   type = excluded.type, name = excluded.name,
		   email = excluded.email, image = excluded.image`,
		id.OrganizationID, id.ID, string(id.Type), id.Name, id.Email, id.Image,
	)
	if err != nil {
		return fmt.Errorf("upserting identity: %w", err)
	}
	return nil
}

// Resolve looks up an identity by organization and member id.
func (s *SQLiteDirectoryStore) Resolve(orgID, memberID string) (domain.Identity, error) {
	var ident domain.Identity
	var idType string
	err := s.db.sql.QueryRow(
		`SELECT organization_id, id, type, name, email, image
		 FROM org_identities WHERE organization_id = ? AND id = ?`,
		orgID, memberID,
	).Scan(&ident.OrganizationID, &ident.ID, &idType, &ident.Name, &ident.Email, &ident.Image)
	if err == sql.ErrNoRows {
		return domain.Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("querying identity: %w", err)
	}
	ident.Type = domain.MemberType(idType)
	return ident, nil
}

// List returns all identities in an organization.
func (s *SQLiteDirectoryStore) List(orgID string) ([]domain.Identity, error) {
	rows, err := s.db.sql.Query(
		`SELECT organization_id, id, type, name, email, image
		 FROM org_identities WHERE organization_id = ? ORDER BY id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var idents []domain.Identity
	for rows.Next() {
		var ident domain.Identity
		var idType string
		if err := rows.Scan(&ident.OrganizationID, &ident.ID, &idType, &ident.Name, &ident.Email, &ident.Image); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		ident.Type = domain.MemberType(idType)
		idents = append(idents, ident)
	}
	return idents, rows.Err()
}
