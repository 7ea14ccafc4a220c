// Package directory resolves member ids to organization identities.
// Membership operations go through it so a room can never reference an
// identity the organization does not know.
package directory

import (
	"fmt"

	"github.com/hardspoon/chatsemble/internal/config"
	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/logging"
)

// Store is the persistence surface for identities. Satisfied by
// store.SQLiteDirectoryStore and store.MemoryDirectoryStore.
type Store interface {
	Upsert(id domain.Identity) error
	Resolve(orgID, memberID string) (domain.Identity, error)
	List(orgID string) ([]domain.Identity, error)
}

// Directory is the identity lookup for one organization.
type Directory struct {
	orgID string
	store Store
	log   *logging.Logger
}

// New creates a directory scoped to one organization.
func New(orgID string, st Store, log *logging.Logger) *Directory {
	return &Directory{orgID: orgID, store: st, log: log}
}

// OrgID returns the organization this directory serves.
func (d *Directory) OrgID() string {
	return d.orgID
}

// Seed upserts the configured users and agents into the directory.
// Called at startup; safe to repeat across restarts.
func (d *Directory) Seed(org config.OrgConfig, agents []config.AgentEntry) error {
	for _, u := range org.Users {
		ident := domain.Identity{
			ID:             u.ID,
			OrganizationID: d.orgID,
			Type:           domain.MemberTypeUser,
			Name:           u.Name,
			Email:          u.Email,
			Image:          u.Image,
		}
		if err := d.store.Upsert(ident); err != nil {
			return fmt.Errorf("seeding user %s: %w", u.ID, err)
		}
	}
	for _, a := range agents {
		ident := domain.Identity{
			ID:             a.ID,
			OrganizationID: d.orgID,
			Type:           domain.MemberTypeAgent,
			Name:           a.Name,
			Image:          a.Image,
		}
		if err := d.store.Upsert(ident); err != nil {
			return fmt.Errorf("seeding agent %s: %w", a.ID, err)
		}
	}
	d.log.Info().Str("org", d.orgID).Int("users", len(org.Users)).Int("agents", len(agents)).Msg("directory seeded")
	return nil
}

// Resolve looks up an identity by member id.
func (d *Directory) Resolve(memberID string) (domain.Identity, error) {
	return d.store.Resolve(d.orgID, memberID)
}

// List returns all identities in the organization.
func (d *Directory) List() ([]domain.Identity, error) {
	return d.store.List(d.orgID)
}
