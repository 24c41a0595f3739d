package auth

import (
	"context"
	"fmt"
	"strings"

	"marketplace/internal/models"
)

// adminSubjectPrefix marks admin subjects on the wire. Users and admins live
// in separate stores but share one token namespace; the prefix is how a bare
// subject string says which store to resolve it against. It is only read and
// written in this file.
const adminSubjectPrefix = "admin:"

// Principal is an authenticated identity: either a *UserPrincipal or an
// *AdminPrincipal.
type Principal interface {
	ID() string
	Username() string
	Email() string
	Role() models.Role
	Enabled() bool

	principal()
}

type UserPrincipal struct {
	Account *models.Account
}

func (p *UserPrincipal) ID() string        { return p.Account.ID }
func (p *UserPrincipal) Username() string  { return p.Account.Username }
func (p *UserPrincipal) Email() string     { return p.Account.Email }
func (p *UserPrincipal) Role() models.Role { return models.RoleUser }
func (p *UserPrincipal) Enabled() bool     { return p.Account.Enabled }
func (*UserPrincipal) principal()          {}

type AdminPrincipal struct {
	Admin *models.Admin
}

func (p *AdminPrincipal) ID() string        { return p.Admin.ID }
func (p *AdminPrincipal) Username() string  { return p.Admin.Username }
func (p *AdminPrincipal) Email() string     { return p.Admin.Email }
func (p *AdminPrincipal) Role() models.Role { return models.RoleAdmin }
func (p *AdminPrincipal) Enabled() bool     { return p.Admin.Enabled }
func (*AdminPrincipal) principal()          {}

// SubjectOf encodes p as a token subject.
func SubjectOf(p Principal) string {
	if _, ok := p.(*AdminPrincipal); ok {
		return adminSubjectPrefix + p.Username()
	}
	return p.Username()
}

// ReservedUsername reports whether a user could not own username because its
// subject would decode as an admin.
func ReservedUsername(username string) bool {
	return strings.HasPrefix(strings.ToLower(username), adminSubjectPrefix)
}

// AccountFinder looks regular users up by username.
type AccountFinder interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
}

// AdminFinder looks administrators up by username.
type AdminFinder interface {
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
}

type PrincipalResolver struct {
	accounts AccountFinder
	admins   AdminFinder
}

func NewPrincipalResolver(accounts AccountFinder, admins AdminFinder) *PrincipalResolver {
	return &PrincipalResolver{accounts: accounts, admins: admins}
}

// ResolvePrincipal decodes subject and loads the principal from the store
// its encoding points at.
func (r *PrincipalResolver) ResolvePrincipal(ctx context.Context, subject string) (Principal, error) {
	if name, ok := strings.CutPrefix(subject, adminSubjectPrefix); ok {
		if name == "" {
			return nil, fmt.Errorf("empty admin subject")
		}
		admin, err := r.admins.FindByUsername(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolving admin %q: %w", name, err)
		}
		return &AdminPrincipal{Admin: admin}, nil
	}

	if subject == "" {
		return nil, fmt.Errorf("empty subject")
	}
	account, err := r.accounts.FindByUsername(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", subject, err)
	}
	return &UserPrincipal{Account: account}, nil
}
