package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// RoleStore implements domain.RoleStore using PostgreSQL.
type RoleStore struct {
	db dbtx
}

// Grant records an assignment; granting an existing one keeps the original row.
func (s *RoleStore) Grant(ctx context.Context, a domain.RoleAssignment) error {
	const query = `
		INSERT INTO role_assignments (role, account, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role, account) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, a.Role.String(), addr(a.Account), addr(a.GrantedBy), utc(a.GrantedAt)); err != nil {
		return fmt.Errorf("postgres: grant %s to %s: %w", a.Role, a.Account.Hex(), err)
	}
	return nil
}

// Revoke deletes an assignment and reports whether one existed.
func (s *RoleStore) Revoke(ctx context.Context, role domain.Role, account common.Address) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM role_assignments WHERE role = $1 AND account = $2`,
		role.String(), addr(account))
	if err != nil {
		return false, fmt.Errorf("postgres: revoke %s from %s: %w", role, account.Hex(), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *RoleStore) Has(ctx context.Context, role domain.Role, account common.Address) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM role_assignments WHERE role = $1 AND account = $2)`,
		role.String(), addr(account)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: has role %s: %w", role, err)
	}
	return ok, nil
}

// RolesOf returns the roles of account in declaration order.
func (s *RoleStore) RolesOf(ctx context.Context, account common.Address) ([]domain.Role, error) {
	rows, err := s.db.Query(ctx, `SELECT role FROM role_assignments WHERE account = $1`, addr(account))
	if err != nil {
		return nil, fmt.Errorf("postgres: roles of %s: %w", account.Hex(), err)
	}
	defer rows.Close()

	held := make(map[domain.Role]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan role: %w", err)
		}
		r, err := domain.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("postgres: stored role %q: %w", name, err)
		}
		held[r] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: roles of %s rows: %w", account.Hex(), err)
	}

	var out []domain.Role
	for _, r := range domain.AllRoles {
		if held[r] {
			out = append(out, r)
		}
	}
	return out, nil
}

// Members returns the holders of role, oldest grant first.
func (s *RoleStore) Members(ctx context.Context, role domain.Role) ([]domain.RoleAssignment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT account, granted_by, granted_at FROM role_assignments
		 WHERE role = $1 ORDER BY granted_at, account`, role.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: members of %s: %w", role, err)
	}
	defer rows.Close()

	var out []domain.RoleAssignment
	for rows.Next() {
		var account, grantedBy string
		a := domain.RoleAssignment{Role: role}
		if err := rows.Scan(&account, &grantedBy, &a.GrantedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan member: %w", err)
		}
		a.Account = common.HexToAddress(account)
		a.GrantedBy = common.HexToAddress(grantedBy)
		out = append(out, a)
	}
	return out, rows.Err()
}
