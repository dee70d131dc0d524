package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// HasRole reports whether account holds role. It never fails: a lookup error
// is logged and reported as false.
func (e *Engine) HasRole(ctx context.Context, role domain.Role, account common.Address) bool {
	ok, err := e.hasRole(ctx, role, account)
	if err != nil {
		e.logger.WarnContext(ctx, "role lookup failed",
			slog.String("role", role.String()),
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

func (e *Engine) hasRole(ctx context.Context, role domain.Role, account common.Address) (bool, error) {
	if domain.IsZero(account) || !role.Valid() {
		return false, nil
	}
	ok, err := e.ledger.Roles().Has(ctx, role, account)
	if err != nil {
		return false, fmt.Errorf("market: role lookup: %w", err)
	}
	return ok, nil
}

// RequireRole fails with ErrUnauthorized unless account holds role.
func (e *Engine) RequireRole(ctx context.Context, role domain.Role, account common.Address) error {
	return e.RequireAnyRole(ctx, account, role)
}

// RequireAnyRole fails with ErrUnauthorized unless account holds at least one
// of roles.
func (e *Engine) RequireAnyRole(ctx context.Context, account common.Address, roles ...domain.Role) error {
	for _, r := range roles {
		ok, err := e.hasRole(ctx, r, account)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

// RolesOf lists the roles held by account.
func (e *Engine) RolesOf(ctx context.Context, account common.Address) ([]domain.Role, error) {
	roles, err := e.ledger.Roles().RolesOf(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("market: roles of %s: %w", account.Hex(), err)
	}
	return roles, nil
}

// Members lists the holders of role.
func (e *Engine) Members(ctx context.Context, role domain.Role) ([]domain.RoleAssignment, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	members, err := e.ledger.Roles().Members(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("market: members of %s: %w", role, err)
	}
	return members, nil
}

// GrantRole gives account the role. Admin only. Granting a role the account
// already holds is a no-op.
func (e *Engine) GrantRole(ctx context.Context, role domain.Role, account, caller common.Address) error {
	if err := e.RequireRole(ctx, domain.RoleAdmin, caller); err != nil {
		return err
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}
	if domain.IsZero(account) {
		return domain.ErrInvalidAddress
	}

	unlock, err := e.lock(ctx, rolesLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	held, err := e.hasRole(ctx, role, account)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	if err := e.ledger.Roles().Grant(ctx, domain.RoleAssignment{
		Role:      role,
		Account:   account,
		GrantedBy: caller,
		GrantedAt: e.clock.Now(),
	}); err != nil {
		return fmt.Errorf("market: grant %s: %w", role, err)
	}

	e.logger.InfoContext(ctx, "role granted",
		slog.String("role", role.String()),
		slog.String("account", account.Hex()),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:  domain.EventRoleGranted,
		Actor: caller,
		Data:  map[string]any{"role": role.String(), "account": account.Hex()},
	})
	return nil
}

// RevokeRole removes the role from account. Admin only. The last remaining
// Admin cannot be revoked.
func (e *Engine) RevokeRole(ctx context.Context, role domain.Role, account, caller common.Address) error {
	if err := e.RequireRole(ctx, domain.RoleAdmin, caller); err != nil {
		return err
	}
	if !role.Valid() {
		return domain.ErrInvalidRole
	}
	if domain.IsZero(account) {
		return domain.ErrInvalidAddress
	}

	unlock, err := e.lock(ctx, rolesLockKey)
	if err != nil {
		return err
	}
	defer unlock()

	var removed bool
	err = e.ledger.InTx(ctx, func(tx domain.Ledger) error {
		if role == domain.RoleAdmin {
			admins, err := tx.Roles().Members(ctx, domain.RoleAdmin)
			if err != nil {
				return fmt.Errorf("market: list admins: %w", err)
			}
			if len(admins) == 1 && admins[0].Account == account {
				return domain.ErrLastAdmin
			}
		}
		ok, err := tx.Roles().Revoke(ctx, role, account)
		if err != nil {
			return fmt.Errorf("market: revoke %s: %w", role, err)
		}
		removed = ok
		return nil
	})
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	e.logger.InfoContext(ctx, "role revoked",
		slog.String("role", role.String()),
		slog.String("account", account.Hex()),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{
		Type:  domain.EventRoleRevoked,
		Actor: caller,
		Data:  map[string]any{"role": role.String(), "account": account.Hex()},
	})
	return nil
}

// Pause stops every state-mutating operation except admin configuration,
// role management and Unpause. Admin or Team.
func (e *Engine) Pause(ctx context.Context, caller common.Address) error {
	if err := e.RequireAnyRole(ctx, caller, domain.RoleAdmin, domain.RoleTeam); err != nil {
		return err
	}
	return e.setPaused(ctx, true, caller)
}

// Unpause resumes normal operation. Admin only.
func (e *Engine) Unpause(ctx context.Context, caller common.Address) error {
	if err := e.RequireRole(ctx, domain.RoleAdmin, caller); err != nil {
		return err
	}
	return e.setPaused(ctx, false, caller)
}

func (e *Engine) setPaused(ctx context.Context, paused bool, caller common.Address) error {
	var changed bool
	if err := e.mutateConfig(ctx, func(cfg *domain.PlatformConfig) error {
		changed = cfg.Paused != paused
		cfg.Paused = paused
		return nil
	}); err != nil {
		return err
	}
	if !changed {
		return nil
	}

	typ := domain.EventUnpaused
	if paused {
		typ = domain.EventPaused
	}
	e.logger.WarnContext(ctx, "marketplace pause changed",
		slog.Bool("paused", paused),
		slog.String("caller", caller.Hex()),
	)
	e.emit(ctx, domain.Event{Type: typ, Actor: caller})
	return nil
}
