package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a named authorization capability.
type Role uint8

const (
	RoleAdmin Role = iota + 1
	RoleTeam
	RoleModerator
	RoleApprover
	RoleCreator
)

// AllRoles lists every grantable role in declaration order.
var AllRoles = []Role{RoleAdmin, RoleTeam, RoleModerator, RoleApprover, RoleCreator}

var roleNames = map[Role]string{
	RoleAdmin:     "admin",
	RoleTeam:      "team",
	RoleModerator: "moderator",
	RoleApprover:  "approver",
	RoleCreator:   "creator",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return "unknown"
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole maps a case-insensitive role name to its Role.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, n := range roleNames {
		if n == s {
			return r, nil
		}
	}
	return 0, ErrInvalidRole
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrInvalidRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleAssignment records that Account holds Role.
type RoleAssignment struct {
	Role      Role           `json:"role"`
	Account   common.Address `json:"account"`
	GrantedBy common.Address `json:"granted_by"`
	GrantedAt time.Time      `json:"granted_at"`
}
