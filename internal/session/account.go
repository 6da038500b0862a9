package session

import (
	"errors"
	"fmt"
)

// ErrUnknownPrivilege is returned when a privilege name is not recognised.
var ErrUnknownPrivilege = errors.New("unknown privilege")

// Privilege is the closed set of roles a token may grant.
type Privilege uint8

const (
	PrivilegePlayer Privilege = iota
	PrivilegeCheatPlayer
	PrivilegeAdmin
)

// String returns the privilege name as carried in token claims.
func (p Privilege) String() string {
	switch p {
	case PrivilegePlayer:
		return "Player"
	case PrivilegeCheatPlayer:
		return "CheatPlayer"
	case PrivilegeAdmin:
		return "Admin"
	default:
		return fmt.Sprintf("Privilege(%d)", uint8(p))
	}
}

// ParsePrivilege maps a claim string to a Privilege.
//
// Postcondition: Returns ErrUnknownPrivilege for any string other than
// "Player", "CheatPlayer" or "Admin". Matching is case sensitive.
func ParsePrivilege(s string) (Privilege, error) {
	switch s {
	case "Player":
		return PrivilegePlayer, nil
	case "CheatPlayer":
		return PrivilegeCheatPlayer, nil
	case "Admin":
		return PrivilegeAdmin, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPrivilege, s)
	}
}

// Account is the identity attached to a session after a successful login.
// It is immutable once attached.
type Account struct {
	AccountID   uint64
	CharacterID uint64
	Privilege   Privilege
}

// Role returns the account as a Role variant.
func (a Account) Role() Role {
	switch a.Privilege {
	case PrivilegeCheatPlayer:
		return CheatPlayerRole{AccountID: a.AccountID, CharacterID: a.CharacterID}
	case PrivilegeAdmin:
		return AdminRole{AccountID: a.AccountID}
	default:
		return PlayerRole{AccountID: a.AccountID, CharacterID: a.CharacterID}
	}
}

// Role is a closed union over PlayerRole, CheatPlayerRole and AdminRole.
// Consumers switch on the concrete type.
type Role interface {
	isRole()
}

// PlayerRole is an ordinary player bound to one character.
type PlayerRole struct {
	AccountID   uint64
	CharacterID uint64
}

// CheatPlayerRole is a player permitted to use cheat commands.
type CheatPlayerRole struct {
	AccountID   uint64
	CharacterID uint64
}

// AdminRole is an operator account. It is not bound to a persisted character.
type AdminRole struct {
	AccountID uint64
}

func (PlayerRole) isRole()      {}
func (CheatPlayerRole) isRole() {}
func (AdminRole) isRole()       {}
