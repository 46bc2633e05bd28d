package models

import (
	"fmt"

	"hearthside/comms/internal/utils"
)

// Role is the kind of actor behind a participant or message sender.
// Participants are a tagged union {Role, ID}; the backing entity differs
// per role but no inheritance is involved.
type Role string

const (
	RoleLandlord   Role = "LANDLORD"
	RoleTenant     Role = "TENANT"
	RoleContractor Role = "CONTRACTOR"
	// RoleUser is the generic role for peer-to-peer and group chat where
	// the business role of the account is irrelevant.
	RoleUser Role = "USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleLandlord, RoleTenant, RoleContractor, RoleUser:
		return true
	}
	return false
}

// Party identifies one actor: a role plus the id of its backing entity.
type Party struct {
	Role Role        `bson:"role" json:"role"`
	ID   utils.SixID `bson:"id" json:"id"`
}

func (p Party) String() string {
	return fmt.Sprintf("%s:%s", p.Role, p.ID.String())
}

// Equal compares role and id.
func (p Party) Equal(other Party) bool {
	return p.Role == other.Role && p.ID == other.ID
}
