package services

import (
	"hearthside/comms/internal/models"
)

// Participant policy: pure rules deciding whether a participant is bound to
// a conversation or merely invited into it. No I/O.
//
// LANDLORD is mandatory in every thread type: a thread exists to connect
// the landlord with someone. TENANT is only bound where the conversation is
// about their own tenancy. CONTRACTOR always starts as an invitee; the
// one exception (a contractor who accepted a ticket) is inserted directly
// as mandatory/ACTIVE by provisioning rather than promoted here.

// IsMandatory reports whether a participant with the given role is
// mandatory in a thread of the given type.
func IsMandatory(threadType models.ThreadType, role models.Role) bool {
	switch role {
	case models.RoleLandlord:
		return true
	case models.RoleTenant:
		return threadType == models.ThreadLandlordTenant || threadType == models.ThreadLandlordTenantSOW
	default:
		return false
	}
}

// InitialStatus returns the status a participant is seeded with: bound
// participants are ACTIVE from the start, everyone else must accept.
func InitialStatus(threadType models.ThreadType, role models.Role) models.ParticipantStatus {
	if IsMandatory(threadType, role) {
		return models.StatusActive
	}
	return models.StatusPending
}
