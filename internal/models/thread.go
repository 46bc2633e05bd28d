package models

import (
	"time"

	"hearthside/comms/internal/utils"
)

// EntityType names the kind of business entity a thread is attached to.
type EntityType string

const (
	EntityTicket      EntityType = "TICKET"
	EntityScopeOfWork EntityType = "SCOPE_OF_WORK"
	EntityProperty    EntityType = "PROPERTY"
	EntityLease       EntityType = "LEASE"
	// EntityTenantChat marks pure peer-to-peer and ad-hoc group threads
	// that are not attached to any business entity.
	EntityTenantChat EntityType = "TENANT_CHAT"
)

// ThreadType classifies the conversation by who it connects.
type ThreadType string

const (
	ThreadLandlordTenant    ThreadType = "LANDLORD_TENANT"
	ThreadLandlordTenantSOW ThreadType = "LANDLORD_TENANT_SOW"
	ThreadSOWGroup          ThreadType = "SOW_GROUP"
	ThreadLandlordContr     ThreadType = "LANDLORD_CONTRACTOR"
	ThreadContractorTenant  ThreadType = "CONTRACTOR_TENANT"
	ThreadTenantTenant      ThreadType = "TENANT_TENANT"
	ThreadTenantTenantGroup ThreadType = "TENANT_TENANT_GROUP"
)

// threadTypesByEntity is the closed compatibility table between linked
// entity kinds and thread types. Stringly-typed model-name dispatch from
// older iterations is deliberately gone; anything outside this table is a
// validation error.
var threadTypesByEntity = map[EntityType][]ThreadType{
	EntityTicket:      {ThreadLandlordTenant},
	EntityScopeOfWork: {ThreadLandlordTenantSOW, ThreadSOWGroup, ThreadLandlordContr, ThreadContractorTenant},
	EntityProperty:    {ThreadLandlordTenant, ThreadTenantTenantGroup},
	EntityLease:       {ThreadLandlordTenant},
	EntityTenantChat:  {ThreadTenantTenant, ThreadTenantTenantGroup},
}

// CompatibleThreadType reports whether tt may be attached to entities of
// kind et.
func CompatibleThreadType(et EntityType, tt ThreadType) bool {
	for _, allowed := range threadTypesByEntity[et] {
		if allowed == tt {
			return true
		}
	}
	return false
}

// IsGroupThreadType reports whether the type carries group semantics
// (created_by, admins, membership management).
func IsGroupThreadType(tt ThreadType) bool {
	return tt == ThreadTenantTenantGroup || tt == ThreadSOWGroup
}

// Thread is one conversation, bound to at most one business entity.
// At most one thread exists per (entity type, entity id, thread type).
type Thread struct {
	Base             `bson:",inline"`
	Title            string        `bson:"title" json:"title"`
	LinkedEntityType EntityType    `bson:"linked_entity_type" json:"linked_entity_type"`
	LinkedEntityID   utils.SixID   `bson:"linked_entity_id" json:"linked_entity_id"`
	ThreadType       ThreadType    `bson:"thread_type" json:"thread_type"`
	CreatedBy        utils.SixID   `bson:"created_by,omitempty" json:"created_by,omitempty"`
	Admins           []utils.SixID `bson:"admins,omitempty" json:"admins,omitempty"`
	AvatarURL        string        `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `bson:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether the user id is in the thread's admin set.
func (t *Thread) IsAdmin(userID utils.SixID) bool {
	for _, id := range t.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// ThreadView is a thread together with its participants and its messages
// ordered oldest to newest, as returned by Get.
type ThreadView struct {
	Thread       Thread              `json:"thread"`
	Participants []ThreadParticipant `json:"participants"`
	Messages     []ThreadMessage     `json:"messages"`
}
