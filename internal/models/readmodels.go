package models

import (
	"time"

	"hearthside/comms/internal/utils"
)

// Read-model documents. These collections are owned by the surrounding
// platform; provisioning only reads them to resolve which landlord and
// tenants a business event implicates.

// Ticket is a maintenance ticket.
type Ticket struct {
	Base        `bson:",inline"`
	PropertyID  utils.SixID `bson:"property_id" json:"property_id"`
	UnitID      utils.SixID `bson:"unit_id,omitempty" json:"unit_id,omitempty"`
	RequesterID utils.SixID `bson:"requester_id" json:"requester_id"`
	// TenantIDs are the tenant user accounts raising or affected by the
	// ticket.
	TenantIDs    []utils.SixID `bson:"tenant_ids" json:"tenant_ids"`
	ContractorID utils.SixID   `bson:"contractor_id,omitempty" json:"contractor_id,omitempty"`
	Title        string        `bson:"title" json:"title"`
}

// ScopeOfWork groups maintenance work across one or more units.
type ScopeOfWork struct {
	Base     `bson:",inline"`
	TicketID utils.SixID `bson:"ticket_id" json:"ticket_id"`
	// ParentID is set on sub-scopes. Sub-scopes cannot own threads.
	ParentID utils.SixID   `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	UnitIDs  []utils.SixID `bson:"unit_ids" json:"unit_ids"`
	Title    string        `bson:"title" json:"title"`
}

// IsSubScope reports whether this scope is nested under another one.
func (s *ScopeOfWork) IsSubScope() bool {
	return !s.ParentID.IsZero()
}

// Lease ties tenant users to a unit within a property.
type Lease struct {
	Base       `bson:",inline"`
	PropertyID utils.SixID   `bson:"property_id" json:"property_id"`
	UnitID     utils.SixID   `bson:"unit_id" json:"unit_id"`
	TenantIDs  []utils.SixID `bson:"tenant_ids" json:"tenant_ids"`
	Active     bool          `bson:"active" json:"active"`
	StartsAt   time.Time     `bson:"starts_at" json:"starts_at"`
	EndsAt     *time.Time    `bson:"ends_at,omitempty" json:"ends_at,omitempty"`
}

// Property is the building-level read model.
type Property struct {
	Base `bson:",inline"`
	Name string `bson:"name" json:"name"`
	// OrganizationID is the owning landlord organization.
	OrganizationID utils.SixID `bson:"organization_id" json:"organization_id"`
}
