package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hearthside/comms/internal/models"
)

var allThreadTypes = []models.ThreadType{
	models.ThreadLandlordTenant,
	models.ThreadLandlordTenantSOW,
	models.ThreadSOWGroup,
	models.ThreadLandlordContr,
	models.ThreadContractorTenant,
	models.ThreadTenantTenant,
	models.ThreadTenantTenantGroup,
}

func TestLandlordAlwaysMandatory(t *testing.T) {
	for _, tt := range allThreadTypes {
		assert.True(t, IsMandatory(tt, models.RoleLandlord), "thread type %s", tt)
		assert.Equal(t, models.StatusActive, InitialStatus(tt, models.RoleLandlord))
	}
}

func TestTenantMandatoryOnlyInLandlordTenantThreads(t *testing.T) {
	mandatory := map[models.ThreadType]bool{
		models.ThreadLandlordTenant:    true,
		models.ThreadLandlordTenantSOW: true,
	}
	for _, tt := range allThreadTypes {
		got := IsMandatory(tt, models.RoleTenant)
		assert.Equal(t, mandatory[tt], got, "thread type %s", tt)
	}
}

func TestContractorNeverMandatoryByPolicy(t *testing.T) {
	for _, tt := range allThreadTypes {
		assert.False(t, IsMandatory(tt, models.RoleContractor), "thread type %s", tt)
		assert.Equal(t, models.StatusPending, InitialStatus(tt, models.RoleContractor))
	}
}

func TestGenericUserOptionalEverywhere(t *testing.T) {
	for _, tt := range allThreadTypes {
		assert.False(t, IsMandatory(tt, models.RoleUser))
	}
}

func TestPolicyIsDeterministic(t *testing.T) {
	for _, tt := range allThreadTypes {
		for _, role := range []models.Role{models.RoleLandlord, models.RoleTenant, models.RoleContractor, models.RoleUser} {
			first := IsMandatory(tt, role)
			for i := 0; i < 3; i++ {
				assert.Equal(t, first, IsMandatory(tt, role))
			}
		}
	}
}
