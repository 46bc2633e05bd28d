package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

type provisioningFixture struct {
	db           *mongo.Database
	threads      IThreadService
	participants IParticipantService
	provisioning IProvisioningService
	notifier     *mockNotificationService
}

func newProvisioningFixture(t *testing.T, dbName string) *provisioningFixture {
	client, db := setupTestDB(t, dbName)
	participants := NewParticipantService(client, db)
	directory := NewDirectoryService(db)
	threads := NewThreadService(db, participants, directory)
	notifier := &mockNotificationService{}
	provisioning := NewProvisioningService(threads, participants, directory, notifier)
	return &provisioningFixture{
		db:           db,
		threads:      threads,
		participants: participants,
		provisioning: provisioning,
		notifier:     notifier,
	}
}

func (f *provisioningFixture) seedProperty(t *testing.T, orgID utils.SixID) *models.Property {
	t.Helper()
	property := &models.Property{Base: models.NewBase(), Name: "12 Elm St", OrganizationID: orgID}
	_, err := f.db.Collection(propertiesCollection).InsertOne(context.Background(), property)
	require.NoError(t, err)
	return property
}

func (f *provisioningFixture) seedTicket(t *testing.T, propertyID, requesterID utils.SixID, tenantIDs []utils.SixID) *models.Ticket {
	t.Helper()
	ticket := &models.Ticket{
		Base:        models.NewBase(),
		PropertyID:  propertyID,
		RequesterID: requesterID,
		TenantIDs:   tenantIDs,
		Title:       "Leaking roof",
	}
	_, err := f.db.Collection(ticketsCollection).InsertOne(context.Background(), ticket)
	require.NoError(t, err)
	return ticket
}

func (f *provisioningFixture) setTicketContractor(t *testing.T, ticket *models.Ticket, contractorID utils.SixID) {
	t.Helper()
	ticket.ContractorID = contractorID
	_, err := f.db.Collection(ticketsCollection).ReplaceOne(context.Background(),
		bson.M{"_id": ticket.ID}, ticket)
	require.NoError(t, err)
}

func (f *provisioningFixture) seedScope(t *testing.T, ticketID utils.SixID, unitIDs []utils.SixID) *models.ScopeOfWork {
	t.Helper()
	sow := &models.ScopeOfWork{Base: models.NewBase(), TicketID: ticketID, UnitIDs: unitIDs, Title: "Roof repair"}
	_, err := f.db.Collection(scopesCollection).InsertOne(context.Background(), sow)
	require.NoError(t, err)
	return sow
}

func (f *provisioningFixture) seedLease(t *testing.T, propertyID, unitID utils.SixID, tenantIDs []utils.SixID) *models.Lease {
	t.Helper()
	lease := &models.Lease{
		Base:       models.NewBase(),
		PropertyID: propertyID,
		UnitID:     unitID,
		TenantIDs:  tenantIDs,
		Active:     true,
		StartsAt:   time.Now().UTC().Add(-24 * time.Hour),
	}
	_, err := f.db.Collection(leasesCollection).InsertOne(context.Background(), lease)
	require.NoError(t, err)
	return lease
}

func TestTicketCreatedIsIdempotent(t *testing.T) {
	f := newProvisioningFixture(t, "comms_test_prov_ticket")
	ctx := context.Background()

	orgID := utils.NewSixID()
	landlord := seedUser(t, f.db, models.RoleLandlord, "landlord", orgID)
	tenant := seedUser(t, f.db, models.RoleTenant, "tenant", utils.NewSixID())
	property := f.seedProperty(t, orgID)
	ticket := f.seedTicket(t, property.ID, landlord.ID, []utils.SixID{tenant.ID})

	require.NoError(t, f.provisioning.TicketCreated(ctx, ticket.ID))
	require.NoError(t, f.provisioning.TicketCreated(ctx, ticket.ID))

	threadType := models.ThreadLandlordTenant
	threads, err := f.threads.FindByEntity(ctx, models.EntityTicket, ticket.ID, &threadType)
	require.NoError(t, err)
	require.Len(t, threads, 1, "re-running the event must not duplicate the thread")

	listed, err := f.participants.ListByThread(ctx, threads[0].ID)
	require.NoError(t, err)
	require.Len(t, listed, 2, "no duplicate participant rows")
	for _, p := range listed {
		assert.True(t, p.IsMandatory)
		assert.Equal(t, models.StatusActive, p.Status)
	}
}

func TestTicketAcceptedAddsContractorOnce(t *testing.T) {
	f := newProvisioningFixture(t, "comms_test_prov_accept")
	ctx := context.Background()

	orgID := utils.NewSixID()
	landlord := seedUser(t, f.db, models.RoleLandlord, "landlord", orgID)
	tenant := seedUser(t, f.db, models.RoleTenant, "tenant", utils.NewSixID())
	contractor := seedUser(t, f.db, models.RoleContractor, "contractor", utils.NewSixID())
	property := f.seedProperty(t, orgID)
	ticket := f.seedTicket(t, property.ID, landlord.ID, []utils.SixID{tenant.ID})

	require.NoError(t, f.provisioning.TicketCreated(ctx, ticket.ID))
	f.setTicketContractor(t, ticket, contractor.ID)

	require.NoError(t, f.provisioning.TicketAccepted(ctx, ticket.ID))
	require.NoError(t, f.provisioning.TicketAccepted(ctx, ticket.ID))

	threadType := models.ThreadLandlordTenant
	threads, err := f.threads.FindByEntity(ctx, models.EntityTicket, ticket.ID, &threadType)
	require.NoError(t, err)
	require.Len(t, threads, 1)

	record, err := f.participants.Find(ctx, threads[0].ID,
		models.Party{Role: models.RoleContractor, ID: contractor.ID})
	require.NoError(t, err)
	assert.True(t, record.IsMandatory)
	assert.Equal(t, models.StatusActive, record.Status)

	listed, err := f.participants.ListByThread(ctx, threads[0].ID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestScopeOfWorkCreatedOpensWorkingAndGroupThreads(t *testing.T) {
	f := newProvisioningFixture(t, "comms_test_prov_sow")
	ctx := context.Background()

	orgID := utils.NewSixID()
	landlord := seedUser(t, f.db, models.RoleLandlord, "landlord", orgID)
	tenant := seedUser(t, f.db, models.RoleTenant, "tenant", utils.NewSixID())
	property := f.seedProperty(t, orgID)
	ticket := f.seedTicket(t, property.ID, landlord.ID, []utils.SixID{tenant.ID})
	unitID := utils.NewSixID()
	f.seedLease(t, property.ID, unitID, []utils.SixID{tenant.ID})
	sow := f.seedScope(t, ticket.ID, []utils.SixID{unitID})

	require.NoError(t, f.provisioning.ScopeOfWorkCreated(ctx, sow.ID))
	require.NoError(t, f.provisioning.ScopeOfWorkCreated(ctx, sow.ID))

	all, err := f.threads.FindByEntity(ctx, models.EntityScopeOfWork, sow.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byType := map[models.ThreadType]utils.SixID{}
	for _, th := range all {
		byType[th.ThreadType] = th.ID
	}
	require.Contains(t, byType, models.ThreadLandlordTenantSOW)
	require.Contains(t, byType, models.ThreadSOWGroup)

	// Working thread binds the tenant, group thread only invites them.
	working, err := f.participants.Find(ctx, byType[models.ThreadLandlordTenantSOW],
		models.Party{Role: models.RoleTenant, ID: tenant.ID})
	require.NoError(t, err)
	assert.True(t, working.IsMandatory)
	assert.Equal(t, models.StatusActive, working.Status)

	group, err := f.participants.Find(ctx, byType[models.ThreadSOWGroup],
		models.Party{Role: models.RoleTenant, ID: tenant.ID})
	require.NoError(t, err)
	assert.False(t, group.IsMandatory)
	assert.Equal(t, models.StatusPending, group.Status)

	// The invitation went out exactly once despite the re-run.
	invitations := 0
	for _, call := range f.notifier.callsFor(tenant.ID) {
		if call.Category == models.NotifyInvitation {
			invitations++
		}
	}
	assert.Equal(t, 1, invitations)
}

func TestScopeOfWorkAcceptedJoinsContractorEverywhere(t *testing.T) {
	f := newProvisioningFixture(t, "comms_test_prov_sow_accept")
	ctx := context.Background()

	orgID := utils.NewSixID()
	landlord := seedUser(t, f.db, models.RoleLandlord, "landlord", orgID)
	tenant := seedUser(t, f.db, models.RoleTenant, "tenant", utils.NewSixID())
	contractor := seedUser(t, f.db, models.RoleContractor, "contractor", utils.NewSixID())
	property := f.seedProperty(t, orgID)
	ticket := f.seedTicket(t, property.ID, landlord.ID, []utils.SixID{tenant.ID})
	unitID := utils.NewSixID()
	f.seedLease(t, property.ID, unitID, []utils.SixID{tenant.ID})
	sow := f.seedScope(t, ticket.ID, []utils.SixID{unitID})

	require.NoError(t, f.provisioning.ScopeOfWorkCreated(ctx, sow.ID))
	require.NoError(t, f.provisioning.ScopeOfWorkAccepted(ctx, sow.ID, contractor.ID))
	require.NoError(t, f.provisioning.ScopeOfWorkAccepted(ctx, sow.ID, contractor.ID))

	all, err := f.threads.FindByEntity(ctx, models.EntityScopeOfWork, sow.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 4, "working + group + landlord-contractor + contractor-tenant")

	contractorParty := models.Party{Role: models.RoleContractor, ID: contractor.ID}
	for _, th := range all {
		record, err := f.participants.Find(ctx, th.ID, contractorParty)
		require.NoError(t, err, "contractor missing from %s thread", th.ThreadType)
		assert.False(t, record.IsMandatory, "thread %s", th.ThreadType)
		assert.Equal(t, models.StatusPending, record.Status, "thread %s", th.ThreadType)
	}
}

func TestLeaseActivatedConvergesOnPropertyThread(t *testing.T) {
	f := newProvisioningFixture(t, "comms_test_prov_lease")
	ctx := context.Background()

	orgID := utils.NewSixID()
	landlord := seedUser(t, f.db, models.RoleLandlord, "landlord", orgID)
	tenantA := seedUser(t, f.db, models.RoleTenant, "tenant-a", utils.NewSixID())
	tenantB := seedUser(t, f.db, models.RoleTenant, "tenant-b", utils.NewSixID())
	property := f.seedProperty(t, orgID)

	leaseA := f.seedLease(t, property.ID, utils.NewSixID(), []utils.SixID{tenantA.ID})
	leaseB := f.seedLease(t, property.ID, utils.NewSixID(), []utils.SixID{tenantB.ID})

	require.NoError(t, f.provisioning.LeaseActivated(ctx, leaseA.ID))
	require.NoError(t, f.provisioning.LeaseActivated(ctx, leaseB.ID))
	require.NoError(t, f.provisioning.LeaseActivated(ctx, leaseB.ID))

	threadType := models.ThreadLandlordTenant
	threads, err := f.threads.FindByEntity(ctx, models.EntityProperty, property.ID, &threadType)
	require.NoError(t, err)
	require.Len(t, threads, 1, "both leases must converge on one property thread")

	listed, err := f.participants.ListByThread(ctx, threads[0].ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)

	ids := map[utils.SixID]bool{}
	for _, p := range listed {
		ids[p.ParticipantID] = true
		assert.True(t, p.IsMandatory)
		assert.Equal(t, models.StatusActive, p.Status)
	}
	assert.True(t, ids[landlord.ID])
	assert.True(t, ids[tenantA.ID])
	assert.True(t, ids[tenantB.ID])

	// New-channel notifications reached the second tenant.
	var newChannel int
	for _, call := range f.notifier.callsFor(tenantB.ID) {
		if call.Category == models.NotifyNewChannel {
			newChannel++
		}
	}
	assert.GreaterOrEqual(t, newChannel, 1)
}
