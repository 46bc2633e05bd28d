package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

func TestMandatoryParticipantCannotAcceptOrDecline(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_mandatory")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	tenant := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}
	thread := seedThread(t, threads, models.EntityTicket, utils.NewSixID(),
		models.ThreadLandlordTenant, landlord, tenant)

	for _, p := range []models.Party{landlord, tenant} {
		err := participants.Accept(ctx, thread.ID, p)
		require.Error(t, err)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

		err = participants.Decline(ctx, thread.ID, p)
		require.Error(t, err)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

		// Status must be untouched.
		record, err := participants.Find(ctx, thread.ID, p)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActive, record.Status)
	}
}

func TestOptionalParticipantAcceptFlow(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_accept")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	contractor := models.Party{Role: models.RoleContractor, ID: utils.NewSixID()}
	thread := seedThread(t, threads, models.EntityScopeOfWork, utils.NewSixID(),
		models.ThreadLandlordContr, landlord, contractor)

	record, err := participants.Find(ctx, thread.ID, contractor)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, record.Status)

	require.NoError(t, participants.Accept(ctx, thread.ID, contractor))
	record, err = participants.Find(ctx, thread.ID, contractor)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, record.Status)

	// Re-accepting is a definitive conflict, not a silent no-op.
	err = participants.Accept(ctx, thread.ID, contractor)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestDecliningOnlyNonLandlordDeletesThread(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_cascade")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	contractor := models.Party{Role: models.RoleContractor, ID: utils.NewSixID()}
	thread := seedThread(t, threads, models.EntityScopeOfWork, utils.NewSixID(),
		models.ThreadLandlordContr, landlord, contractor)

	// Give the thread a message so the cascade has something to sweep.
	_, err := insertSystemMessage(ctx, db, thread.ID, models.SysUserJoined,
		&models.SystemPayload{UserJoined: &models.MembershipPayload{Actor: contractor}}, "")
	require.NoError(t, err)

	require.NoError(t, participants.Decline(ctx, thread.ID, contractor))

	_, err = threads.Get(ctx, thread.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	remaining, err := loadParticipants(ctx, db, thread.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	count, err := db.Collection(messagesCollection).CountDocuments(ctx, bson.M{"thread_id": thread.ID})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConcurrentDeclineSecondCallerGetsConflict(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_race")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	contractor := models.Party{Role: models.RoleContractor, ID: utils.NewSixID()}
	tenant := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}
	// A second engaged participant keeps the cascade out of the race.
	thread := seedThread(t, threads, models.EntityScopeOfWork, utils.NewSixID(),
		models.ThreadContractorTenant, landlord, contractor, tenant)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = participants.Decline(ctx, thread.ID, contractor)
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.KindOf(err) == apperr.KindConflict:
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)
}

func TestSelfRemovalEmitsUserLeft(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_leave")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	tenantA := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}
	tenantB := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}
	thread := seedThread(t, threads, models.EntityScopeOfWork, utils.NewSixID(),
		models.ThreadSOWGroup, landlord, tenantA, tenantB)

	require.NoError(t, participants.Remove(ctx, thread.ID, tenantA, tenantA))

	view, err := threads.Get(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, models.SysUserLeft, view.Messages[0].SystemMessageType)
	require.NotNil(t, view.Messages[0].Payload.UserLeft)
	assert.Equal(t, tenantA, view.Messages[0].Payload.UserLeft.Actor)

	_, err = participants.Find(ctx, thread.ID, tenantA)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRemoveByNonAdminIsForbidden(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_remove_gate")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	owner := utils.NewSixID()
	memberA := models.Party{Role: models.RoleUser, ID: utils.NewSixID()}
	memberB := models.Party{Role: models.RoleUser, ID: utils.NewSixID()}
	thread, err := threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityTenantChat,
		LinkedEntityID:   utils.NewSixID(),
		ThreadType:       models.ThreadTenantTenantGroup,
		Title:            "group",
		CreatedBy:        owner,
	})
	require.NoError(t, err)
	for _, p := range []models.Party{{Role: models.RoleUser, ID: owner}, memberA, memberB} {
		require.NoError(t, participants.Add(ctx, thread.ID, p, false, models.StatusAccepted))
	}

	err = participants.Remove(ctx, thread.ID, memberB, memberA)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// The owner cannot be removed even by an admin.
	err = participants.Remove(ctx, thread.ID, models.Party{Role: models.RoleUser, ID: owner},
		models.Party{Role: models.RoleUser, ID: owner})
	require.NoError(t, err) // self-leave is always allowed
}

func TestClearHistoryStampsClearedAt(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_part_clear")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	tenant := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}
	thread := seedThread(t, threads, models.EntityTicket, utils.NewSixID(),
		models.ThreadLandlordTenant, landlord, tenant)

	require.NoError(t, participants.ClearHistory(ctx, thread.ID, tenant))

	record, err := participants.Find(ctx, thread.ID, tenant)
	require.NoError(t, err)
	require.NotNil(t, record.ClearedAt)

	// The landlord's view is untouched.
	record, err = participants.Find(ctx, thread.ID, landlord)
	require.NoError(t, err)
	assert.Nil(t, record.ClearedAt)
}
