package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

func TestCreateThreadSeedsParticipantsPerPolicy(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_create")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	tenant := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}

	thread := seedThread(t, threads, models.EntityTicket, utils.NewSixID(),
		models.ThreadLandlordTenant, landlord, tenant)

	listed, err := participants.ListByThread(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, p := range listed {
		assert.True(t, p.IsMandatory, "role %s", p.ParticipantType)
		assert.Equal(t, models.StatusActive, p.Status)
	}
}

func TestCreateThreadRejectsIncompatiblePairing(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_compat")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))

	_, err := threads.Create(context.Background(), CreateThreadInput{
		LinkedEntityType: models.EntityTicket,
		LinkedEntityID:   utils.NewSixID(),
		ThreadType:       models.ThreadSOWGroup,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateThreadDuplicateTupleIsConflict(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_dup")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	ticketID := utils.NewSixID()
	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	seedThread(t, threads, models.EntityTicket, ticketID, models.ThreadLandlordTenant, landlord)

	_, err := threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityTicket,
		LinkedEntityID:   ticketID,
		ThreadType:       models.ThreadLandlordTenant,
		Participants:     []models.Party{landlord},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCreateThreadRejectsSubScope(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_subscope")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	parent := models.ScopeOfWork{Base: models.NewBase(), TicketID: utils.NewSixID(), Title: "parent"}
	sub := models.ScopeOfWork{Base: models.NewBase(), TicketID: parent.TicketID, ParentID: parent.ID, Title: "sub"}
	_, err := db.Collection(scopesCollection).InsertOne(ctx, &parent)
	require.NoError(t, err)
	_, err = db.Collection(scopesCollection).InsertOne(ctx, &sub)
	require.NoError(t, err)

	_, err = threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityScopeOfWork,
		LinkedEntityID:   sub.ID,
		ThreadType:       models.ThreadLandlordTenantSOW,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetMissingThreadIsNotFound(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_get")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))

	_, err := threads.Get(context.Background(), utils.NewSixID())
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGroupRenameEmitsSystemMessage(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_rename")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	owner := utils.NewSixID()
	thread, err := threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityTenantChat,
		LinkedEntityID:   utils.NewSixID(),
		ThreadType:       models.ThreadTenantTenantGroup,
		Title:            "before",
		CreatedBy:        owner,
	})
	require.NoError(t, err)
	require.True(t, thread.IsAdmin(owner))

	actor := models.Party{Role: models.RoleUser, ID: owner}
	require.NoError(t, threads.Rename(ctx, thread.ID, actor, "after"))

	view, err := threads.Get(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", view.Thread.Title)
	require.Len(t, view.Messages, 1)
	msg := view.Messages[0]
	assert.True(t, msg.IsSystemMessage)
	assert.Equal(t, models.SysGroupRenamed, msg.SystemMessageType)
	require.NotNil(t, msg.Payload)
	require.NotNil(t, msg.Payload.GroupRenamed)
	assert.Equal(t, "before", msg.Payload.GroupRenamed.OldTitle)
	assert.Equal(t, "after", msg.Payload.GroupRenamed.NewTitle)
}

func TestRenameOnNonGroupThreadIsRejected(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_rename_nongroup")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	thread := seedThread(t, threads, models.EntityTicket, utils.NewSixID(),
		models.ThreadLandlordTenant, landlord)

	err := threads.Rename(ctx, thread.ID, landlord, "nope")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestTransferOwnershipRequiresOwnerAndParticipant(t *testing.T) {
	client, db := setupTestDB(t, "comms_test_thread_transfer")
	participants := NewParticipantService(client, db)
	threads := NewThreadService(db, participants, NewDirectoryService(db))
	ctx := context.Background()

	owner := utils.NewSixID()
	member := utils.NewSixID()
	thread, err := threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityTenantChat,
		LinkedEntityID:   utils.NewSixID(),
		ThreadType:       models.ThreadTenantTenantGroup,
		Title:            "group",
		CreatedBy:        owner,
	})
	require.NoError(t, err)
	require.NoError(t, participants.Add(ctx, thread.ID,
		models.Party{Role: models.RoleUser, ID: member}, false, models.StatusAccepted))

	// Non-owner cannot transfer.
	err = threads.TransferOwnership(ctx, thread.ID, models.Party{Role: models.RoleUser, ID: member}, owner)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// New owner must be a participant.
	err = threads.TransferOwnership(ctx, thread.ID, models.Party{Role: models.RoleUser, ID: owner}, utils.NewSixID())
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Valid transfer makes the member the owner and an admin.
	require.NoError(t, threads.TransferOwnership(ctx, thread.ID, models.Party{Role: models.RoleUser, ID: owner}, member))
	view, err := threads.Get(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, member, view.Thread.CreatedBy)
	assert.True(t, view.Thread.IsAdmin(member))
}
