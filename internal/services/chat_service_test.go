package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

type chatFixture struct {
	db           *mongo.Database
	chat         IChatService
	threads      IThreadService
	participants IParticipantService
	privacy      IPrivacyService
	directory    IDirectoryService
	notifier     *mockNotificationService
}

func newChatFixture(t *testing.T, dbName string) *chatFixture {
	client, db := setupTestDB(t, dbName)
	participants := NewParticipantService(client, db)
	directory := NewDirectoryService(db)
	threads := NewThreadService(db, participants, directory)
	privacy := NewPrivacyService(db)
	notifier := &mockNotificationService{}
	chat := NewChatService(db, threads, participants, privacy, directory, notifier)
	return &chatFixture{
		db:           db,
		chat:         chat,
		threads:      threads,
		participants: participants,
		privacy:      privacy,
		directory:    directory,
		notifier:     notifier,
	}
}

func TestCreateOrGetSessionIsDeterministicPerPair(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_session")
	ctx := context.Background()

	alice := seedUser(t, f.db, models.RoleTenant, "alice", utils.NewSixID())
	bob := seedUser(t, f.db, models.RoleTenant, "bob", utils.NewSixID())

	first, err := f.chat.CreateOrGetSession(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Same pair in either order resolves to the same thread.
	second, err := f.chat.CreateOrGetSession(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	listed, err := f.participants.ListByThread(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, p := range listed {
		assert.Equal(t, models.StatusAccepted, p.Status)
	}
}

func TestCreateSessionRejectsSelfChat(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_self")
	alice := seedUser(t, f.db, models.RoleTenant, "alice", utils.NewSixID())

	_, err := f.chat.CreateOrGetSession(context.Background(), alice.ID, alice.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateSessionHonorsBlocksAndOptOut(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_privacy")
	ctx := context.Background()

	alice := seedUser(t, f.db, models.RoleTenant, "alice", utils.NewSixID())
	bob := seedUser(t, f.db, models.RoleTenant, "bob", utils.NewSixID())

	// Block in either direction forbids the session.
	require.NoError(t, f.privacy.Block(ctx, bob.ID, alice.ID))
	_, err := f.chat.CreateOrGetSession(ctx, alice.ID, bob.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	require.NoError(t, f.privacy.Unblock(ctx, bob.ID, alice.ID))

	// Target has direct messages disabled.
	_, err = f.db.Collection(usersCollection).UpdateByID(ctx, bob.ID,
		bson.M{"$set": bson.M{"allow_direct_messages": false}})
	require.NoError(t, err)
	_, err = f.chat.CreateOrGetSession(ctx, alice.ID, bob.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCreateGroupNamesOffendersAndPersistsNothing(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_group_reject")
	ctx := context.Background()

	creator := seedUser(t, f.db, models.RoleTenant, "creator", utils.NewSixID())
	open := seedUser(t, f.db, models.RoleTenant, "open-invitee", utils.NewSixID())
	closed := seedUser(t, f.db, models.RoleTenant, "closed-invitee", utils.NewSixID())
	_, err := f.db.Collection(usersCollection).UpdateByID(ctx, closed.ID,
		bson.M{"$set": bson.M{"allow_group_invites": false}})
	require.NoError(t, err)

	_, err = f.chat.CreateGroup(ctx, creator.ID, "weekend plans",
		[]utils.SixID{open.ID, closed.ID}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "closed-invitee")

	count, err := f.db.Collection(threadsCollection).CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Zero(t, count, "no thread may survive a rejected group creation")
}

func TestCreateGroupMakesCreatorOwnerAndAdmin(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_group")
	ctx := context.Background()

	creator := seedUser(t, f.db, models.RoleTenant, "creator", utils.NewSixID())
	invitee := seedUser(t, f.db, models.RoleTenant, "invitee", utils.NewSixID())

	thread, err := f.chat.CreateGroup(ctx, creator.ID, "weekend plans", []utils.SixID{invitee.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, creator.ID, thread.CreatedBy)
	assert.True(t, thread.IsAdmin(creator.ID))

	view, err := f.threads.Get(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, view.Participants, 2)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, models.SysUserJoined, view.Messages[0].SystemMessageType)
}

func TestAddMemberGates(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_add")
	ctx := context.Background()

	creator := seedUser(t, f.db, models.RoleTenant, "creator", utils.NewSixID())
	member := seedUser(t, f.db, models.RoleTenant, "member", utils.NewSixID())
	outsider := seedUser(t, f.db, models.RoleTenant, "outsider", utils.NewSixID())

	thread, err := f.chat.CreateGroup(ctx, creator.ID, "ad-hoc", []utils.SixID{member.ID}, nil)
	require.NoError(t, err)

	// Plain members cannot add to an ad-hoc group.
	err = f.chat.AddMember(ctx, thread.ID, member.ID, outsider.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Admins can.
	require.NoError(t, f.chat.AddMember(ctx, thread.ID, creator.ID, outsider.ID))
	_, err = f.participants.Find(ctx, thread.ID, models.Party{Role: models.RoleUser, ID: outsider.ID})
	require.NoError(t, err)
}

func TestPropertyGroupInsiderMayAdd(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_property_add")
	ctx := context.Background()

	creator := seedUser(t, f.db, models.RoleTenant, "creator", utils.NewSixID())
	member := seedUser(t, f.db, models.RoleTenant, "member", utils.NewSixID())
	newcomer := seedUser(t, f.db, models.RoleTenant, "newcomer", utils.NewSixID())
	propertyID := utils.NewSixID()

	thread, err := f.chat.CreateGroup(ctx, creator.ID, "building chat",
		[]utils.SixID{member.ID}, &propertyID)
	require.NoError(t, err)
	assert.Equal(t, models.EntityProperty, thread.LinkedEntityType)

	// Any insider may add in a property-wide group.
	require.NoError(t, f.chat.AddMember(ctx, thread.ID, member.ID, newcomer.ID))

	// But not someone outside the group.
	stranger := seedUser(t, f.db, models.RoleTenant, "stranger", utils.NewSixID())
	err = f.chat.AddMember(ctx, thread.ID, stranger.ID, creator.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestLeaveBlockedByActiveLeaseInPropertyGroup(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_leave")
	ctx := context.Background()

	creator := seedUser(t, f.db, models.RoleTenant, "creator", utils.NewSixID())
	tenant := seedUser(t, f.db, models.RoleTenant, "tenant", utils.NewSixID())
	propertyID := utils.NewSixID()

	lease := &models.Lease{
		Base:       models.NewBase(),
		PropertyID: propertyID,
		UnitID:     utils.NewSixID(),
		TenantIDs:  []utils.SixID{tenant.ID},
		Active:     true,
	}
	_, err := f.db.Collection(leasesCollection).InsertOne(ctx, lease)
	require.NoError(t, err)

	thread, err := f.chat.CreateGroup(ctx, creator.ID, "building chat",
		[]utils.SixID{tenant.ID}, &propertyID)
	require.NoError(t, err)

	err = f.chat.Leave(ctx, thread.ID, tenant.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// Once the lease ends, leaving works.
	_, err = f.db.Collection(leasesCollection).UpdateByID(ctx, lease.ID,
		bson.M{"$set": bson.M{"active": false}})
	require.NoError(t, err)
	require.NoError(t, f.chat.Leave(ctx, thread.ID, tenant.ID))
}

func TestOptionalTenantMayLeaveWorkGroup(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_workgroup_leave")
	ctx := context.Background()

	sow := &models.ScopeOfWork{Base: models.NewBase(), TicketID: utils.NewSixID(), Title: "repaint hallway"}
	_, err := f.db.Collection(scopesCollection).InsertOne(ctx, sow)
	require.NoError(t, err)

	landlord := models.Party{Role: models.RoleLandlord, ID: utils.NewSixID()}
	first := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}
	second := models.Party{Role: models.RoleTenant, ID: utils.NewSixID()}

	thread, err := f.threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityScopeOfWork,
		LinkedEntityID:   sow.ID,
		ThreadType:       models.ThreadSOWGroup,
		Title:            sow.Title,
		Participants:     []models.Party{landlord, first, second},
		CreatedBy:        landlord.ID,
	})
	require.NoError(t, err)

	// Work group tenants are invited, not bound.
	p, err := f.participants.Find(ctx, thread.ID, first)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, p.Status)
	assert.False(t, p.IsMandatory)

	// Leaving must match the record under the tenant's business role.
	require.NoError(t, f.chat.Leave(ctx, thread.ID, first.ID))

	_, err = f.participants.Find(ctx, thread.ID, first)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	var left models.ThreadMessage
	err = f.db.Collection(messagesCollection).FindOne(ctx, bson.M{
		"thread_id":           thread.ID,
		"system_message_type": models.SysUserLeft,
	}).Decode(&left)
	require.NoError(t, err)
	require.NotNil(t, left.Payload)
	require.NotNil(t, left.Payload.UserLeft)
	assert.Equal(t, first, left.Payload.UserLeft.Actor)

	// The landlord admin evicts the remaining tenant under their business
	// role too; with nobody left beyond the landlord, the cascade retires
	// the thread.
	require.NoError(t, f.chat.RemoveMember(ctx, thread.ID, landlord.ID, second.ID))
	count, err := f.db.Collection(threadsCollection).CountDocuments(ctx, bson.M{"_id": thread.ID})
	require.NoError(t, err)
	assert.Zero(t, count, "cascade must retire the thread once only the landlord remains")
}

func TestRemoveMemberRequiresAdmin(t *testing.T) {
	f := newChatFixture(t, "comms_test_chat_remove")
	ctx := context.Background()

	creator := seedUser(t, f.db, models.RoleTenant, "creator", utils.NewSixID())
	member := seedUser(t, f.db, models.RoleTenant, "member", utils.NewSixID())

	thread, err := f.chat.CreateGroup(ctx, creator.ID, "ad-hoc", []utils.SixID{member.ID}, nil)
	require.NoError(t, err)

	err = f.chat.RemoveMember(ctx, thread.ID, member.ID, creator.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, f.chat.RemoveMember(ctx, thread.ID, creator.ID, member.ID))
}
