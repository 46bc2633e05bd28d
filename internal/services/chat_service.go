package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

// IChatService is the peer-to-peer overlay on the thread model: 1:1
// sessions and ad-hoc or property-wide group chats, all living under
// TENANT_CHAT (or PROPERTY for property-wide groups).
type IChatService interface {
	// CreateOrGetSession returns the 1:1 session between two users,
	// creating it if absent. The lookup is deterministic per pair.
	CreateOrGetSession(ctx context.Context, a, b utils.SixID) (*models.Thread, error)
	// CreateGroup opens a group chat. propertyID links the group to a
	// property, which relaxes the add-member gate and pins tenants with
	// active leases inside.
	CreateGroup(ctx context.Context, creator utils.SixID, title string, invitees []utils.SixID, propertyID *utils.SixID) (*models.Thread, error)
	AddMember(ctx context.Context, threadID, actor, newMember utils.SixID) error
	RemoveMember(ctx context.Context, threadID, actor, target utils.SixID) error
	Leave(ctx context.Context, threadID, actor utils.SixID) error
}

type chatService struct {
	db            *mongo.Database
	threads       IThreadService
	participants  IParticipantService
	privacy       IPrivacyService
	directory     IDirectoryService
	notifications INotificationService
}

// NewChatService creates a ChatService.
func NewChatService(database *mongo.Database, threads IThreadService, participants IParticipantService,
	privacy IPrivacyService, directory IDirectoryService, notifications INotificationService) IChatService {
	return &chatService{
		db:            database,
		threads:       threads,
		participants:  participants,
		privacy:       privacy,
		directory:     directory,
		notifications: notifications,
	}
}

// sessionKey derives a stable id for a user pair, independent of order.
// Keying the thread's linked entity by it lets the unique index double as
// the one-session-per-pair guarantee under concurrent creation.
func sessionKey(a, b utils.SixID) utils.SixID {
	lo, hi := a, b
	if bytes.Compare(hi[:], lo[:]) < 0 {
		lo, hi = hi, lo
	}
	sum := sha256.Sum256(append(lo[:], hi[:]...))
	var key utils.SixID
	copy(key[:], sum[:6])
	return key
}

func (s *chatService) CreateOrGetSession(ctx context.Context, a, b utils.SixID) (*models.Thread, error) {
	if a == b {
		return nil, apperr.Validation("cannot open a chat session with yourself")
	}

	blocked, err := s.privacy.EitherBlocked(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, apperr.Forbidden("messaging between these users is blocked")
	}

	key := sessionKey(a, b)
	threadType := models.ThreadTenantTenant
	existing, err := s.threads.FindByEntity(ctx, models.EntityTenantChat, key, &threadType)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}

	target, err := s.directory.FindUser(ctx, b)
	if err != nil {
		return nil, err
	}
	if !target.AllowDirectMessages {
		return nil, apperr.Forbidden("%s does not accept direct messages", target.Name)
	}

	thread, err := s.threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: models.EntityTenantChat,
		LinkedEntityID:   key,
		ThreadType:       models.ThreadTenantTenant,
		Title:            "",
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// A concurrent caller created the session; return theirs.
			existing, lookupErr := s.threads.FindByEntity(ctx, models.EntityTenantChat, key, &threadType)
			if lookupErr == nil && len(existing) > 0 {
				return &existing[0], nil
			}
		}
		return nil, err
	}

	// Both sides join pre-accepted: the session only exists because one of
	// them asked for it and the other allows it.
	for _, id := range []utils.SixID{a, b} {
		p := models.Party{Role: models.RoleUser, ID: id}
		if err := s.participants.Add(ctx, thread.ID, p, false, models.StatusAccepted); err != nil {
			return nil, err
		}
	}
	return thread, nil
}

// CreateGroup validates every invitee's invite preference up front; nothing
// is persisted when any of them opts out, and the rejection names them.
func (s *chatService) CreateGroup(ctx context.Context, creator utils.SixID, title string,
	invitees []utils.SixID, propertyID *utils.SixID) (*models.Thread, error) {

	if title == "" {
		return nil, apperr.Validation("group title cannot be empty")
	}

	creatorUser, err := s.directory.FindUser(ctx, creator)
	if err != nil {
		return nil, err
	}
	if !creatorUser.AllowGroupInvites {
		return nil, apperr.Forbidden("%s does not participate in group chats", creatorUser.Name)
	}

	var offenders []string
	members := []utils.SixID{creator}
	for _, id := range invitees {
		if id == creator {
			continue
		}
		user, err := s.directory.FindUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if !user.AllowGroupInvites {
			offenders = append(offenders, user.Name)
			continue
		}
		members = append(members, id)
	}
	if len(offenders) > 0 {
		return nil, apperr.Forbidden("cannot invite: %s", strings.Join(offenders, ", "))
	}

	entityType := models.EntityTenantChat
	entityID := utils.NewSixID()
	if propertyID != nil {
		entityType = models.EntityProperty
		entityID = *propertyID
	}

	thread, err := s.threads.Create(ctx, CreateThreadInput{
		LinkedEntityType: entityType,
		LinkedEntityID:   entityID,
		ThreadType:       models.ThreadTenantTenantGroup,
		Title:            title,
		CreatedBy:        creator,
	})
	if err != nil {
		return nil, err
	}

	for _, id := range members {
		p := models.Party{Role: models.RoleUser, ID: id}
		if err := s.participants.Add(ctx, thread.ID, p, false, models.StatusAccepted); err != nil {
			return nil, err
		}
	}

	s.announceMembership(ctx, thread.ID, models.SysUserJoined,
		&models.SystemPayload{UserJoined: &models.MembershipPayload{
			Actor: models.Party{Role: models.RoleUser, ID: creator},
		}},
		fmt.Sprintf("%s created the group", s.directory.DisplayName(ctx, models.Party{Role: models.RoleUser, ID: creator})))

	var invitedIDs []utils.SixID
	for _, id := range members {
		if id != creator {
			invitedIDs = append(invitedIDs, id)
		}
	}
	s.notifications.NotifyMany(ctx, invitedIDs, thread.ID, models.NotifyInvitation,
		title, "You have been added to a group chat",
		fmt.Sprintf("/threads/%s", thread.ID.String()))

	return thread, nil
}

// AddMember joins a user into the group. Admin-gated, except property-wide
// groups where any current member may add. The invitee's own invite
// preference always applies.
func (s *chatService) AddMember(ctx context.Context, threadID, actor, newMember utils.SixID) error {
	thread, err := s.requireGroupChat(ctx, threadID)
	if err != nil {
		return err
	}

	if !thread.IsAdmin(actor) {
		insiderMayAdd := thread.LinkedEntityType == models.EntityProperty
		if !insiderMayAdd {
			return apperr.Forbidden("only group admins may add members")
		}
		if _, err := findParticipantByID(ctx, s.db, threadID, actor); err != nil {
			return apperr.Forbidden("only group members may add to a property group")
		}
	}

	user, err := s.directory.FindUser(ctx, newMember)
	if err != nil {
		return err
	}
	if !user.AllowGroupInvites {
		return apperr.Forbidden("%s does not participate in group chats", user.Name)
	}

	member := models.Party{Role: models.RoleUser, ID: newMember}
	if err := s.participants.Add(ctx, threadID, member, false, models.StatusAccepted); err != nil {
		return err
	}

	s.announceMembership(ctx, threadID, models.SysUserJoined,
		&models.SystemPayload{UserJoined: &models.MembershipPayload{Actor: member}},
		fmt.Sprintf("%s joined the group", user.Name))

	s.notifications.NotifyUser(ctx, newMember, threadID, models.NotifyInvitation,
		thread.Title, "You have been added to a group chat",
		fmt.Sprintf("/threads/%s", threadID.String()))
	return nil
}

// RemoveMember evicts a member. The participant store enforces the admin
// gate and the owner protection and emits the system message.
func (s *chatService) RemoveMember(ctx context.Context, threadID, actor, target utils.SixID) error {
	if _, err := s.requireGroupChat(ctx, threadID); err != nil {
		return err
	}
	targetParty, err := s.memberParty(ctx, threadID, target)
	if err != nil {
		return err
	}
	actorParty := targetParty
	if actor != target {
		actorParty, err = s.memberParty(ctx, threadID, actor)
		if err != nil {
			return err
		}
	}
	return s.participants.Remove(ctx, threadID, targetParty, actorParty)
}

// Leave is self-service, except that a tenant with an active lease in a
// property-wide group is pinned inside for the lease's duration.
func (s *chatService) Leave(ctx context.Context, threadID, actor utils.SixID) error {
	thread, err := s.requireGroupChat(ctx, threadID)
	if err != nil {
		return err
	}

	if thread.LinkedEntityType == models.EntityProperty {
		leased, err := s.directory.HasActiveLeaseInProperty(ctx, actor, thread.LinkedEntityID)
		if err != nil {
			return err
		}
		if leased {
			return apperr.Forbidden("tenants with an active lease cannot leave the property group")
		}
	}

	self, err := s.memberParty(ctx, threadID, actor)
	if err != nil {
		return err
	}
	return s.participants.Remove(ctx, threadID, self, self)
}

// memberParty resolves a user's participant record into the party they
// actually hold in the thread. Work group members carry their business
// role, ad-hoc chat members the generic one; the removal filter must
// match whichever was seeded.
func (s *chatService) memberParty(ctx context.Context, threadID, userID utils.SixID) (models.Party, error) {
	participant, err := findParticipantByID(ctx, s.db, threadID, userID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Party{}, apperr.NotFound("user %s is not a participant of thread %s",
				userID.String(), threadID.String())
		}
		return models.Party{}, err
	}
	return participant.Party(), nil
}

func (s *chatService) requireGroupChat(ctx context.Context, threadID utils.SixID) (*models.Thread, error) {
	thread, err := loadThread(ctx, s.db, threadID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.NotFound("thread %s not found", threadID.String())
		}
		return nil, err
	}
	if !models.IsGroupThreadType(thread.ThreadType) {
		return nil, apperr.Validation("thread %s is not a group thread", threadID.String())
	}
	return thread, nil
}

// announceMembership records the system message and broadcasts it to the
// current membership; both are best-effort relative to the mutation.
func (s *chatService) announceMembership(ctx context.Context, threadID utils.SixID,
	kind models.SystemMessageType, payload *models.SystemPayload, content string) {

	msg, err := insertSystemMessage(ctx, s.db, threadID, kind, payload, content)
	if err != nil {
		log.Printf("Failed to record %s system message for thread %s: %v", kind, threadID.String(), err)
		return
	}

	participants, err := loadParticipants(ctx, s.db, threadID)
	if err != nil {
		log.Printf("Broadcast aborted for thread %s: %v", threadID.String(), err)
		return
	}
	ids := make([]utils.SixID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ParticipantID)
	}
	s.notifications.BroadcastToThread(ctx, ids, &MessageEvent{Kind: "created", Message: msg})
}
