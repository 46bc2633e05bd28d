package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hearthside/comms/internal/apperr"
	appdb "hearthside/comms/internal/db"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

// CreateThreadInput carries everything needed to open a thread.
type CreateThreadInput struct {
	LinkedEntityType models.EntityType
	LinkedEntityID   utils.SixID
	ThreadType       models.ThreadType
	Title            string
	Participants     []models.Party
	// CreatedBy and Admins are only meaningful for group threads.
	CreatedBy utils.SixID
	AvatarURL string
}

// IThreadService is the thread registry: it owns the Thread aggregate,
// enforces the one-thread-per-(entity, type) invariant and the
// entity/thread-type compatibility table, and hosts the group-only
// metadata mutators.
type IThreadService interface {
	Create(ctx context.Context, in CreateThreadInput) (*models.Thread, error)
	FindByEntity(ctx context.Context, entityType models.EntityType, entityID utils.SixID, threadType *models.ThreadType) ([]models.Thread, error)
	Get(ctx context.Context, threadID utils.SixID) (*models.ThreadView, error)
	Rename(ctx context.Context, threadID utils.SixID, actor models.Party, newTitle string) error
	SetAvatar(ctx context.Context, threadID utils.SixID, actor models.Party, avatarURL string) error
	TransferOwnership(ctx context.Context, threadID utils.SixID, actor models.Party, newOwner utils.SixID) error
}

type threadService struct {
	db           *mongo.Database
	participants IParticipantService
	directory    IDirectoryService
}

// NewThreadService creates a ThreadService.
func NewThreadService(database *mongo.Database, participants IParticipantService, directory IDirectoryService) IThreadService {
	return &threadService{db: database, participants: participants, directory: directory}
}

// Create validates, persists the thread, then delegates participant
// seeding to the participant store under the policy. A duplicate
// (entity, type) tuple is a Conflict whether detected by the
// lookup-before-create or by the unique index under a race.
func (s *threadService) Create(ctx context.Context, in CreateThreadInput) (*models.Thread, error) {
	if !models.CompatibleThreadType(in.LinkedEntityType, in.ThreadType) {
		return nil, apperr.Validation("thread type %s is not compatible with entity type %s",
			in.ThreadType, in.LinkedEntityType)
	}

	if in.LinkedEntityType == models.EntityScopeOfWork {
		sow, err := s.directory.ScopeOfWorkByID(ctx, in.LinkedEntityID)
		if err != nil {
			return nil, err
		}
		if sow.IsSubScope() {
			return nil, apperr.Validation("sub-scopes of work cannot own threads")
		}
	}

	collection := s.db.Collection(threadsCollection)
	count, err := collection.CountDocuments(ctx, bson.M{
		"linked_entity_type": in.LinkedEntityType,
		"linked_entity_id":   in.LinkedEntityID,
		"thread_type":        in.ThreadType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check thread uniqueness: %w", err)
	}
	if count > 0 {
		return nil, apperr.Conflict("a %s thread already exists for %s %s",
			in.ThreadType, in.LinkedEntityType, in.LinkedEntityID.String())
	}

	now := time.Now().UTC()
	var thread *models.Thread
	operation := func() error {
		thread = &models.Thread{
			Base:             models.NewBase(),
			Title:            in.Title,
			LinkedEntityType: in.LinkedEntityType,
			LinkedEntityID:   in.LinkedEntityID,
			ThreadType:       in.ThreadType,
			CreatedBy:        in.CreatedBy,
			AvatarURL:        in.AvatarURL,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if models.IsGroupThreadType(in.ThreadType) && !in.CreatedBy.IsZero() {
			thread.Admins = []utils.SixID{in.CreatedBy}
		}
		_, insertErr := collection.InsertOne(ctx, thread)
		return insertErr
	}
	if err := appdb.Try(operation); err != nil {
		// Retries only regenerate _id collisions; a compound-index
		// violation means a concurrent creator won the tuple.
		if appdb.IsMongoDuplicateKeyError(err) {
			return nil, apperr.Conflict("a %s thread already exists for %s %s",
				in.ThreadType, in.LinkedEntityType, in.LinkedEntityID.String())
		}
		return nil, fmt.Errorf("failed to insert thread for %s %s: %w",
			in.LinkedEntityType, in.LinkedEntityID.String(), err)
	}

	if err := s.participants.SeedParticipants(ctx, thread, in.Participants); err != nil {
		// Compensate so no half-created thread survives.
		if _, delErr := collection.DeleteOne(ctx, bson.M{"_id": thread.ID}); delErr != nil {
			log.Printf("CRITICAL: thread %s created but participant seeding and cleanup both failed: %v / %v",
				thread.ID.String(), err, delErr)
		}
		return nil, err
	}
	return thread, nil
}

func (s *threadService) FindByEntity(ctx context.Context, entityType models.EntityType, entityID utils.SixID, threadType *models.ThreadType) ([]models.Thread, error) {
	filter := bson.M{
		"linked_entity_type": entityType,
		"linked_entity_id":   entityID,
	}
	if threadType != nil {
		filter["thread_type"] = *threadType
	}
	cursor, err := s.db.Collection(threadsCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query threads for %s %s: %w", entityType, entityID.String(), err)
	}
	defer cursor.Close(ctx)

	var threads []models.Thread
	if err = cursor.All(ctx, &threads); err != nil {
		return nil, fmt.Errorf("failed to decode threads: %w", err)
	}
	return threads, nil
}

// Get returns the thread with its participants and messages ordered oldest
// to newest.
func (s *threadService) Get(ctx context.Context, threadID utils.SixID) (*models.ThreadView, error) {
	thread, err := loadThread(ctx, s.db, threadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("thread %s not found", threadID.String())
		}
		return nil, err
	}

	participants, err := loadParticipants(ctx, s.db, threadID)
	if err != nil {
		return nil, err
	}

	cursor, err := s.db.Collection(messagesCollection).Find(ctx,
		bson.M{"thread_id": threadID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages of thread %s: %w", threadID.String(), err)
	}
	defer cursor.Close(ctx)

	var messages []models.ThreadMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	return &models.ThreadView{Thread: *thread, Participants: participants, Messages: messages}, nil
}

// Rename changes a group thread's title; admin-gated.
func (s *threadService) Rename(ctx context.Context, threadID utils.SixID, actor models.Party, newTitle string) error {
	if newTitle == "" {
		return apperr.Validation("group title cannot be empty")
	}
	thread, err := s.requireGroupAdmin(ctx, threadID, actor)
	if err != nil {
		return err
	}
	if thread.Title == newTitle {
		return nil
	}

	_, err = s.db.Collection(threadsCollection).UpdateByID(ctx, threadID,
		bson.M{"$set": bson.M{"title": newTitle, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("db error renaming thread %s: %w", threadID.String(), err)
	}

	payload := &models.SystemPayload{GroupRenamed: &models.RenamePayload{
		Actor:    actor,
		OldTitle: thread.Title,
		NewTitle: newTitle,
	}}
	if _, err := insertSystemMessage(ctx, s.db, threadID, models.SysGroupRenamed, payload, ""); err != nil {
		log.Printf("Failed to record rename system message for thread %s: %v", threadID.String(), err)
	}
	return nil
}

// SetAvatar changes a group thread's avatar; admin-gated.
func (s *threadService) SetAvatar(ctx context.Context, threadID utils.SixID, actor models.Party, avatarURL string) error {
	thread, err := s.requireGroupAdmin(ctx, threadID, actor)
	if err != nil {
		return err
	}

	_, err = s.db.Collection(threadsCollection).UpdateByID(ctx, threadID,
		bson.M{"$set": bson.M{"avatar_url": avatarURL, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("db error setting avatar on thread %s: %w", threadID.String(), err)
	}

	payload := &models.SystemPayload{AvatarChanged: &models.AvatarPayload{
		Actor:        actor,
		OldAvatarURL: thread.AvatarURL,
		NewAvatarURL: avatarURL,
	}}
	if _, err := insertSystemMessage(ctx, s.db, threadID, models.SysAvatarChanged, payload, ""); err != nil {
		log.Printf("Failed to record avatar system message for thread %s: %v", threadID.String(), err)
	}
	return nil
}

// TransferOwnership hands created_by to another participant. Only the
// current owner may transfer, and the new owner becomes admin as well.
func (s *threadService) TransferOwnership(ctx context.Context, threadID utils.SixID, actor models.Party, newOwner utils.SixID) error {
	thread, err := s.requireGroup(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.CreatedBy != actor.ID {
		return apperr.Forbidden("only the group owner may transfer ownership")
	}
	if newOwner == actor.ID {
		return apperr.Validation("cannot transfer ownership to yourself")
	}

	// The new owner must already be in the thread, under whichever role
	// they were seeded with.
	_, err = findParticipantByID(ctx, s.db, threadID, newOwner)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.NotFound("new owner %s is not a participant of thread %s",
				newOwner.String(), threadID.String())
		}
		return err
	}

	_, err = s.db.Collection(threadsCollection).UpdateByID(ctx, threadID, bson.M{
		"$set":      bson.M{"created_by": newOwner, "updated_at": time.Now().UTC()},
		"$addToSet": bson.M{"admins": newOwner},
	})
	if err != nil {
		return fmt.Errorf("db error transferring ownership of thread %s: %w", threadID.String(), err)
	}

	payload := &models.SystemPayload{OwnershipTransferred: &models.TransferPayload{
		OldOwner: actor.ID,
		NewOwner: newOwner,
	}}
	if _, err := insertSystemMessage(ctx, s.db, threadID, models.SysOwnershipTransferred, payload, ""); err != nil {
		log.Printf("Failed to record ownership system message for thread %s: %v", threadID.String(), err)
	}
	return nil
}

func (s *threadService) requireGroup(ctx context.Context, threadID utils.SixID) (*models.Thread, error) {
	thread, err := loadThread(ctx, s.db, threadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("thread %s not found", threadID.String())
		}
		return nil, err
	}
	if !models.IsGroupThreadType(thread.ThreadType) {
		return nil, apperr.Validation("thread %s is not a group thread", threadID.String())
	}
	return thread, nil
}

func (s *threadService) requireGroupAdmin(ctx context.Context, threadID utils.SixID, actor models.Party) (*models.Thread, error) {
	thread, err := s.requireGroup(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsAdmin(actor.ID) {
		return nil, apperr.Forbidden("only group admins may change group metadata")
	}
	return thread, nil
}
