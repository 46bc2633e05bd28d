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

// IParticipantService owns participant records and their state machine:
// seeding, accept/decline, add/remove, and the decline cascade that
// retires a thread once it no longer connects the landlord to anyone.
type IParticipantService interface {
	SeedParticipants(ctx context.Context, thread *models.Thread, parties []models.Party) error
	Add(ctx context.Context, threadID utils.SixID, p models.Party, mandatory bool, status models.ParticipantStatus) error
	Accept(ctx context.Context, threadID utils.SixID, p models.Party) error
	Decline(ctx context.Context, threadID utils.SixID, p models.Party) error
	Remove(ctx context.Context, threadID utils.SixID, target models.Party, removedBy models.Party) error
	ListByThread(ctx context.Context, threadID utils.SixID) ([]models.ThreadParticipant, error)
	Find(ctx context.Context, threadID utils.SixID, p models.Party) (*models.ThreadParticipant, error)
	ClearHistory(ctx context.Context, threadID utils.SixID, p models.Party) error
	// EvaluateCascade deletes the thread, its messages and its
	// participants when no non-landlord audience remains.
	EvaluateCascade(ctx context.Context, threadID utils.SixID) error
}

type participantService struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewParticipantService creates a ParticipantService. The client is used
// for the cascade's transactional delete.
func NewParticipantService(client *mongo.Client, database *mongo.Database) IParticipantService {
	return &participantService{client: client, db: database}
}

// SeedParticipants bulk-inserts the initial participant set of a new
// thread, mandatory flag and initial status decided by the policy.
func (s *participantService) SeedParticipants(ctx context.Context, thread *models.Thread, parties []models.Party) error {
	if len(parties) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(parties))
	seen := make(map[models.Party]bool, len(parties))
	for _, p := range parties {
		if seen[p] {
			continue
		}
		seen[p] = true
		docs = append(docs, &models.ThreadParticipant{
			Base:            models.NewBase(),
			ThreadID:        thread.ID,
			ParticipantType: p.Role,
			ParticipantID:   p.ID,
			Status:          InitialStatus(thread.ThreadType, p.Role),
			IsMandatory:     IsMandatory(thread.ThreadType, p.Role),
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	_, err := s.db.Collection(participantsCollection).InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to seed %d participants for thread %s: %w",
			len(docs), thread.ID.String(), err)
	}
	return nil
}

// Add inserts one participant; a no-op if the party is already present.
func (s *participantService) Add(ctx context.Context, threadID utils.SixID, p models.Party,
	mandatory bool, status models.ParticipantStatus) error {

	now := time.Now().UTC()
	filter := bson.M{
		"thread_id":        threadID,
		"participant_type": p.Role,
		"participant_id":   p.ID,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":          utils.NewSixID(),
			"status":       status,
			"is_mandatory": mandatory,
			"created_at":   now,
			"updated_at":   now,
		},
	}
	operation := func() error {
		_, err := s.db.Collection(participantsCollection).
			UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		return err
	}
	if err := appdb.Try(operation); err != nil {
		return fmt.Errorf("failed to add participant %s to thread %s: %w",
			p.String(), threadID.String(), err)
	}
	return nil
}

// Accept moves PENDING -> ACCEPTED. Mandatory participants are already
// bound and can neither accept nor decline. The status precondition lives
// in the update filter so a concurrent second caller observes
// MatchedCount==0 and gets the definitive error rather than re-applying.
func (s *participantService) Accept(ctx context.Context, threadID utils.SixID, p models.Party) error {
	participant, err := s.Find(ctx, threadID, p)
	if err != nil {
		return err
	}
	if participant.IsMandatory {
		return apperr.Forbidden("participant %s is mandatory and cannot accept or decline", p.String())
	}
	if participant.Status == models.StatusAccepted {
		return apperr.Conflict("participant %s has already accepted", p.String())
	}

	result, err := s.db.Collection(participantsCollection).UpdateOne(ctx,
		bson.M{
			"thread_id":        threadID,
			"participant_type": p.Role,
			"participant_id":   p.ID,
			"is_mandatory":     false,
			"status":           bson.M{"$nin": bson.A{models.StatusAccepted, models.StatusDeclined}},
		},
		bson.M{"$set": bson.M{"status": models.StatusAccepted, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("db error accepting participation %s in thread %s: %w", p.String(), threadID.String(), err)
	}
	if result.MatchedCount == 0 {
		// Lost a race: someone already moved the status.
		return apperr.Conflict("participation of %s already resolved", p.String())
	}
	return nil
}

// Decline moves PENDING -> DECLINED with the same guards as Accept, then
// always evaluates the cascade.
func (s *participantService) Decline(ctx context.Context, threadID utils.SixID, p models.Party) error {
	participant, err := s.Find(ctx, threadID, p)
	if err != nil {
		return err
	}
	if participant.IsMandatory {
		return apperr.Forbidden("participant %s is mandatory and cannot accept or decline", p.String())
	}
	if participant.Status == models.StatusDeclined {
		return apperr.Conflict("participant %s has already declined", p.String())
	}

	result, err := s.db.Collection(participantsCollection).UpdateOne(ctx,
		bson.M{
			"thread_id":        threadID,
			"participant_type": p.Role,
			"participant_id":   p.ID,
			"is_mandatory":     false,
			"status":           bson.M{"$ne": models.StatusDeclined},
		},
		bson.M{"$set": bson.M{"status": models.StatusDeclined, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("db error declining participation %s in thread %s: %w", p.String(), threadID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.Conflict("participation of %s already resolved", p.String())
	}

	// Cascade failures must not surface to the declining user.
	if err := s.EvaluateCascade(ctx, threadID); err != nil {
		log.Printf("Decline cascade evaluation failed for thread %s: %v", threadID.String(), err)
	}
	return nil
}

// Remove deletes a participant record. Self-removal is always allowed;
// removing someone else requires the remover to be a thread admin and the
// target must not be the thread's owner. Emits the matching system message
// and evaluates the cascade afterwards.
func (s *participantService) Remove(ctx context.Context, threadID utils.SixID, target models.Party, removedBy models.Party) error {
	thread, err := loadThread(ctx, s.db, threadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.NotFound("thread %s not found", threadID.String())
		}
		return err
	}

	selfRemoval := target.Equal(removedBy)
	if !selfRemoval {
		if !thread.IsAdmin(removedBy.ID) {
			return apperr.Forbidden("only group admins may remove other members")
		}
		if thread.CreatedBy == target.ID {
			return apperr.Forbidden("the group owner cannot be removed; transfer ownership first")
		}
	}

	result, err := s.db.Collection(participantsCollection).DeleteOne(ctx, bson.M{
		"thread_id":        threadID,
		"participant_type": target.Role,
		"participant_id":   target.ID,
	})
	if err != nil {
		return fmt.Errorf("db error removing participant %s from thread %s: %w",
			target.String(), threadID.String(), err)
	}
	if result.DeletedCount == 0 {
		return apperr.NotFound("participant %s not found in thread %s", target.String(), threadID.String())
	}

	// Demote if the removed member was an admin.
	_, err = s.db.Collection(threadsCollection).UpdateByID(ctx, threadID,
		bson.M{"$pull": bson.M{"admins": target.ID}})
	if err != nil {
		log.Printf("Failed to strip admin flag from removed member %s: %v", target.String(), err)
	}

	kind := models.SysUserRemoved
	payload := &models.SystemPayload{UserRemoved: &models.RemovalPayload{Actor: removedBy, Target: target}}
	if selfRemoval {
		kind = models.SysUserLeft
		payload = &models.SystemPayload{UserLeft: &models.MembershipPayload{Actor: target}}
	}
	if _, err := insertSystemMessage(ctx, s.db, threadID, kind, payload, ""); err != nil {
		log.Printf("Failed to record %s system message for thread %s: %v", kind, threadID.String(), err)
	}

	if err := s.EvaluateCascade(ctx, threadID); err != nil {
		log.Printf("Cascade evaluation after removal failed for thread %s: %v", threadID.String(), err)
	}
	return nil
}

func (s *participantService) ListByThread(ctx context.Context, threadID utils.SixID) ([]models.ThreadParticipant, error) {
	return loadParticipants(ctx, s.db, threadID)
}

func (s *participantService) Find(ctx context.Context, threadID utils.SixID, p models.Party) (*models.ThreadParticipant, error) {
	participant, err := findParticipant(ctx, s.db, threadID, p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("participant %s not found in thread %s", p.String(), threadID.String())
		}
		return nil, err
	}
	return participant, nil
}

// ClearHistory stamps cleared_at so messages created before now are hidden
// from this participant only. Nothing is deleted.
func (s *participantService) ClearHistory(ctx context.Context, threadID utils.SixID, p models.Party) error {
	now := time.Now().UTC()
	result, err := s.db.Collection(participantsCollection).UpdateOne(ctx,
		bson.M{
			"thread_id":        threadID,
			"participant_type": p.Role,
			"participant_id":   p.ID,
		},
		bson.M{"$set": bson.M{"cleared_at": now, "updated_at": now}})
	if err != nil {
		return fmt.Errorf("db error clearing history for %s in thread %s: %w", p.String(), threadID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("participant %s not found in thread %s", p.String(), threadID.String())
	}
	return nil
}

// EvaluateCascade deletes the thread when no participant other than the
// landlord is still engaged (PENDING, ACTIVE or ACCEPTED). A thread exists
// to connect a landlord with someone; once that someone departs, the
// thread has no purpose. Deletion runs messages -> participants -> thread
// inside one transaction where supported, so an interrupted run never
// leaves records pointing at a deleted thread.
func (s *participantService) EvaluateCascade(ctx context.Context, threadID utils.SixID) error {
	count, err := s.db.Collection(participantsCollection).CountDocuments(ctx, bson.M{
		"thread_id":        threadID,
		"participant_type": bson.M{"$ne": models.RoleLandlord},
		"status": bson.M{"$in": bson.A{
			models.StatusPending, models.StatusActive, models.StatusAccepted,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to count engaged participants of thread %s: %w", threadID.String(), err)
	}
	if count > 0 {
		return nil
	}

	log.Printf("Thread %s has no audience beyond the landlord, deleting.", threadID.String())
	return appdb.RunInTransaction(ctx, s.client, func(txCtx context.Context) error {
		if _, err := s.db.Collection(messagesCollection).DeleteMany(txCtx, bson.M{"thread_id": threadID}); err != nil {
			return fmt.Errorf("failed to delete messages of thread %s: %w", threadID.String(), err)
		}
		if _, err := s.db.Collection(participantsCollection).DeleteMany(txCtx, bson.M{"thread_id": threadID}); err != nil {
			return fmt.Errorf("failed to delete participants of thread %s: %w", threadID.String(), err)
		}
		if _, err := s.db.Collection(threadsCollection).DeleteOne(txCtx, bson.M{"_id": threadID}); err != nil {
			return fmt.Errorf("failed to delete thread %s: %w", threadID.String(), err)
		}
		return nil
	})
}
