package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

// IPrivacyService is the cross-cutting blocking/muting guard consulted
// before session creation, message sends, and notification dispatch.
type IPrivacyService interface {
	// IsBlocked is directional: has a blocked b.
	IsBlocked(ctx context.Context, a, b utils.SixID) (bool, error)
	// EitherBlocked reports a block in either direction.
	EitherBlocked(ctx context.Context, a, b utils.SixID) (bool, error)
	IsMuted(ctx context.Context, userID, threadID utils.SixID) (bool, error)

	Block(ctx context.Context, userID, targetID utils.SixID) error
	Unblock(ctx context.Context, userID, targetID utils.SixID) error
	Mute(ctx context.Context, userID, threadID utils.SixID, until *time.Time) error
	Unmute(ctx context.Context, userID, threadID utils.SixID) error
}

type privacyService struct {
	db *mongo.Database
}

// NewPrivacyService creates a PrivacyService. Blocked and muted sets live
// on the user document, owned by the account collaborator but read and
// written here.
func NewPrivacyService(db *mongo.Database) IPrivacyService {
	return &privacyService{db: db}
}

func (s *privacyService) IsBlocked(ctx context.Context, a, b utils.SixID) (bool, error) {
	count, err := s.db.Collection(usersCollection).CountDocuments(ctx, bson.M{
		"_id":     a,
		"blocked": b,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check block %s -> %s: %w", a.String(), b.String(), err)
	}
	return count > 0, nil
}

func (s *privacyService) EitherBlocked(ctx context.Context, a, b utils.SixID) (bool, error) {
	blocked, err := s.IsBlocked(ctx, a, b)
	if err != nil || blocked {
		return blocked, err
	}
	return s.IsBlocked(ctx, b, a)
}

// IsMuted honors permanent mutes (nil until) and time-boxed ones. An
// expired time-boxed mute is lazily removed and reported as unmuted.
func (s *privacyService) IsMuted(ctx context.Context, userID, threadID utils.SixID) (bool, error) {
	var user models.User
	err := s.db.Collection(usersCollection).
		FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		return false, fmt.Errorf("failed to load user %s for mute check: %w", userID.String(), err)
	}

	now := time.Now().UTC()
	for _, m := range user.Mutes {
		if m.ThreadID != threadID {
			continue
		}
		if m.Until == nil || m.Until.After(now) {
			return true, nil
		}
		// Expired mute: self-heal.
		_, pullErr := s.db.Collection(usersCollection).UpdateByID(ctx, userID, bson.M{
			"$pull": bson.M{"mutes": bson.M{"thread_id": threadID}},
		})
		if pullErr != nil {
			log.Printf("Failed to remove expired mute for user %s thread %s: %v",
				userID.String(), threadID.String(), pullErr)
		}
		return false, nil
	}
	return false, nil
}

// Block adds target to the user's blocked set and mutes any existing 1:1
// thread with them, silencing future notifications without deleting
// history.
func (s *privacyService) Block(ctx context.Context, userID, targetID utils.SixID) error {
	if userID == targetID {
		return apperr.Validation("cannot block yourself")
	}

	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{
			"$addToSet": bson.M{"blocked": targetID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("failed to block user %s: %w", targetID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("user %s not found", userID.String())
	}

	// Mute every existing 1:1 thread between the two users.
	threadIDs, err := s.directThreadsBetween(ctx, userID, targetID)
	if err != nil {
		log.Printf("Block %s -> %s succeeded but 1:1 mute sweep failed: %v",
			userID.String(), targetID.String(), err)
		return nil
	}
	for _, threadID := range threadIDs {
		if err := s.Mute(ctx, userID, threadID, nil); err != nil {
			log.Printf("Failed to auto-mute thread %s after block: %v", threadID.String(), err)
		}
	}
	return nil
}

func (s *privacyService) Unblock(ctx context.Context, userID, targetID utils.SixID) error {
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{
			"$pull": bson.M{"blocked": targetID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("failed to unblock user %s: %w", targetID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("user %s not found", userID.String())
	}
	return nil
}

func (s *privacyService) Mute(ctx context.Context, userID, threadID utils.SixID, until *time.Time) error {
	users := s.db.Collection(usersCollection)

	// Replace any existing entry for the thread so a re-mute updates the
	// expiry instead of stacking.
	_, err := users.UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{"$pull": bson.M{"mutes": bson.M{"thread_id": threadID}}})
	if err != nil {
		return fmt.Errorf("failed to clear existing mute: %w", err)
	}

	result, err := users.UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{
			"$push": bson.M{"mutes": models.ThreadMute{ThreadID: threadID, Until: until}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("failed to mute thread %s: %w", threadID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("user %s not found", userID.String())
	}
	return nil
}

func (s *privacyService) Unmute(ctx context.Context, userID, threadID utils.SixID) error {
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "deleted": false},
		bson.M{
			"$pull": bson.M{"mutes": bson.M{"thread_id": threadID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("failed to unmute thread %s: %w", threadID.String(), err)
	}
	if result.MatchedCount == 0 {
		return apperr.NotFound("user %s not found", userID.String())
	}
	return nil
}

// directThreadsBetween finds the pair's 1:1 TENANT_CHAT threads. Sessions
// are keyed by the deterministic pair key, so this is a single indexed
// lookup on the tuple.
func (s *privacyService) directThreadsBetween(ctx context.Context, a, b utils.SixID) ([]utils.SixID, error) {
	cursor, err := s.db.Collection(threadsCollection).Find(ctx, bson.M{
		"linked_entity_type": models.EntityTenantChat,
		"linked_entity_id":   sessionKey(a, b),
		"thread_type":        models.ThreadTenantTenant,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var threads []models.Thread
	if err = cursor.All(ctx, &threads); err != nil {
		return nil, err
	}

	out := make([]utils.SixID, 0, len(threads))
	for _, th := range threads {
		out = append(out, th.ID)
	}
	return out, nil
}
