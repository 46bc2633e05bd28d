package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hearthside/comms/internal/db"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

const (
	threadsCollection      = "threads"
	participantsCollection = "thread_participants"
	messagesCollection     = "thread_messages"
)

// loadThread fetches a thread document or mongo.ErrNoDocuments.
func loadThread(ctx context.Context, database *mongo.Database, threadID utils.SixID) (*models.Thread, error) {
	var thread models.Thread
	err := database.Collection(threadsCollection).FindOne(ctx, bson.M{"_id": threadID}).Decode(&thread)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error loading thread %s: %w", threadID.String(), err)
	}
	return &thread, nil
}

// loadParticipants returns every participant record of a thread.
func loadParticipants(ctx context.Context, database *mongo.Database, threadID utils.SixID) ([]models.ThreadParticipant, error) {
	cursor, err := database.Collection(participantsCollection).Find(ctx,
		bson.M{"thread_id": threadID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query participants of thread %s: %w", threadID.String(), err)
	}
	defer cursor.Close(ctx)

	var participants []models.ThreadParticipant
	if err = cursor.All(ctx, &participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	return participants, nil
}

// findParticipant fetches one participant record or mongo.ErrNoDocuments.
func findParticipant(ctx context.Context, database *mongo.Database, threadID utils.SixID, p models.Party) (*models.ThreadParticipant, error) {
	var participant models.ThreadParticipant
	err := database.Collection(participantsCollection).FindOne(ctx, bson.M{
		"thread_id":        threadID,
		"participant_type": p.Role,
		"participant_id":   p.ID,
	}).Decode(&participant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error loading participant %s of thread %s: %w", p.String(), threadID.String(), err)
	}
	return &participant, nil
}

// findParticipantByID fetches a participant record by user id alone,
// whatever role they were seeded under, or mongo.ErrNoDocuments.
func findParticipantByID(ctx context.Context, database *mongo.Database, threadID, participantID utils.SixID) (*models.ThreadParticipant, error) {
	var participant models.ThreadParticipant
	err := database.Collection(participantsCollection).FindOne(ctx, bson.M{
		"thread_id":      threadID,
		"participant_id": participantID,
	}).Decode(&participant)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error loading participant %s of thread %s: %w", participantID.String(), threadID.String(), err)
	}
	return &participant, nil
}

// loadUser fetches a live user document or mongo.ErrNoDocuments.
func loadUser(ctx context.Context, database *mongo.Database, userID utils.SixID) (*models.User, error) {
	var user models.User
	err := database.Collection(usersCollection).
		FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error loading user %s: %w", userID.String(), err)
	}
	return &user, nil
}

// insertSystemMessage records a structural change to the thread as a
// message. System messages carry no sender and are immutable to users.
func insertSystemMessage(ctx context.Context, database *mongo.Database, threadID utils.SixID,
	kind models.SystemMessageType, payload *models.SystemPayload, content string) (*models.ThreadMessage, error) {

	now := time.Now().UTC()
	var msg *models.ThreadMessage

	operation := func() error {
		msg = &models.ThreadMessage{
			Base:              models.NewBase(),
			ThreadID:          threadID,
			Content:           content,
			IsSystemMessage:   true,
			SystemMessageType: kind,
			Payload:           payload,
			ReadBy:            []utils.SixID{},
			CreatedAt:         now,
		}
		_, insertErr := database.Collection(messagesCollection).InsertOne(ctx, msg)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert %s system message for thread %s: %w",
			kind, threadID.String(), err)
	}

	touchThread(ctx, database, threadID, now)
	return msg, nil
}

// touchThread bumps the thread's updated_at; failures are ignored since the
// timestamp is advisory ordering metadata.
func touchThread(ctx context.Context, database *mongo.Database, threadID utils.SixID, at time.Time) {
	_, _ = database.Collection(threadsCollection).UpdateByID(ctx, threadID,
		bson.M{"$set": bson.M{"updated_at": at}})
}
