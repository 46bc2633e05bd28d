package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hearthside/comms/internal/apperr"
	appdb "hearthside/comms/internal/db"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/storage"
	"hearthside/comms/internal/utils"
)

// MessageEvent is the realtime payload broadcast on message mutations.
type MessageEvent struct {
	Kind    string                `json:"kind"` // "created", "edited", "deleted"
	Message *models.ThreadMessage `json:"message"`
}

// IMessageService owns the message stream: authorization-gated append and
// read, attachment linkage, edit/delete restrictions and read receipts.
type IMessageService interface {
	Append(ctx context.Context, threadID utils.SixID, sender models.Party, content string, attachments []models.MediaRef) (*models.ThreadMessage, error)
	List(ctx context.Context, threadID utils.SixID, reader *models.Party) ([]models.ThreadMessage, error)
	Edit(ctx context.Context, threadID, messageID utils.SixID, editor models.Party, newContent string) (*models.ThreadMessage, error)
	Delete(ctx context.Context, threadID, messageID utils.SixID, actor models.Party) error
	MarkRead(ctx context.Context, threadID utils.SixID, reader models.Party) error
}

type messageService struct {
	db            *mongo.Database
	media         storage.IMediaService
	privacy       IPrivacyService
	notifications INotificationService
}

// NewMessageService creates a MessageService.
func NewMessageService(database *mongo.Database, media storage.IMediaService,
	privacy IPrivacyService, notifications INotificationService) IMessageService {
	return &messageService{
		db:            database,
		media:         media,
		privacy:       privacy,
		notifications: notifications,
	}
}

func validateContent(content string) error {
	if content == "" {
		return apperr.Validation("message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > models.MaxMessageRunes {
		return apperr.Validation("message content exceeds %d characters", models.MaxMessageRunes)
	}
	return nil
}

// Append posts a user message. The sender must be an ACTIVE or ACCEPTED
// participant; attachments are linked after the insert, and an attachment
// failure compensates by deleting the just-created message so none exists
// without its promised attachment. Notification dispatch never fails the
// append.
func (s *messageService) Append(ctx context.Context, threadID utils.SixID, sender models.Party,
	content string, attachments []models.MediaRef) (*models.ThreadMessage, error) {

	if err := validateContent(content); err != nil {
		return nil, err
	}

	thread, err := loadThread(ctx, s.db, threadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("thread %s not found", threadID.String())
		}
		return nil, err
	}

	participant, err := findParticipant(ctx, s.db, threadID, sender)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.Forbidden("%s is not a participant of thread %s", sender.String(), threadID.String())
		}
		return nil, err
	}
	if !participant.Status.CanPost() {
		return nil, apperr.Forbidden("participant %s cannot post in status %s", sender.String(), participant.Status)
	}

	// A block in either direction stops 1:1 sends. Group messages go
	// through and are filtered from the blocked reader's view instead.
	if thread.ThreadType == models.ThreadTenantTenant {
		others, err := loadParticipants(ctx, s.db, threadID)
		if err != nil {
			return nil, err
		}
		for _, other := range others {
			if other.ParticipantID == sender.ID {
				continue
			}
			blocked, err := s.privacy.EitherBlocked(ctx, sender.ID, other.ParticipantID)
			if err != nil {
				return nil, err
			}
			if blocked {
				return nil, apperr.Forbidden("messaging between these users is blocked")
			}
		}
	}

	now := time.Now().UTC()
	var msg *models.ThreadMessage
	operation := func() error {
		msg = &models.ThreadMessage{
			Base:       models.NewBase(),
			ThreadID:   threadID,
			Content:    content,
			SenderType: sender.Role,
			SenderID:   sender.ID,
			ReadBy:     []utils.SixID{sender.ID},
			CreatedAt:  now,
		}
		_, insertErr := s.db.Collection(messagesCollection).InsertOne(ctx, msg)
		return insertErr
	}
	if err := appdb.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert message in thread %s: %w", threadID.String(), err)
	}

	if len(attachments) > 0 {
		if err := s.media.Attach(ctx, attachments); err != nil {
			// Compensating delete: no orphaned message without its media.
			if _, delErr := s.db.Collection(messagesCollection).DeleteOne(ctx, bson.M{"_id": msg.ID}); delErr != nil {
				log.Printf("CRITICAL: failed to roll back message %s after attachment failure: %v",
					msg.ID.String(), delErr)
			}
			return nil, err
		}
		_, err = s.db.Collection(messagesCollection).UpdateByID(ctx, msg.ID,
			bson.M{"$set": bson.M{"attachments": attachments}})
		if err != nil {
			if _, delErr := s.db.Collection(messagesCollection).DeleteOne(ctx, bson.M{"_id": msg.ID}); delErr != nil {
				log.Printf("CRITICAL: failed to roll back message %s after attachment link failure: %v",
					msg.ID.String(), delErr)
			}
			return nil, fmt.Errorf("failed to link attachments to message %s: %w", msg.ID.String(), err)
		}
		msg.Attachments = attachments
	}

	touchThread(ctx, s.db, threadID, now)
	s.fanOut(ctx, thread, msg, sender)
	return msg, nil
}

// fanOut notifies the opposite party or parties and routes the realtime
// event; failures are logged and absorbed.
func (s *messageService) fanOut(ctx context.Context, thread *models.Thread, msg *models.ThreadMessage, sender models.Party) {
	participants, err := loadParticipants(ctx, s.db, thread.ID)
	if err != nil {
		log.Printf("Fan-out aborted for thread %s: %v", thread.ID.String(), err)
		return
	}

	category := models.NotifyNewMessage
	body := msg.Content
	if len(msg.Attachments) > 0 {
		category = models.NotifyNewAttachment
		body = "Sent an attachment"
	}

	var recipients []utils.SixID
	var broadcast []utils.SixID
	for _, p := range participants {
		if p.ParticipantID == sender.ID {
			continue
		}
		broadcast = append(broadcast, p.ParticipantID)
		if !p.Status.Engaged() {
			continue
		}
		// Notifications go to the opposite side only: a co-landlord sees
		// the message in the thread without being pinged about it. Peer
		// and group chat members all share the generic role, where the
		// sides distinction does not apply.
		if sender.Role != models.RoleUser && p.ParticipantType == sender.Role {
			continue
		}
		// A reader who blocked the sender gets neither copy.
		blocked, err := s.privacy.IsBlocked(ctx, p.ParticipantID, sender.ID)
		if err != nil {
			log.Printf("Block check failed during fan-out for %s: %v", p.ParticipantID.String(), err)
			continue
		}
		if blocked {
			continue
		}
		recipients = append(recipients, p.ParticipantID)
	}

	actionURL := fmt.Sprintf("/threads/%s", thread.ID.String())
	s.notifications.NotifyMany(ctx, recipients, thread.ID, category, thread.Title, body, actionURL)
	s.notifications.BroadcastToThread(ctx, broadcast, &MessageEvent{Kind: "created", Message: msg})
}

// List returns the thread's messages oldest to newest. With a reader
// supplied, the reader must be an ACTIVE or ACCEPTED participant; their
// cleared_at hides earlier messages, group messages from senders the
// reader blocked are filtered out, and attachment URLs are refreshed.
func (s *messageService) List(ctx context.Context, threadID utils.SixID, reader *models.Party) ([]models.ThreadMessage, error) {
	thread, err := loadThread(ctx, s.db, threadID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("thread %s not found", threadID.String())
		}
		return nil, err
	}

	filter := bson.M{"thread_id": threadID}
	var blockedSenders map[utils.SixID]bool

	if reader != nil {
		participant, err := findParticipant(ctx, s.db, threadID, *reader)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, apperr.Forbidden("%s is not a participant of thread %s", reader.String(), threadID.String())
			}
			return nil, err
		}
		if !participant.Status.CanPost() {
			return nil, apperr.Forbidden("participant %s cannot read in status %s", reader.String(), participant.Status)
		}
		if participant.ClearedAt != nil {
			filter["created_at"] = bson.M{"$gt": *participant.ClearedAt}
		}

		if models.IsGroupThreadType(thread.ThreadType) {
			user, err := loadUser(ctx, s.db, reader.ID)
			if err == nil && len(user.Blocked) > 0 {
				blockedSenders = make(map[utils.SixID]bool, len(user.Blocked))
				for _, id := range user.Blocked {
					blockedSenders[id] = true
				}
			}
		}
	}

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query messages of thread %s: %w", threadID.String(), err)
	}
	defer cursor.Close(ctx)

	var messages []models.ThreadMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	out := messages[:0]
	for _, m := range messages {
		if blockedSenders != nil && !m.IsSystemMessage && blockedSenders[m.SenderID] {
			continue
		}
		if len(m.Attachments) > 0 {
			enriched, err := s.media.EnrichWithURL(ctx, m.Attachments)
			if err != nil {
				log.Printf("Failed to refresh attachment URLs for message %s: %v", m.ID.String(), err)
			} else {
				m.Attachments = enriched
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// Edit lets the original sender change content. System messages are never
// editable. The first edit snapshots the original content; later edits
// leave that snapshot alone.
func (s *messageService) Edit(ctx context.Context, threadID, messageID utils.SixID, editor models.Party, newContent string) (*models.ThreadMessage, error) {
	if err := validateContent(newContent); err != nil {
		return nil, err
	}

	msg, err := s.loadMessage(ctx, threadID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsSystemMessage {
		return nil, apperr.Forbidden("system messages cannot be edited")
	}
	if !msg.SentBy(editor) {
		return nil, apperr.Forbidden("only the original sender may edit a message")
	}

	now := time.Now().UTC()
	set := bson.M{
		"content":   newContent,
		"is_edited": true,
		"edited_at": now,
	}
	if !msg.IsEdited {
		set["original_content"] = msg.Content
	}
	var updated models.ThreadMessage
	err = s.db.Collection(messagesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": messageID, "thread_id": threadID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to edit message %s: %w", messageID.String(), err)
	}

	s.broadcastToParticipants(ctx, threadID, &MessageEvent{Kind: "edited", Message: &updated})
	return &updated, nil
}

// Delete hard-deletes a user message and its attachments. Only the
// original sender may delete; system messages never.
func (s *messageService) Delete(ctx context.Context, threadID, messageID utils.SixID, actor models.Party) error {
	msg, err := s.loadMessage(ctx, threadID, messageID)
	if err != nil {
		return err
	}
	if msg.IsSystemMessage {
		return apperr.Forbidden("system messages cannot be deleted")
	}
	if !msg.SentBy(actor) {
		return apperr.Forbidden("only the original sender may delete a message")
	}

	result, err := s.db.Collection(messagesCollection).DeleteOne(ctx,
		bson.M{"_id": messageID, "thread_id": threadID})
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID.String(), err)
	}
	if result.DeletedCount == 0 {
		return apperr.NotFound("message %s not found", messageID.String())
	}

	if len(msg.Attachments) > 0 {
		keys := make([]string, len(msg.Attachments))
		for i, a := range msg.Attachments {
			keys[i] = a.Key
		}
		// Media cleanup is best-effort; the message is already gone.
		if err := s.media.Delete(ctx, keys); err != nil {
			log.Printf("Failed to cascade attachment deletion for message %s: %v", messageID.String(), err)
		}
	}

	s.broadcastToParticipants(ctx, threadID, &MessageEvent{Kind: "deleted", Message: msg})
	return nil
}

// MarkRead adds the reader to read_by on every message in the thread they
// did not author. Cleared history is still receipt-counted: clearing hides
// display, it does not rewrite who has seen what.
func (s *messageService) MarkRead(ctx context.Context, threadID utils.SixID, reader models.Party) error {
	if _, err := findParticipant(ctx, s.db, threadID, reader); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return apperr.Forbidden("%s is not a participant of thread %s", reader.String(), threadID.String())
		}
		return err
	}

	_, err := s.db.Collection(messagesCollection).UpdateMany(ctx,
		bson.M{
			"thread_id": threadID,
			"sender_id": bson.M{"$ne": reader.ID},
		},
		bson.M{"$addToSet": bson.M{"read_by": reader.ID}})
	if err != nil {
		return fmt.Errorf("failed to mark thread %s read for %s: %w", threadID.String(), reader.String(), err)
	}
	return nil
}

func (s *messageService) loadMessage(ctx context.Context, threadID, messageID utils.SixID) (*models.ThreadMessage, error) {
	var msg models.ThreadMessage
	err := s.db.Collection(messagesCollection).
		FindOne(ctx, bson.M{"_id": messageID, "thread_id": threadID}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("message %s not found in thread %s", messageID.String(), threadID.String())
		}
		return nil, fmt.Errorf("error loading message %s: %w", messageID.String(), err)
	}
	return &msg, nil
}

func (s *messageService) broadcastToParticipants(ctx context.Context, threadID utils.SixID, event *MessageEvent) {
	participants, err := loadParticipants(ctx, s.db, threadID)
	if err != nil {
		log.Printf("Broadcast aborted for thread %s: %v", threadID.String(), err)
		return
	}
	ids := make([]utils.SixID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ParticipantID)
	}
	s.notifications.BroadcastToThread(ctx, ids, event)
}
