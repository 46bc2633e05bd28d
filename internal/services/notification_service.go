package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hearthside/comms/internal/db"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/realtime"
	"hearthside/comms/internal/tasks"
	"hearthside/comms/internal/utils"
)

const notificationsCollection = "notifications"

// IAsynqClient is the slice of asynq.Client the notifier needs; it exists
// so tests can capture enqueued tasks.
type IAsynqClient interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// IPreferenceStore answers whether a user wants a notification on a given
// channel. Preference storage itself is owned elsewhere; this is the
// narrow read interface the engine consumes.
type IPreferenceStore interface {
	ShouldSend(ctx context.Context, userID utils.SixID, category models.NotificationCategory, channel models.Channel) (bool, error)
}

type preferenceStore struct {
	db *mongo.Database
}

// NewPreferenceStore reads preferences off the user document. Users without
// stored preferences get the defaults.
func NewPreferenceStore(database *mongo.Database) IPreferenceStore {
	return &preferenceStore{db: database}
}

func (s *preferenceStore) ShouldSend(ctx context.Context, userID utils.SixID, category models.NotificationCategory, channel models.Channel) (bool, error) {
	var user models.User
	err := s.db.Collection(usersCollection).
		FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load preferences for user %s: %w", userID.String(), err)
	}

	prefs := user.NotificationPreferences
	if prefs == nil {
		prefs = models.DefaultNotificationPreferences()
	}

	switch category {
	case models.NotifyNewMessage, models.NotifyNewAttachment:
		switch channel {
		case models.ChannelInApp:
			return prefs.MessagesInApp, nil
		case models.ChannelEmail:
			return prefs.MessagesEmail, nil
		case models.ChannelSMS:
			return prefs.MessagesSMS, nil
		}
	case models.NotifyInvitation, models.NotifyNewChannel:
		switch channel {
		case models.ChannelInApp:
			return prefs.InvitationsInApp, nil
		case models.ChannelEmail:
			return prefs.InvitationsEmail, nil
		case models.ChannelSMS:
			return false, nil
		}
	}
	return false, nil
}

// INotificationService is the fan-out boundary. Every method absorbs its
// own failures: notification delivery must never fail the mutation that
// triggered it.
type INotificationService interface {
	// NotifyUser delivers one notification through every channel the user
	// has enabled, honoring thread mutes when threadID is non-zero.
	NotifyUser(ctx context.Context, userID utils.SixID, threadID utils.SixID,
		category models.NotificationCategory, title, body, actionURL string)
	// NotifyMany fans NotifyUser out over a set of users.
	NotifyMany(ctx context.Context, userIDs []utils.SixID, threadID utils.SixID,
		category models.NotificationCategory, title, body, actionURL string)
	// BroadcastToThread routes a realtime payload to every given user.
	BroadcastToThread(ctx context.Context, userIDs []utils.SixID, payload any)
}

type notificationService struct {
	db         *mongo.Database
	prefs      IPreferenceStore
	privacy    IPrivacyService
	registry   realtime.Registry
	taskClient IAsynqClient
	directory  IDirectoryService
}

// NewNotificationService wires the fan-out pipeline: preference check,
// mute check, in-app persistence + realtime routing, then the email queue.
func NewNotificationService(database *mongo.Database, prefs IPreferenceStore, privacy IPrivacyService,
	registry realtime.Registry, taskClient IAsynqClient, directory IDirectoryService) INotificationService {
	return &notificationService{
		db:         database,
		prefs:      prefs,
		privacy:    privacy,
		registry:   registry,
		taskClient: taskClient,
		directory:  directory,
	}
}

func (s *notificationService) NotifyUser(ctx context.Context, userID utils.SixID, threadID utils.SixID,
	category models.NotificationCategory, title, body, actionURL string) {

	if !threadID.IsZero() {
		muted, err := s.privacy.IsMuted(ctx, userID, threadID)
		if err != nil {
			log.Printf("Mute check failed for user %s thread %s, skipping notification: %v",
				userID.String(), threadID.String(), err)
			return
		}
		if muted {
			return
		}
	}

	if ok, err := s.prefs.ShouldSend(ctx, userID, category, models.ChannelInApp); err == nil && ok {
		s.sendInApp(ctx, userID, category, title, body, actionURL)
	} else if err != nil {
		log.Printf("In-app preference lookup failed for user %s: %v", userID.String(), err)
	}

	if ok, err := s.prefs.ShouldSend(ctx, userID, category, models.ChannelEmail); err == nil && ok {
		s.enqueueEmail(ctx, userID, title, body)
	} else if err != nil {
		log.Printf("Email preference lookup failed for user %s: %v", userID.String(), err)
	}
}

func (s *notificationService) NotifyMany(ctx context.Context, userIDs []utils.SixID, threadID utils.SixID,
	category models.NotificationCategory, title, body, actionURL string) {
	for _, id := range userIDs {
		s.NotifyUser(ctx, id, threadID, category, title, body, actionURL)
	}
}

func (s *notificationService) BroadcastToThread(ctx context.Context, userIDs []utils.SixID, payload any) {
	for _, id := range userIDs {
		s.registry.RouteToUser(ctx, id, payload)
	}
}

// sendInApp persists the notification and routes it to any live
// connections.
func (s *notificationService) sendInApp(ctx context.Context, userID utils.SixID,
	category models.NotificationCategory, title, body, actionURL string) {

	notification := &models.InAppNotification{
		UserID:    userID,
		Category:  category,
		Title:     title,
		Body:      body,
		ActionURL: actionURL,
		CreatedAt: time.Now().UTC(),
	}
	operation := func() error {
		notification.Base = models.NewBase()
		_, err := s.db.Collection(notificationsCollection).InsertOne(ctx, notification)
		return err
	}
	if err := db.Try(operation); err != nil {
		log.Printf("Failed to persist in-app notification for user %s: %v", userID.String(), err)
		return
	}
	s.registry.RouteToUser(ctx, userID, notification)
}

func (s *notificationService) enqueueEmail(ctx context.Context, userID utils.SixID, subject, body string) {
	user, err := s.directory.FindUser(ctx, userID)
	if err != nil {
		log.Printf("Cannot resolve email address for user %s: %v", userID.String(), err)
		return
	}
	task, err := tasks.NewNotificationEmailTask(tasks.NotificationEmailPayload{
		UserID:  userID.String(),
		Email:   user.Email,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		log.Printf("Failed to build email notification task for user %s: %v", userID.String(), err)
		return
	}
	if _, err := s.taskClient.Enqueue(task); err != nil {
		log.Printf("Failed to enqueue email notification for user %s: %v", userID.String(), err)
	}
}
