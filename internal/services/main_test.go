package services

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hearthside/comms/internal/apperr"
	"hearthside/comms/internal/models"
	"hearthside/comms/internal/utils"
)

var testMongoURI string

func init() {
	godotenv.Load("../../.env")
	testMongoURI = os.Getenv("MONGO_URI_TEST")
	if testMongoURI == "" {
		testMongoURI = "mongodb://localhost:27017"
	}
}

func connectTest(t *testing.T) *mongo.Client {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func setupTestDB(t *testing.T, dbName string) (*mongo.Client, *mongo.Database) {
	t.Helper()
	client := connectTest(t)
	db := client.Database(dbName)
	for _, coll := range []string{
		threadsCollection, participantsCollection, messagesCollection,
		usersCollection, ticketsCollection, scopesCollection,
		leasesCollection, propertiesCollection, notificationsCollection,
	} {
		_ = db.Collection(coll).Drop(context.Background())
	}
	return client, db
}

// --- fixtures ---

func seedUser(t *testing.T, db *mongo.Database, role models.Role, name string, orgID utils.SixID) *models.User {
	t.Helper()
	user := &models.User{
		Base:                models.NewBase(),
		Name:                name,
		Email:               name + "@example.test",
		OrganizationID:      orgID,
		Role:                role,
		AllowDirectMessages: true,
		AllowGroupInvites:   true,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	_, err := db.Collection(usersCollection).InsertOne(context.Background(), user)
	require.NoError(t, err)
	return user
}

func seedThread(t *testing.T, threads IThreadService, entityType models.EntityType,
	entityID utils.SixID, threadType models.ThreadType, parties ...models.Party) *models.Thread {
	t.Helper()
	thread, err := threads.Create(context.Background(), CreateThreadInput{
		LinkedEntityType: entityType,
		LinkedEntityID:   entityID,
		ThreadType:       threadType,
		Title:            "test thread",
		Participants:     parties,
	})
	require.NoError(t, err)
	return thread
}

// --- collaborator mocks ---

type notifyCall struct {
	UserID   utils.SixID
	ThreadID utils.SixID
	Category models.NotificationCategory
	Title    string
	Body     string
}

// mockNotificationService records deliveries instead of dispatching them.
type mockNotificationService struct {
	mu         sync.Mutex
	calls      []notifyCall
	broadcasts []any
}

func (m *mockNotificationService) NotifyUser(ctx context.Context, userID utils.SixID, threadID utils.SixID,
	category models.NotificationCategory, title, body, actionURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notifyCall{UserID: userID, ThreadID: threadID, Category: category, Title: title, Body: body})
}

func (m *mockNotificationService) NotifyMany(ctx context.Context, userIDs []utils.SixID, threadID utils.SixID,
	category models.NotificationCategory, title, body, actionURL string) {
	for _, id := range userIDs {
		m.NotifyUser(ctx, id, threadID, category, title, body, actionURL)
	}
}

func (m *mockNotificationService) BroadcastToThread(ctx context.Context, userIDs []utils.SixID, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, payload)
}

func (m *mockNotificationService) callsFor(userID utils.SixID) []notifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifyCall
	for _, c := range m.calls {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// mockMediaService validates against the allow-list without touching S3.
type mockMediaService struct {
	attachErr  error
	deleted    [][]string
	deletedMu  sync.Mutex
	attachedMu sync.Mutex
	attached   [][]models.MediaRef
}

func (m *mockMediaService) GeneratePresignedPutURL(ctx context.Context, actor models.Party, threadID, filename, contentType string) (string, string, error) {
	return "https://bucket.test/" + filename, "threads/" + threadID + "/" + filename, nil
}

func (m *mockMediaService) Attach(ctx context.Context, refs []models.MediaRef) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	for _, ref := range refs {
		if ref.ContentType != "image/jpeg" && ref.ContentType != "image/png" &&
			ref.ContentType != "image/webp" && ref.ContentType != "image/gif" &&
			ref.ContentType != "application/pdf" {
			return apperr.Validation("media type %q is not allowed", ref.ContentType)
		}
	}
	m.attachedMu.Lock()
	m.attached = append(m.attached, refs)
	m.attachedMu.Unlock()
	return nil
}

func (m *mockMediaService) EnrichWithURL(ctx context.Context, refs []models.MediaRef) ([]models.MediaRef, error) {
	out := make([]models.MediaRef, len(refs))
	for i, ref := range refs {
		ref.URL = "https://bucket.test/" + ref.Key
		out[i] = ref
	}
	return out, nil
}

func (m *mockMediaService) Delete(ctx context.Context, keys []string) error {
	m.deletedMu.Lock()
	defer m.deletedMu.Unlock()
	m.deleted = append(m.deleted, keys)
	return nil
}
