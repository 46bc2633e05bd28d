package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"hearthside/comms/internal/api/handlers"
	"hearthside/comms/internal/api/middleware"
	"hearthside/comms/internal/config"
	"hearthside/comms/internal/realtime"
	"hearthside/comms/internal/services"
	"hearthside/comms/internal/storage"
)

// Services bundles the service graph the router exposes. Built once in
// BuildServices and shared with the events subscriber.
type Services struct {
	Directory    services.IDirectoryService
	Privacy      services.IPrivacyService
	Notification services.INotificationService
	Participants services.IParticipantService
	Threads      services.IThreadService
	Messages     services.IMessageService
	Chat         services.IChatService
	Provisioning services.IProvisioningService
	Media        storage.IMediaService
	Registry     realtime.Registry
}

// BuildServices wires the full service graph.
func BuildServices(cfg *config.Config, client *mongo.Client, db *mongo.Database,
	rdb *redis.Client, taskClient services.IAsynqClient) (*Services, error) {

	media, err := storage.NewS3Media(cfg)
	if err != nil {
		return nil, err
	}

	registry := realtime.NewRegistry(rdb, cfg.PresenceTTL)
	directory := services.NewDirectoryService(db)
	privacy := services.NewPrivacyService(db)
	prefs := services.NewPreferenceStore(db)
	notification := services.NewNotificationService(db, prefs, privacy, registry, taskClient, directory)
	participants := services.NewParticipantService(client, db)
	threads := services.NewThreadService(db, participants, directory)
	messages := services.NewMessageService(db, media, privacy, notification)
	chat := services.NewChatService(db, threads, participants, privacy, directory, notification)
	provisioning := services.NewProvisioningService(threads, participants, directory, notification)

	return &Services{
		Directory:    directory,
		Privacy:      privacy,
		Notification: notification,
		Participants: participants,
		Threads:      threads,
		Messages:     messages,
		Chat:         chat,
		Provisioning: provisioning,
		Media:        media,
		Registry:     registry,
	}, nil
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, svc *Services) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	threadHandler := handlers.NewRestThreadHandler(svc.Threads, svc.Participants)
	messageHandler := handlers.NewRestMessageHandler(svc.Messages, svc.Media)
	chatHandler := handlers.NewRestChatHandler(svc.Chat)
	privacyHandler := handlers.NewRestPrivacyHandler(svc.Privacy)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.POST("/thread", threadHandler.CreateThread)
			authRequired.GET("/thread/by-entity/:entity_type/:entity_id", threadHandler.ListByEntity)
			authRequired.GET("/thread/:id", threadHandler.GetThread)
			authRequired.PATCH("/thread/:id", threadHandler.UpdateThread)
			authRequired.POST("/thread/:id/transfer-ownership", threadHandler.TransferOwnership)
			authRequired.POST("/thread/:id/accept", threadHandler.AcceptParticipation)
			authRequired.POST("/thread/:id/decline", threadHandler.DeclineParticipation)
			authRequired.POST("/thread/:id/clear-history", threadHandler.ClearHistory)

			authRequired.POST("/thread/:id/message", messageHandler.AppendMessage)
			authRequired.GET("/thread/:id/message", messageHandler.ListMessages)
			authRequired.PATCH("/thread/:id/message/:message_id", messageHandler.EditMessage)
			authRequired.DELETE("/thread/:id/message/:message_id", messageHandler.DeleteMessage)
			authRequired.POST("/thread/:id/read", messageHandler.MarkRead)
			authRequired.POST("/thread/:id/media/presign", messageHandler.PresignUpload)

			authRequired.POST("/chat/session", chatHandler.CreateSession)
			authRequired.POST("/chat/group", chatHandler.CreateGroup)
			authRequired.POST("/chat/group/:id/members", chatHandler.AddMember)
			authRequired.DELETE("/chat/group/:id/members/:user_id", chatHandler.RemoveMember)
			authRequired.POST("/chat/group/:id/leave", chatHandler.Leave)

			authRequired.POST("/privacy/block/:user_id", privacyHandler.BlockUser)
			authRequired.DELETE("/privacy/block/:user_id", privacyHandler.UnblockUser)
			authRequired.POST("/privacy/mute/:thread_id", privacyHandler.MuteThread)
			authRequired.DELETE("/privacy/mute/:thread_id", privacyHandler.UnmuteThread)
		}
	}

	log.Printf("Router configured with %d routes", len(r.Routes()))
	return r
}
