package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"hearthside/comms/internal/config"
	"hearthside/comms/internal/email"
)

// Task types.
const (
	TypeNotificationEmail = "notification:email"
)

// NotificationEmailPayload is the queued form of an email-channel
// notification. The address is resolved at enqueue time so the worker
// does not need a directory lookup.
type NotificationEmailPayload struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewClient builds an asynq client on the shared Redis instance.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	})
}

// NewNotificationEmailTask wraps a payload into an asynq task.
func NewNotificationEmailTask(p NotificationEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email notification payload: %w", err)
	}
	return asynq.NewTask(TypeNotificationEmail, data), nil
}

// TaskProcessor holds the dependencies task handlers need.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
}

func NewTaskProcessor(cfg *config.Config, emailSender email.Sender) *TaskProcessor {
	return &TaskProcessor{cfg: cfg, emailSender: emailSender}
}

// HandleNotificationEmailTask delivers one queued notification email.
func (p *TaskProcessor) HandleNotificationEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload NotificationEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email notification payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Email == "" {
		log.Printf("Skipping email notification for user %s: no address", payload.UserID)
		return nil
	}

	raw := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		p.cfg.SmtpFromAddress, payload.Email, payload.Subject, payload.Body))
	return p.emailSender.Send(ctx, []string{payload.Email}, payload.Subject, raw)
}

// SetupServer configures the asynq server and registers handlers.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) *asynq.Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		asynq.Config{
			Queues: map[string]int{
				"default": 5,
				"low":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Error: %v", task.Type(), err)
			}),
		},
	)
	return srv
}

// NewMux registers task handlers.
func NewMux(processor *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotificationEmail, processor.HandleNotificationEmailTask)
	return mux
}
