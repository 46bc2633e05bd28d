package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"hearthside/comms/internal/api"
	"hearthside/comms/internal/cache"
	"hearthside/comms/internal/config"
	"hearthside/comms/internal/db"
	"hearthside/comms/internal/email"
	"hearthside/comms/internal/events"
	"hearthside/comms/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'events' (provisioning subscriber), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	ctxIdx, cancelIdx := context.WithTimeout(context.Background(), 15*time.Second)
	if err := db.EnsureIndexes(ctxIdx, mongoDb); err != nil {
		cancelIdx()
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIdx()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	emailSender := email.NewSMTPSender(cfg)

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	taskProcessor := tasks.NewTaskProcessor(cfg, emailSender)

	svc, err := api.BuildServices(cfg, mongoClient, mongoDb, redisClient, taskClient)
	if err != nil {
		log.Fatalf("Failed to build services: %v", err)
	}

	var wg sync.WaitGroup

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	var subscriber *events.Subscriber

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		mainApiRouter := api.SetupRouter(cfg, svc)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		backgroundTaskSrv = tasks.SetupServer(redisClient, taskProcessor)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Println("Background task server starting...")
			if err := backgroundTaskSrv.Run(tasks.NewMux(taskProcessor)); err != nil {
				log.Fatalf("Background task server error: %v", err)
			}
			fmt.Println("Background task server stopped.")
		}()
	}

	eventsMode := func() {
		if cfg.AmqpURL == "" {
			log.Println("AMQP_URL not set, provisioning subscriber disabled.")
			return
		}
		fmt.Println("Starting provisioning event subscriber...")
		logger := slog.Default()
		dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer dialCancel()
		conn, err := events.DialWithRetry(dialCtx, events.DialOptions{
			URL:      cfg.AmqpURL,
			Attempts: cfg.AmqpDialAttempts,
			Delay:    time.Second,
			Logger:   logger,
		})
		if err != nil {
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		subscriber, err = events.NewSubscriber(conn, cfg.AmqpExchange, logger, svc.Provisioning, 4)
		if err != nil {
			log.Fatalf("Failed to create event subscriber: %v", err)
		}
		if err := subscriber.Start(cfg.AmqpQueue); err != nil {
			log.Fatalf("Failed to start event subscriber: %v", err)
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "events":
		eventsMode()
	case "all":
		apiMode()
		bgMode()
		eventsMode()
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}
	if subscriber != nil {
		fmt.Println("Shutting down event subscriber...")
		if err := subscriber.Close(); err != nil {
			log.Printf("Event subscriber shutdown error: %v", err)
		}
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}
