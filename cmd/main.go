/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment gateway client, message brokers, repositories, the
 * core application service, the websocket hub, the cron scheduler and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/hub, internal/jobs, internal/penalty, internal/store: Internal packages.
 * - pkg/paygate, pkg/rabbitmq: For external service communication.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/tenantly/billing-service/internal/api"
	"github.com/tenantly/billing-service/internal/app"
	"github.com/tenantly/billing-service/internal/config"
	"github.com/tenantly/billing-service/internal/domain"
	"github.com/tenantly/billing-service/internal/hub"
	"github.com/tenantly/billing-service/internal/jobs"
	"github.com/tenantly/billing-service/internal/penalty"
	"github.com/tenantly/billing-service/internal/store"
	"github.com/tenantly/billing-service/pkg/paygate"
	"github.com/tenantly/billing-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file if present; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.GatewayKeySecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway key secret must be configured\" env=GATEWAY_KEY_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer. Event delivery degrades to a no-op
	// fallback when the broker is down; billing writes still work.
	var producer rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment gateway client.
	gatewayClient := paygate.NewClient(cfg.GatewayAPIBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayCurrency)

	// Optional Redis for per-tenant rate limiting on the payment endpoints.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; payment rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; payment rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; payment rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	var rateLimiter app.RateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisPaymentRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	policy := penalty.Policy{
		GraceDays: cfg.PenaltyGraceDays,
		PerDay:    cfg.PenaltyPerDayPaise,
		Cap:       cfg.PenaltyCapPaise,
	}
	billingService := app.NewService(
		repository,
		gatewayClient,
		producer,
		rateLimiter,
		policy,
		cfg.DueOffsetDays,
		cfg.OrderRateLimitPerMinute,
		cfg.VerifyRateLimitPerMinute,
	)

	// The websocket hub fans events out to connected sessions, seeded with an
	// initial sync snapshot built by the service.
	eventHub := hub.New(billingService, cfg.SessionSendBuffer)

	// Bridge the broker into the hub: every billing event published on the
	// exchange is consumed here and fanned out to this instance's sessions.
	broadcast := func(body []byte) bool {
		var event domain.Event
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"dropping malformed event\" err=%v", err)
			return true
		}
		eventHub.Broadcast(event)
		return true
	}
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; event distribution disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			domain.EventBillCreated:         broadcast,
			domain.EventPaymentApplied:      broadcast,
			domain.EventBillPaid:            broadcast,
			domain.EventNotificationPosted:  broadcast,
			domain.EventNotificationDeleted: broadcast,
			domain.EventProfileUpdated:      broadcast,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rabbitmq.BillingEventsExchange, cfg.BillingEventQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"event consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"event consumer started\"")
	}

	// Start the nightly penalty sweep.
	jobLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := jobs.NewScheduler(jobs.NewJobs(billingService, jobLogger), jobLogger, cfg.PenaltySweepSchedule)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	// Initialize the API handlers and router.
	billingHandlers := api.NewBillingHandlers(billingService)
	streamHandler := api.NewStreamHandler(eventHub)

	router := chi.NewRouter()
	router.Mount("/billing", api.NewRouter(billingHandlers, streamHandler, cfg.JWTSecret, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
