/**
 * @description
 * This is the main entry point for the billing-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the payment gateway client, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/payer, internal/store: Internal packages for the service.
 * - pkg/mpclient: Client for the Mercado Pago API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clubebonfim/billing-service/internal/api"
	"github.com/clubebonfim/billing-service/internal/app"
	"github.com/clubebonfim/billing-service/internal/config"
	"github.com/clubebonfim/billing-service/internal/payer"
	"github.com/clubebonfim/billing-service/internal/store"
	"github.com/clubebonfim/billing-service/pkg/mpclient"
	rmrabbit "github.com/clubebonfim/billing-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.MPAccessToken) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"gateway access token must be configured\" env=MP_ACCESS_TOKEN")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s sandbox=%t", cfg.ServerPort, cfg.MPSandbox)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish reconciliation events.
	// This service only publishes; a broker outage degrades to no-op publishing.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; reconciliation events disabled\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs the webhook deduplication marker. Missing Redis degrades to
	// reprocessing duplicate notifications, which the outcome machinery absorbs.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook dedupe disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook dedupe disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	var dedupe *app.NotificationDedupe
	if redisClient != nil {
		dedupe = app.NewNotificationDedupe(redisClient, cfg.RedisDedupePrefix)
	}

	// Initialize the client for the Mercado Pago API.
	gateway := mpclient.NewClient(cfg.MPBaseURL, cfg.MPAccessToken)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Payer normalization policy is fixed at boot from configuration.
	normalizer := payer.NewNormalizer(cfg.MPSandbox, cfg.IncludeTransferEmail)
	if domainName := strings.TrimSpace(cfg.SyntheticEmailDomain); domainName != "" {
		normalizer.EmailDomain = domainName
	}

	// Initialize the core application service with its dependencies.
	billingService := app.NewService(
		repository,
		gateway,
		producer,
		normalizer,
		dedupe,
		cfg.MPSandbox,
		app.CheckoutConfig{
			NotificationURL: cfg.WebhookURL,
			SuccessURL:      cfg.CheckoutSuccessURL,
			PendingURL:      cfg.CheckoutPendingURL,
			FailureURL:      cfg.CheckoutFailureURL,
		},
	)

	// Initialize the API handlers.
	billingHandlers := api.NewBillingHandlers(billingService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/billing", api.BillingRoutes(billingHandlers, cfg.JWKSURL, cfg.MPWebhookSecret))

	// Start the HTTP server.
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
