/**
 * @description
 * This is the main entry point for the promotion engine. It initializes all
 * components: configuration, the PostgreSQL pool, the RabbitMQ producer, the
 * Redis rate limiter, the content launcher client, the repositories, the
 * application services (catalog, session manager, feed synchronizer), the
 * background job scheduler, and the HTTP server. It wires everything
 * together and runs until signalled.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Local .env loading for development.
 * - github.com/redis/go-redis/v9: Redis client for rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/launcherclient, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/creatorlift/promotion-engine/internal/api"
	"github.com/creatorlift/promotion-engine/internal/app"
	"github.com/creatorlift/promotion-engine/internal/config"
	"github.com/creatorlift/promotion-engine/internal/store"
	"github.com/creatorlift/promotion-engine/pkg/launcherclient"
	"github.com/creatorlift/promotion-engine/pkg/rabbitmq"
)

func main() {
	// Load a local .env when present; production supplies real env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting promotion-engine\" port=%s", cfg.ServerPort)

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

	// Initialize the RabbitMQ producer. The broker is a notification sink;
	// when it is unreachable the engine runs with a no-op fallback.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = eventProducer
	}
	defer producer.Close()

	// Initialize Redis for rate limiting when configured. Missing Redis
	// degrades rate limiting; it never prevents boot.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	var limiter *app.RedisRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}

	// Initialize the data access layer and the application services.
	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, producer, cfg.PromotionEventExchange, cfg.SignupBonusCredits)

	launcher := launcherclient.NewClient(cfg.LauncherBaseURL, cfg.LauncherAPIKey)
	tick := time.Duration(cfg.VerificationTickSeconds) * time.Second
	sessionManager := app.NewSessionManager(
		repository,
		launcher,
		producer,
		cfg.PromotionEventExchange,
		cfg.VerificationDurationTicks,
		tick,
	)
	if err := sessionManager.Resume(context.Background()); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"session resume failed\" err=%v", err)
	}
	defer sessionManager.Close()

	feed := app.NewFeedSynchronizer(
		repository,
		producer,
		cfg.PromotionEventExchange,
		cfg.FeedWindow,
		time.Duration(cfg.FeedPollSeconds)*time.Second,
	)
	if err := feed.Start(context.Background()); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"feed start failed\" err=%v", err)
	}
	defer feed.Stop()

	// Start the background job scheduler.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	// Set up the HTTP router and start the server.
	handlers := api.NewHandlers(service, sessionManager, feed, limiter, cfg.ClaimRateLimitPerMinute, cfg.ReportRateLimitPerMinute)
	router := api.Routes(handlers, cfg.JWKSURL, cfg.AuthIssuer, cfg.AuthAudience)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
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
