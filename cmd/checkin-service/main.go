package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	flag "github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/api"
	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/config"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/registry"
	regdb "ms-checkin/internal/registry/db"
	"ms-checkin/internal/session"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/tickets/qr"
	tickets "ms-checkin/internal/tickets/service"
)

const (
	maxConnectRetries = 5
	shutdownTimeout   = 10 * time.Second
)

// openDatabase connects to postgres or sqlite, retrying while the database
// container is still starting.
func openDatabase(cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	driverName := sqliteshim.ShimName
	if cfg.Driver == "postgres" {
		driverName = "postgres"
	}

	var sqldb *sql.DB
	var err error
	for i := 0; i < maxConnectRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to %s (attempt %d/%d)", cfg.Driver, i+1, maxConnectRetries))
		sqldb, err = sql.Open(driverName, cfg.DSN)
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to %s: %v", cfg.Driver, err))
		if i < maxConnectRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", cfg.Driver, maxConnectRetries, err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	if cfg.Driver == "postgres" {
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func openRegistry(ctx context.Context, cfg config.DatabaseConfig, migrate bool, log *logger.Logger) (registry.Registry, func(), error) {
	if cfg.Driver == "memory" {
		log.Warn("DATABASE", "Using the in-memory registry, state is lost on restart")
		return registry.NewMemory(), func() {}, nil
	}

	bunDB, err := openDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	// sqlite files start empty, so the schema is always ensured there.
	if migrate || cfg.Driver == "sqlite" {
		if err := regdb.Migrate(ctx, bunDB); err != nil {
			bunDB.Close()
			return nil, nil, fmt.Errorf("migrate registry: %w", err)
		}
		log.LogDatabase("MIGRATE", "registry", "Schema is up to date")
	}
	log.Info("DATABASE", fmt.Sprintf("✅ %s registry ready", cfg.Driver))
	return regdb.New(bunDB), func() { bunDB.Close() }, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client, nil
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (auth.Verifier, error) {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			return nil, err
		}
		log.Info("AUTH", fmt.Sprintf("Verifying bearer tokens against OIDC issuer %s", cfg.OIDCIssuer))
		return v, nil
	}
	log.Info("AUTH", "Verifying HS256 bearer tokens with the shared secret")
	return &auth.HS256Verifier{Secret: []byte(cfg.JWTSecret)}, nil
}

func main() {
	migrate := flag.Bool("migrate", false, "create or update the registry schema before serving")
	flag.Parse()

	log := logger.NewLogger("checkin-service")
	defer log.Close()

	log.Info("APP", "Starting Check-in Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}
	log.SetLevel(logger.ParseLevel(cfg.Server.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, closeRegistry, err := openRegistry(ctx, cfg.Database, *migrate, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer closeRegistry()

	verifier, err := buildVerifier(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to set up token verification: %v", err))
	}

	var mirror session.Mirror
	if cfg.Redis.Enabled {
		client, err := connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal("REDIS", err.Error())
		}
		defer client.Close()

		m := session.NewRedisMirror(client, cfg.Checkin.RecentSize)
		m.TTL = cfg.Redis.SessionTTL
		mirror = m

		cv := auth.NewCachingVerifier(verifier, client, log)
		cv.TTL = cfg.Redis.IdentityTTL
		verifier = cv
		log.Info("REDIS", "Gate counters are shared and verified identities are cached")
	}

	gen, err := qr.NewQRGenerator(cfg.Checkin.QRSecretKey)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid QR_SECRET_KEY: %v", err))
	}

	var scanPublisher checkin.ScanPublisher
	var ticketPublisher tickets.TicketPublisher
	topics := kafka.Topics{
		ScanRecorded:   cfg.Kafka.Topics.ScanRecorded,
		TicketIssued:   cfg.Kafka.Topics.TicketIssued,
		TicketRevoked:  cfg.Kafka.Topics.TicketRevoked,
		OrderCompleted: cfg.Kafka.Topics.OrderCompleted,
	}
	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, topics, log)
		defer producer.Close()
		scanPublisher = producer
		ticketPublisher = producer
		log.Info("KAFKA", "Kafka producer initialized successfully")
	}

	validator, err := checkin.NewValidator(reg, cfg.Checkin.TicketNumberPattern, log)
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid TICKET_NUMBER_PATTERN: %v", err))
	}
	desk := &checkin.Desk{
		Validator: validator,
		Sessions:  session.NewManager(mirror, cfg.Checkin.RecentSize, log),
		Feed:      sse.NewScanFeedEmitter(cfg.Checkin.FeedSize),
		Publisher: scanPublisher,
		QR:        gen,
		Logger:    log,
	}
	ticketService := tickets.NewTicketService(reg, gen, ticketPublisher, log)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topics.OrderCompleted, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, ticketService.HandleOrderCompleted); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Order consumer stopped: %v", err))
			}
		}()
	}

	log.Info("HTTP", "Setting up router and middleware")
	handler := api.NewHandler(ticketService, desk, log)
	handler.AllowedOrigins = cfg.Server.AllowedOrigins

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(verifier),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Check-in Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Check-in Service shutdown complete")
	}
}
