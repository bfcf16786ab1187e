package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"accounts-service/internal/audit"
	"accounts-service/internal/config"
	"accounts-service/internal/publisher"
	"accounts-service/internal/repository"
	"accounts-service/internal/server"
	"accounts-service/internal/service"
	"accounts-service/internal/txn"
	"accounts-service/internal/worker"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type auditSender interface {
	publisher.Sender
	Close() error
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		log.Warn("Could not load .env file.")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Could not load configuration")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using debug")
		level = log.DebugLevel
	}
	log.SetLevel(level)

	log.Info("Starting database migration...")
	m, err := migrate.New(cfg.DB.MigrationsPath, cfg.DB.URL)
	if err != nil {
		log.WithField("error", err).Fatal("Could not create migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.WithField("error", err).Fatal("Could not apply migration")
	}
	log.Info("Database migration finished successfully.")

	db, err := sql.Open("postgres", cfg.DB.URL)
	if err != nil {
		log.WithField("error", err).Fatal("Could not connect to the database")
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DB.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.WithField("error", err).Fatal("Could not ping the database")
	}
	log.Info("Successfully connected to the PostgreSQL database.")

	sender, err := newAuditSender(cfg)
	if err != nil {
		log.WithError(err).Fatal("Could not set up the audit broker")
	}

	// Audit pipeline
	auditLogRepository := repository.NewPostgresAuditLogRepository(db)
	auditPublisher := publisher.NewAuditPublisher(sender, auditLogRepository, publisher.Options{
		RoutingKey:      cfg.Broker.RoutingKey,
		ErrorRoutingKey: cfg.Broker.ErrorRoutingKey,
		PublishTimeout:  cfg.Broker.PublishTimeout,
		FallbackTimeout: cfg.Broker.FallbackTimeout,
	})
	pool := worker.NewPool(cfg.Audit.Workers, cfg.Audit.QueueSize)
	txManager := txn.NewManager(db, pool)
	interceptor := audit.NewInterceptor(auditLogRepository, txManager, auditPublisher, cfg.Audit.SourceService)

	// Create repositories
	userRepository := repository.NewPostgresUserRepository(db, interceptor)
	accountRepository := repository.NewPostgresAccountRepository(db, interceptor)

	// Create services
	userService := service.NewUserService(txManager, userRepository, accountRepository)
	accountService := service.NewAccountService(txManager, accountRepository, userRepository)
	auditService := service.NewAuditService(auditLogRepository)

	// Create servers
	srv := server.NewServer(userService, db)
	accountSrv := server.NewAccountServer(accountService)
	auditSrv := server.NewAuditServer(auditService)

	// Setup Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(server.CorrelationID())
	e.Use(server.RequestLogger())

	e.GET("/health", srv.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1", server.BasicAuth(cfg.Auth.Users), server.ActorScope())

	users := api.Group("/usuarios")
	users.POST("", srv.CreateUser)
	users.GET("", srv.ListUsers)
	users.GET("/:id", srv.GetUser)
	users.PUT("/:id", srv.UpdateUser)
	users.DELETE("/:id", srv.DeleteUser)

	accounts := api.Group("/contas")
	accounts.POST("", accountSrv.CreateAccount)
	accounts.GET("", accountSrv.ListAccounts)
	accounts.POST("/transferencia", accountSrv.Transfer)
	accounts.GET("/usuario/:usuarioId", accountSrv.ListAccountsByUser)
	accounts.GET("/:id", accountSrv.GetAccount)
	accounts.PUT("/:id", accountSrv.UpdateAccount)
	accounts.PATCH("/:id/saldo", accountSrv.UpdateBalance)
	accounts.DELETE("/:id", accountSrv.DeleteAccount)

	auditLog := api.Group("/audit")
	auditLog.GET("", auditSrv.ListEvents)
	auditLog.GET("/unpublished", auditSrv.ListUnpublished)
	auditLog.GET("/:id", auditSrv.GetEvent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Accounts service is starting with Echo")
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err).Fatal("Echo server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if err := e.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	// Pending post-commit publishes finish before the broker goes away.
	if err := pool.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := sender.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := db.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func newAuditSender(cfg *config.Config) (auditSender, error) {
	switch cfg.Broker.Kind {
	case config.BrokerKafka:
		k, err := publisher.NewKafka(cfg.Kafka.BootstrapServers, cfg.Broker.Exchange)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Broker.PublishTimeout)
		defer cancel()
		keys := []string{cfg.Broker.RoutingKey, cfg.Broker.ErrorRoutingKey}
		if err := k.EnsureTopics(ctx, keys, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			_ = k.Close()
			return nil, err
		}
		return k, nil
	default:
		r, err := publisher.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.Broker.Exchange, cfg.RabbitMQ.ChannelPoolSize)
		if err != nil {
			return nil, err
		}
		if err := r.DeclareTopology(publisher.Topology{
			Exchange:        cfg.Broker.Exchange,
			Queue:           cfg.Broker.Queue,
			ErrorQueue:      cfg.Broker.ErrorQueue,
			RoutingKey:      cfg.Broker.RoutingKey,
			ErrorRoutingKey: cfg.Broker.ErrorRoutingKey,
		}); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	}
}
