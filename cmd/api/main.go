package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/havenpoint/crisis-response-platform/cmd/mainconfig"
	"github.com/havenpoint/crisis-response-platform/internal/api/router"
	"github.com/havenpoint/crisis-response-platform/internal/audit"
	appconfig "github.com/havenpoint/crisis-response-platform/internal/config"
	"github.com/havenpoint/crisis-response-platform/internal/crisis"
	"github.com/havenpoint/crisis-response-platform/internal/escalation"
	"github.com/havenpoint/crisis-response-platform/internal/http/handlers"
	"github.com/havenpoint/crisis-response-platform/internal/observability/metrics"
	"github.com/havenpoint/crisis-response-platform/internal/protocol"
	"github.com/havenpoint/crisis-response-platform/internal/risk"
	"github.com/havenpoint/crisis-response-platform/internal/thresholds"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting crisis-response-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"state_store", cfg.StateStore,
	)

	crisisMetrics := metrics.NewCrisisMetrics(nil)

	// Postgres backs the audit trail and durable threshold adjustments.
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.Ping(); err != nil {
			logger.Warn("database not reachable at startup", "error", err)
		}
	}

	var auditSink audit.Sink
	var adjustmentStore thresholds.AdjustmentStore
	if db != nil {
		auditSink = audit.NewPostgresSink(db)
		adjustmentStore = thresholds.NewPostgresAdjustmentStore(db)
	}
	recorder := audit.NewRecorder(auditSink, cfg.AuditBufferSize, logger)
	defer recorder.Close()

	engine, err := thresholds.NewEngine(thresholds.DefaultConfigurations(), adjustmentStore,
		crisisMetrics, recorder, logger, thresholds.WithCacheTTL(cfg.ThresholdCacheTTL))
	if err != nil {
		logger.Error("failed to build threshold engine", "error", err)
		os.Exit(1)
	}

	classifier := risk.NewClassifier(risk.NewLexiconScorer(logger), engine, crisisMetrics, recorder, logger,
		risk.WithCacheSize(cfg.AssessmentCacheSize),
		risk.WithCacheWindow(cfg.AssessmentCacheWindow),
	)

	catalog, err := protocol.BuiltinCatalog()
	if err != nil {
		logger.Error("invalid protocol catalog", "error", err)
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
	}

	var stateStore protocol.StateStore
	switch cfg.StateStore {
	case "redis":
		rs := protocol.NewRedisStateStore(redisClient)
		if rs == nil {
			logger.Error("STATE_STORE=redis requires REDIS_ADDR")
			os.Exit(1)
		}
		stateStore = rs
	case "dynamo":
		stateStore = protocol.NewDynamoStateStore(dynamodb.NewFromConfig(awsCfg), cfg.ProtocolStateTable, logger)
	default:
		logger.Warn("using in-memory protocol state store, instances will not survive restarts")
		stateStore = protocol.NewMemoryStateStore()
	}

	targets, err := escalation.ParseTargets(cfg.EscalationTargetsJSON)
	if err != nil {
		logger.Error("invalid escalation targets", "error", err)
		os.Exit(1)
	}
	notifiers := map[escalation.Channel]escalation.Notifier{
		escalation.ChannelLog:     escalation.NewLogNotifier(logger),
		escalation.ChannelWebhook: escalation.NewWebhookNotifier(cfg.EscalationWebhookTimeout),
	}
	if cfg.EscalationEmailFrom != "" {
		notifiers[escalation.ChannelEmail] = escalation.NewEmailNotifier(
			sesv2.NewFromConfig(awsCfg), cfg.EscalationEmailFrom, logger)
	}
	dispatcher := escalation.NewDispatcher(targets, notifiers, crisisMetrics, recorder, logger,
		escalation.WithParallelism(cfg.EscalationParallelism))

	executor := protocol.NewExecutor(catalog, stateStore, dispatcher, crisisMetrics, recorder, logger,
		protocol.WithInstanceTTL(cfg.ProtocolTTL))

	service := crisis.NewService(classifier, executor, dispatcher, logger)

	r := router.New(router.Config{
		Logger:          logger,
		AdminJWTSecret:  cfg.AdminJWTSecret,
		Assess:          handlers.NewAssessHandler(service, logger),
		Protocols:       handlers.NewProtocolHandler(service, logger),
		AdminThresholds: handlers.NewAdminThresholdHandler(classifier, engine, logger),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	recorder.Close()
	logger.Info("server stopped")
}
