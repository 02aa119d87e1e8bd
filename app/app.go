package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"fulfillment-service/common/logger"
	"fulfillment-service/config"
	"fulfillment-service/consumer"
	"fulfillment-service/database"
	"fulfillment-service/locks"
	awspkg "fulfillment-service/pkg/aws"
	"fulfillment-service/providers"
	"fulfillment-service/repository"
	"fulfillment-service/sender"
	"fulfillment-service/services"
	"fulfillment-service/storage"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ServiceName = "fulfillment-service"

// App is the fully wired service, shared by the HTTP server and fulfillmentctl.
type App struct {
	Config       *config.Config
	AWS          sdkaws.Config
	Logger       *zap.Logger
	DB           *gorm.DB
	Metrics      *awspkg.MetricsClient
	Verifier     services.EventVerifier
	Orchestrator *services.Orchestrator
	// Events is nil when STRIPE_SECRET_KEY is unset.
	Events    services.EventSource
	Scheduler *services.SchedulerService
	Prints    *services.PrintFulfillmentService
	Leads     *consumer.LeadConsumer
	// LeadQueue is nil when LEAD_QUEUE_URL is unset.
	LeadQueue *awspkg.SQSConsumer

	redis *redis.Client
}

// Build loads configuration and connects every dependency.
func Build(ctx context.Context) (*App, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	awsCfg, err := awspkg.LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config load failed: %w", err)
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := buildLogger(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, AWS: awsCfg, Logger: log}

	a.DB, err = database.ConnectPostgres(cfg.PostgresDSN(), log, database.Models()...)
	if err != nil {
		return nil, fmt.Errorf("DB connection failed: %w", err)
	}

	a.Metrics = awspkg.NewMetricsClient(awsCfg, cfg.MetricsNamespace, cfg.MetricsEnabled)

	emailSender, err := sender.NewSMTPSender(cfg.SMTP())
	if err != nil {
		return nil, fmt.Errorf("failed to init SMTP sender: %w", err)
	}
	notifier, err := services.NewNotifier(emailSender, cfg.PublicBaseURL, log)
	if err != nil {
		return nil, err
	}

	purchases := repository.NewGormPurchaseRepository(a.DB)
	customers := repository.NewGormCustomerRepository(a.DB)
	recipients := repository.NewGormRecipientRepository(a.DB)
	printOrders := repository.NewGormPrintOrderRepository(a.DB)

	var idempotency repository.IdempotencyRepository
	switch cfg.IdempotencyBackend {
	case "dynamodb":
		idempotency = repository.NewDynamoIdempotencyRepository(dynamodb.NewFromConfig(awsCfg), cfg.IdempotencyTable)
		log.Info("Using DynamoDB idempotency store", zap.String("table", cfg.IdempotencyTable))
	default:
		idempotency = repository.NewGormIdempotencyRepository(a.DB)
	}

	alerts := services.NewSNSAlerter(awspkg.NewSNSClient(awsCfg), cfg.OpsSNSTopicARN, log)
	store := storage.NewS3ObjectStore(awspkg.NewS3Client(awsCfg), cfg.ArtifactBucket, cfg.ArtifactPrefix, cfg.ArtifactURLExpiry)
	printify := providers.NewPrintifyProvider(cfg.PrintifyAPIToken, cfg.PrintifyShopID, cfg.PrintifyBaseURL, providers.DefaultCanvasCatalog())

	schedulerOpts := []services.SchedulerOption{
		services.WithSendInterval(cfg.SchedulerSendInterval),
		services.WithBatchSize(cfg.SchedulerBatchSize),
		services.WithSchedulerMetrics(a.Metrics),
	}
	if lock := a.runLock(ctx); lock != nil {
		schedulerOpts = append(schedulerOpts, services.WithRunLock(lock, cfg.SchedulerLockTTL))
	}

	a.Scheduler = services.NewSchedulerService(recipients, notifier, log, schedulerOpts...)
	a.Prints = services.NewPrintFulfillmentService(printOrders, purchases, printify, store, notifier, alerts, a.Metrics, log)
	a.Verifier = services.NewStripeEventVerifier(cfg.StripeWebhookSecret)
	a.Orchestrator = services.NewOrchestrator(
		services.NewEffectRunner(idempotency, a.Metrics, log),
		purchases, customers, a.Scheduler, a.Prints, notifier, alerts, a.Metrics, log,
	)
	if cfg.StripeSecretKey != "" {
		a.Events = services.NewStripeEventSource(cfg.StripeSecretKey)
	}
	a.Leads = consumer.NewLeadConsumer(a.Scheduler, customers, log)
	if cfg.LeadQueueURL != "" {
		a.LeadQueue = awspkg.NewSQSConsumer(awsCfg, cfg.LeadQueueURL, log)
	}

	return a, nil
}

func buildLogger(ctx context.Context, cfg *config.Config, awsCfg sdkaws.Config) (*zap.Logger, error) {
	if !cfg.CloudWatchEnabled {
		return logger.New(cfg.Env, nil)
	}
	cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, ServiceName)
	if err != nil {
		// fall back to stdout only
		fmt.Fprintf(os.Stderr, "CloudWatch logs init failed (non-fatal): %v\n", err)
		return logger.New(cfg.Env, nil)
	}
	return logger.New(cfg.Env, cw)
}

// runLock returns the Redis lock when REDIS_ADDR is set and reachable.
func (a *App) runLock(ctx context.Context) locks.RunLock {
	if a.Config.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.Logger.Warn("Redis unavailable, scheduler runs without a lock (non-fatal)", zap.Error(err))
		_ = client.Close()
		return nil
	}
	a.redis = client
	return locks.NewRedisLock(client, ServiceName+":")
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := database.Close(a.DB); err != nil {
		a.Logger.Error("Database close error", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
