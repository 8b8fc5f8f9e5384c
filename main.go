package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/age-gate/internal/auth"
	"github.com/example/age-gate/internal/capture"
	"github.com/example/age-gate/internal/config"
	"github.com/example/age-gate/internal/estimator"
	"github.com/example/age-gate/internal/events"
	"github.com/example/age-gate/internal/grpchealth"
	"github.com/example/age-gate/internal/handlers"
	"github.com/example/age-gate/internal/logging"
	"github.com/example/age-gate/internal/repository"
	"github.com/example/age-gate/internal/usecase"
)

func main() {
	cfg, cfgErr := config.Load()
	level := "info"
	if cfg != nil {
		level = cfg.Log.Level
	}

	logger, err := logging.NewLogger(level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfgErr != nil {
		logger.Fatal("invalid configuration", zap.Error(cfgErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	est, err := estimator.NewGeminiEstimator(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout, logger)
	if err != nil {
		logger.Fatal("failed to create gemini estimator", zap.Error(err))
	}

	store, fileStore := initCaptureStore(ctx, cfg, logger)
	repo := initRepository(ctx, cfg, logger)
	cache := initCache(ctx, cfg, logger)

	var (
		publisher      events.Publisher = events.NopPublisher{}
		kafkaPublisher *events.KafkaPublisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = kafkaPublisher
		logger.Info("publishing verdict events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	uc := usecase.NewVerificationUseCase(repo, cache, est, store, publisher, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc,
		auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
		auth.OptionalJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience),
	)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	sweeper := capture.NewSweeper(fileStore.Dir(), cfg.Capture.Retention, cfg.Capture.SweepInterval, logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	if cfg.GRPC.HealthAddr != "" {
		listener, err := net.Listen("tcp", cfg.GRPC.HealthAddr)
		if err != nil {
			logger.Fatal("failed to listen for grpc health", zap.Error(err), zap.String("addr", cfg.GRPC.HealthAddr))
		}
		healthServer := grpchealth.New(logger)
		g.Go(func() error { return healthServer.Serve(listener) })
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Stop()
			return nil
		})
	}

	logger.Info("age gate listening", zap.String("addr", cfg.HTTP.Addr), zap.String("model", cfg.Gemini.Model))
	serveErr := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger)
	stop()
	if err := g.Wait(); err != nil {
		logger.Error("background component failed", zap.Error(err))
	}
	if kafkaPublisher != nil {
		closePublisher(kafkaPublisher, logger)
	}
	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

// closePublisher flushes buffered verdict events. Call it before logger.Fatal,
// which skips deferred calls.
func closePublisher(publisher io.Closer, logger *zap.Logger) {
	if err := publisher.Close(); err != nil {
		logger.Error("failed to flush verdict events", zap.Error(err))
	}
}

func initCaptureStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (capture.Store, *capture.FileStore) {
	fileStore, err := capture.NewFileStore(cfg.Capture.Dir)
	if err != nil {
		logger.Fatal("failed to prepare capture directory", zap.Error(err))
	}
	if !cfg.S3Enabled() {
		return fileStore, fileStore
	}

	client, err := capture.NewS3Client(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket)
	if err != nil {
		logger.Fatal("failed to connect to s3", zap.Error(err))
	}
	logger.Info("mirroring captures to s3", zap.String("bucket", cfg.S3.Bucket))
	return capture.NewS3Mirror(fileStore, client, cfg.S3.Bucket, logger), fileStore
}

func initRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) usecase.VerificationRepository {
	if cfg.DB.DSN == "" {
		logger.Warn("DATABASE_DSN not set, verification logs are not persisted")
		return repository.Discard{}
	}

	db := initDatabase(ctx, cfg.DB.DSN, logger)
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	return repo
}

func initCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) usecase.Cache {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set, results are not cached")
		return usecase.NopCache{}
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	return usecase.NewRedisCache(initRedis(redisCtx, cfg.Redis.Addr, logger))
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
