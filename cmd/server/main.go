package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/config"
	"order-fulfillment/internal/api"
	"order-fulfillment/internal/broker"
	"order-fulfillment/internal/redisclient"
	"order-fulfillment/internal/scheduler"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store"
	"order-fulfillment/internal/store/memory"
	"order-fulfillment/internal/util"
	"order-fulfillment/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// persistence is implemented by both the PostgreSQL and the in-memory store
type persistence interface {
	service.InventoryStore
	service.OrderStore
	service.PaymentStore
	service.BalanceStore
	service.SalesStore
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order fulfillment service",
		zap.String("env", cfg.Server.Env),
		zap.String("database_driver", cfg.Database.Driver))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Store ready")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

	locks := redisclient.NewLockManager(redisClient)
	defer locks.Close()

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()
	logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)
	alerts := broker.NewAlertPublisher(alertProducer)

	biz := cfg.Business
	inventoryService := service.NewInventoryService(db, locks, biz.LockTTL)
	orderService := service.NewOrderService(db, db, inventoryService, eventPublisher, alerts)
	salesService := service.NewSalesService(db, db, biz.SalesTimezone)
	salesListener := service.NewSalesListener(salesService, db, alerts, biz.SalesRetryMaxAttempts, biz.SalesRetryBaseDelay)
	gateway := service.NewHTTPPaymentGateway(biz.PaymentGatewayURL, biz.PaymentGatewayTimeout)
	paymentService := service.NewPaymentService(db, db, db, salesListener, gateway, alerts)

	cancellations := scheduler.NewScheduler(redisClient, orderService.CancelOrder, alerts,
		biz.CancellationDelay, biz.CancellationPollInterval)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go cancellations.Start(workerCtx)

	orderConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	orderWorker := worker.NewOrderWorker(orderConsumer, cancellations, alerts)
	go func() {
		if err := orderWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Order worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, salesService, map[string]api.Pinger{
		"database": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := orderWorker.Stop(); err != nil {
		logger.Error("Error stopping order worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

func openStore(cfg *config.Config) (persistence, error) {
	if cfg.Database.Driver == config.DriverMemory {
		util.GetLogger().Warn("Using the in-memory store; data is lost on exit")
		return memory.NewStore(), nil
	}

	db, err := store.NewStore(cfg.Database.URL, store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
