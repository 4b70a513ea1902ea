package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/compliance"
	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/events"
	"github.com/omnigate/omnigate/internal/handler"
	"github.com/omnigate/omnigate/internal/health"
	"github.com/omnigate/omnigate/internal/ledger"
	"github.com/omnigate/omnigate/internal/marketdata"
	"github.com/omnigate/omnigate/internal/middleware"
	"github.com/omnigate/omnigate/internal/pipeline"
	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/reconcile"
	"github.com/omnigate/omnigate/internal/repository"
	"github.com/omnigate/omnigate/internal/reserves"
	"github.com/omnigate/omnigate/internal/routing"
	"github.com/omnigate/omnigate/internal/venue"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger at the configured level
	logger.Init(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize Persistence (Postgres > Memory, Redis lock > Memory lock)
	var (
		ledgerRepo     ledger.Repository
		orderStore     pipeline.OrderStore
		reconRecords   reconcile.RecordStore
		proofStore     reserves.ProofStore
		complianceRepo compliance.Repository
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			ledgerRepo = repository.NewPostgresLedgerRepo(db)
			orderStore = repository.NewPostgresOrderRepo(db)
			reconRecords = repository.NewPostgresReconRepo(db)
			proofStore = repository.NewPostgresProofRepo(db)
			complianceRepo = repository.NewPostgresComplianceRepo(db)
		} else {
			logger.Error("Failed to connect to DB, falling back to memory stores", "error", err)
		}
	}
	if ledgerRepo == nil {
		ledgerRepo = ledger.NewMemoryRepository()
		orderStore = pipeline.NewMemoryOrderStore()
		reconRecords = reconcile.NewMemoryRecordStore()
		proofStore = reserves.NewMemoryProofStore()
		complianceRepo = compliance.NewMemoryRepository()
	}

	var reconLock reconcile.Lock
	if cfg.Redis.Addr != "" {
		rdb, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			reconLock = reconcile.NewRedisLock(rdb, cfg.Reconcile.LockKey,
				time.Duration(cfg.Reconcile.LockTTLSeconds)*time.Second)
		} else {
			logger.Error("Failed to connect to Redis, falling back to local lock", "error", err)
		}
	}
	if reconLock == nil {
		reconLock = reconcile.NewMemoryLock()
	}

	// 4. Event Emitter (Kafka > Memory)
	var emitter events.Emitter
	if len(cfg.Kafka.Brokers) > 0 {
		emitter = events.NewKafkaEmitter(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: time.Duration(cfg.Kafka.WriteTimeoutMs) * time.Millisecond,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		})
		logger.Info("Kafka event emitter configured", "topic", cfg.Kafka.Topic)
	} else {
		emitter = events.NewMemoryEmitter()
	}

	// 5. Venue Registry. Mock adapters stand in until real adapters are
	// plugged via config; every registered venue starts active.
	registry := venue.NewRegistry()
	for _, vc := range cfg.Venues {
		registry.Register(vc, venue.NewMockAdapter())
		logger.Info("venue registered", "venue", vc.ID, "priority", vc.Priority)
	}

	// 6. Core Services
	allocator := ledger.NewAllocator(ledgerRepo)
	books := marketdata.NewService()
	tracker := routing.NewReliabilityTracker(cfg.Routing.ReliabilityWindow)
	router := routing.NewEngine(registry, books, tracker, cfg.Routing)

	pipe := pipeline.New(orderStore, allocator, router, registry, emitter, cfg.Pipeline)
	pipe.SetFillListener(compliance.NewRecordBuilder(complianceRepo,
		decimal.NewFromFloat(cfg.Pipeline.TravelRuleMinimum)))

	dispatcher := pipeline.NewDispatcher(pipe, cfg.Pipeline)
	dispatcher.Start()

	monitor := health.NewMonitor(registry, tracker, cfg.Health)
	monitor.Start(ctx)

	reconEngine := reconcile.NewEngine(registry, allocator, reconRecords, emitter, reconLock, cfg.Reconcile)
	reconEngine.Start(ctx)

	var generator *reserves.Generator
	if cfg.Reserves.SigningKeySeed != "" {
		key, err := reserves.NewSigningKey(cfg.Reserves.SigningKeySeed)
		if err != nil {
			log.Fatalf("Failed to load reserves signing key: %v", err)
		}
		generator = reserves.NewGenerator(allocator, registry, reconEngine, proofStore, emitter, key)
	} else {
		logger.Warn("no reserves signing key configured, proof generation disabled")
	}

	// 7. Handlers and Router
	orderHandler := handler.NewOrderHandler(dispatcher, pipe)
	platformHandler := handler.NewPlatformHandler(allocator, registry, reconEngine, reconRecords, generator, proofStore, complianceRepo)

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "omnigate"})
	})
	r.GET(cfg.Server.MetricsPath, gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/orders", orderHandler.PlaceOrder)
		v1.GET("/orders/:id", orderHandler.GetOrder)
		v1.DELETE("/orders/:id", orderHandler.CancelOrder)
		v1.GET("/orders/:id/compliance", platformHandler.GetComplianceRecords)
		v1.POST("/venue-updates", orderHandler.VenueUpdate)

		v1.GET("/balances", platformHandler.ListBalances)
		v1.GET("/balances/:venue/:asset", platformHandler.GetBalance)
		v1.GET("/venues", platformHandler.ListVenues)

		v1.POST("/reconciliations", platformHandler.TriggerReconciliation)
		v1.GET("/reconciliations/:venue/:asset", platformHandler.ListReconciliations)

		if generator != nil {
			v1.POST("/proofs/:venue/:asset", platformHandler.GenerateProof)
		}
		v1.GET("/proofs/:venue/:asset", platformHandler.GetLatestProof)
	}

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("OmniGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	cancel()
	dispatcher.Stop()
	monitor.Stop()
	if err := emitter.Close(); err != nil {
		logger.Error("event emitter close failed", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
