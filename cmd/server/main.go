package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"campusmarket/internal/clock"
	"campusmarket/internal/config"
	"campusmarket/internal/flashsale"
	"campusmarket/internal/logging"
	"campusmarket/internal/metrics"
	"campusmarket/internal/middleware"
	"campusmarket/internal/queue"
	"campusmarket/internal/repository"
	"campusmarket/internal/router"
	rediskey "campusmarket/pkg/redis"
)

const (
	shutdownTimeout = 10 * time.Second
	outboxMaxLen    = 100000
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger 还没建好，只能直接退出
		_, _ = os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	// 1. 数据库，自动建表
	db, err := repository.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer func() {
		if err := repository.Close(db); err != nil {
			log.WithError(err).Warn("close database")
		}
	}()

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(startupCtx).Err(); err != nil {
		cancel()
		log.WithError(err).Fatal("redis ping")
	}
	cancel()

	reg := metrics.NewRegistry()
	opts := []flashsale.Option{
		flashsale.WithClock(clock.NewSystem()),
		flashsale.WithLogger(log),
		flashsale.WithMetrics(reg),
		flashsale.WithStoreTimeout(cfg.StoreTimeout),
		flashsale.WithKeySafetyMargin(cfg.KeySafetyMargin),
		flashsale.WithItemCacheMargin(cfg.ItemCacheMargin),
		flashsale.WithListingGrace(cfg.ListingGrace),
	}
	if cfg.EventsEnabled() {
		opts = append(opts, flashsale.WithEvents(queue.NewOutbox(rdb, cfg.OrderEventStream, outboxMaxLen)))
	}
	svc := flashsale.NewService(flashsale.Deps{
		Items:  repository.NewItemRepository(db),
		Orders: repository.NewOrderRepository(db),
		Cache:  rediskey.NewItemCache(rdb),
		Ledger: rediskey.NewStockLedger(rdb),
		Lock:   rediskey.NewAdmissionLock(rdb),
	}, opts...)

	// 3. 演示数据：显式、幂等，只在空表时写入
	if cfg.SeedDemo {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := svc.SeedDemo(seedCtx)
		seedCancel()
		if err != nil {
			log.WithError(err).Fatal("seed demo data")
		}
		if n > 0 {
			log.WithField("items", n).Info("demo data seeded")
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. 后台任务：订单事件转发、库存对账
	var wg sync.WaitGroup
	var producer *queue.Producer
	if cfg.EventsEnabled() {
		producer = queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer, log, reg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(runCtx)
		}()
	} else {
		log.Info("KAFKA_BROKERS not set, order event relay disabled")
	}
	if cfg.ReconcileInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RunReconciler(runCtx, cfg.ReconcileInterval)
		}()
	}

	// 5. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	router.Setup(r, svc, rdb, reg, cfg, log)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("flash sale api listening")
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
		}
		stop()
	case <-runCtx.Done():
		log.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("server shutdown")
	}
	wg.Wait()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.WithError(err).Warn("close kafka producer")
		}
	}
	log.Info("server stopped")
}
