package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/config"
	"github.com/d60-Lab/storefront/internal/api"
	"github.com/d60-Lab/storefront/internal/api/handler"
	"github.com/d60-Lab/storefront/internal/api/middleware"
	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/lock"
	"github.com/d60-Lab/storefront/internal/notify"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/internal/service"
	"github.com/d60-Lab/storefront/pkg/cache"
	"github.com/d60-Lab/storefront/pkg/database"
	"github.com/d60-Lab/storefront/pkg/logger"
	"github.com/d60-Lab/storefront/pkg/tracing"
)

const (
	effectQueueSize = 1024
	effectWorkers   = 4
	effectTimeout   = 30 * time.Second
	sweepBatchSize  = 200
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	gin.SetMode(cfg.Server.Mode)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		return err
	}

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("redis disabled, falling back to in-process lock; run a single instance")
	}

	app, err := build(cfg, db, rdb)
	if err != nil {
		return err
	}

	stopEffects := app.dispatcher.Start(effectWorkers)
	stopSweeper := app.sweeper.Start()
	stopLimiter := app.limiter.StartSweeper(cfg.RateLimit.TTL)
	defer stopLimiter()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("mode", cfg.Server.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// 先停止接收回调，再等后台任务排空
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := stopSweeper(sctx); err != nil {
		logger.Warn("sweeper did not stop in time", zap.Error(err))
	}
	if err := stopEffects(sctx); err != nil {
		logger.Warn("post-order effects not drained", zap.Error(err), zap.Int("queued", app.dispatcher.QueueLen()))
	}
	logger.Info("server stopped")
	return nil
}

type application struct {
	router     *gin.Engine
	dispatcher *service.Dispatcher
	sweeper    *service.PendingSweeper
	limiter    *middleware.IPRateLimiter
}

func build(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*application, error) {
	pricer, err := service.NewPricerFromStrings(cfg.Pricing.FreeShippingThreshold, cfg.Pricing.FlatShippingFee)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, "storefront:lock:")
	}
	statusCache := service.NewRedisStatusCache(rdb, cfg.Checkout.StatusTTL)
	pay := gateway.NewPayTR(cfg.PayTR)

	catalog := repository.NewCatalogRepository(db)
	pending := repository.NewPendingPaymentRepository(db)

	invoicer := notify.NewInvoiceClient(cfg.Invoice, func(ctx context.Context, variantID uint) (string, error) {
		v, err := catalog.GetProductVariant(ctx, variantID)
		if err != nil {
			return "", err
		}
		if v == nil {
			return "", fmt.Errorf("variant %d not found", variantID)
		}
		return v.SKU, nil
	})
	dispatcher := service.NewDispatcher(notify.NewSMTPMailer(cfg.Mail), invoicer, effectQueueSize, effectTimeout)

	checkout := service.NewCheckoutService(
		service.NewCartSnapshotReader(catalog),
		service.NewCouponEvaluator(repository.NewCouponRepository(db)),
		pricer,
		pending,
		repository.NewOrderRepository(db),
		pay,
		statusCache,
		cfg.Checkout.PendingTTL,
	)
	materializer := service.NewMaterializer(db, pay, locker, cfg.Checkout.LockTTL, statusCache, dispatcher)
	sweeper := service.NewPendingSweeper(pending, materializer, cfg.Checkout.SweepInterval, sweepBatchSize)

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.TTL)
	router, err := api.NewRouter(cfg, handler.NewHandler(checkout, materializer), limiter)
	if err != nil {
		return nil, err
	}
	return &application{router: router, dispatcher: dispatcher, sweeper: sweeper, limiter: limiter}, nil
}
