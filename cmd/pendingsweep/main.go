// pendingsweep 单次清理过期的待支付记录，供 cron 调用
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storefront/config"
	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/lock"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/internal/service"
	"github.com/d60-Lab/storefront/pkg/cache"
	"github.com/d60-Lab/storefront/pkg/database"
	"github.com/d60-Lab/storefront/pkg/logger"
)

func main() {
	batch := flag.Int("batch", 500, "每批处理的记录数")
	timeout := flag.Duration("timeout", 2*time.Minute, "整体超时")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("open database failed", zap.Error(err))
		os.Exit(1)
	}
	defer database.Close(db)

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Error("connect redis failed", zap.Error(err))
		os.Exit(1)
	}
	// 必须和 server 共用同一把锁，否则可能与正在落单的回调交错
	var locker lock.Locker = lock.NewLocalLocker()
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "storefront:lock:")
	} else {
		logger.Warn("redis disabled, sweep is only safe while the server is stopped")
	}

	m := service.NewMaterializer(db, gateway.NewPayTR(cfg.PayTR), locker, cfg.Checkout.LockTTL,
		service.NewRedisStatusCache(rdb, cfg.Checkout.StatusTTL), nil)
	sweeper := service.NewPendingSweeper(repository.NewPendingPaymentRepository(db), m, cfg.Checkout.SweepInterval, *batch)

	start := time.Now()
	n, err := sweeper.SweepOnce(ctx, start)
	if err != nil {
		logger.Error("sweep failed", zap.Int("expired", n), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("sweep finished", zap.Int("expired", n), zap.Duration("took", time.Since(start)))
}
