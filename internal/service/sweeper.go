package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/pkg/logger"
)

// PendingSweeper 定期把过期未支付的记录标记为 failed
type PendingSweeper struct {
	pending   repository.PendingPaymentRepository
	failer    *Materializer
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewPendingSweeper(pending repository.PendingPaymentRepository, failer *Materializer, interval time.Duration, batchSize int) *PendingSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &PendingSweeper{pending: pending, failer: failer, interval: interval, batchSize: batchSize, now: time.Now}
}

// Start 启动轮询；返回停止函数
func (s *PendingSweeper) Start() func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(stop)
	}()
	return func(ctx context.Context) error {
		close(stop)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *PendingSweeper) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.SweepOnce(ctx, s.now()); err != nil {
				logger.Error("pending sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// SweepOnce 处理一批过期记录，返回标记为 failed 的数量
func (s *PendingSweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		batch, err := s.pending.ListExpired(ctx, now, s.batchSize)
		if err != nil {
			return total, err
		}
		marked := 0
		for _, p := range batch {
			out, err := s.failer.MarkFailed(ctx, p.MerchantOid, ReasonExpired)
			if err != nil {
				return total, err
			}
			if out == OutcomeFailed {
				marked++
			}
		}
		total += marked
		if len(batch) < s.batchSize || marked == 0 {
			break
		}
	}
	if total > 0 {
		logger.Info("expired pending payments swept", zap.Int("count", total))
	}
	return total, nil
}
