package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/notify"
	"github.com/d60-Lab/storefront/pkg/logger"
)

type effectKind int

const (
	effectConfirmation effectKind = iota + 1
	effectAdminNotice
	effectInvoice
)

func (k effectKind) String() string {
	switch k {
	case effectConfirmation:
		return "order_confirmation"
	case effectAdminNotice:
		return "admin_notification"
	case effectInvoice:
		return "invoice"
	default:
		return "unknown"
	}
}

type effectJob struct {
	kind  effectKind
	order *model.Order
	items []*model.OrderItem
	enqAt time.Time
}

// Dispatcher 落单后的副作用异步执行器：三项互不影响，失败只记日志并上报 Sentry
type Dispatcher struct {
	mailer    notify.Mailer
	invoicer  notify.Invoicer
	ch        chan effectJob
	timeout   time.Duration
	pending   atomic.Int64
	metricsCh chan time.Duration
}

func NewDispatcher(mailer notify.Mailer, invoicer notify.Invoicer, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		mailer:    mailer,
		invoicer:  invoicer,
		ch:        make(chan effectJob, queueSize),
		timeout:   timeout,
		metricsCh: make(chan time.Duration, 4096),
	}
}

// Start 启动 workers 个消费者；返回的停止函数会等队列排空或 ctx 结束
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-d.ch:
					d.run(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		defer close(stopCh)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for d.pending.Load() > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		return nil
	}
}

// Dispatch 不阻塞调用方；队列满时丢弃并告警
func (d *Dispatcher) Dispatch(order *model.Order, items []*model.OrderItem) {
	now := time.Now()
	for _, kind := range []effectKind{effectConfirmation, effectAdminNotice, effectInvoice} {
		d.pending.Add(1)
		select {
		case d.ch <- effectJob{kind: kind, order: order, items: items, enqAt: now}:
		default:
			d.pending.Add(-1)
			logger.Warn("effect queue full, drop",
				zap.String("effect", kind.String()),
				zap.String("order_number", order.OrderNumber),
			)
		}
	}
}

func (d *Dispatcher) run(job effectJob) {
	defer d.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			d.report(job, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	switch job.kind {
	case effectConfirmation:
		err = d.mailer.SendOrderConfirmation(ctx, job.order, job.items)
	case effectAdminNotice:
		err = d.mailer.SendAdminNotification(ctx, job.order, job.items)
	case effectInvoice:
		err = d.invoicer.SubmitInvoice(ctx, job.order, job.items)
	}
	if err != nil {
		d.report(job, err)
	} else {
		logger.Debug("effect done", zap.String("effect", job.kind.String()), zap.String("order_number", job.order.OrderNumber))
	}

	if !job.enqAt.IsZero() {
		select {
		case d.metricsCh <- time.Since(job.enqAt):
		default:
		}
	}
}

func (d *Dispatcher) report(job effectJob, err error) {
	logger.Error("order side effect failed",
		zap.String("effect", job.kind.String()),
		zap.String("order_number", job.order.OrderNumber),
		zap.Error(err),
	)
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("effect", job.kind.String())
		scope.SetTag("order_number", job.order.OrderNumber)
		sentry.CaptureException(err)
	})
}

// Metrics 入队到执行完成的耗时
func (d *Dispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

// QueueLen 当前队列长度（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }
