// callbackbench 对同一批 merchant_oid 并发投递重复的支付成功回调，
// 校验每笔支付恰好落一张订单、库存恰好扣减一次、限量优惠券不超发，
// 并统计回调处理延迟和副作用延迟。
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/config"
	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/lock"
	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/internal/service"
	"github.com/d60-Lab/storefront/pkg/cache"
	"github.com/d60-Lab/storefront/pkg/database"
)

type BenchResult struct {
	Name       string
	Duration   time.Duration
	Total      int64
	Failed     int64
	Outcomes   map[service.Outcome]int64
	QPS        float64
	AvgLatency time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
}

// effectCounter 只计数，验证落单后的每个副作用只触发一次
type effectCounter struct {
	mu            sync.Mutex
	confirmations map[string]int
	admin         map[string]int
	invoices      map[string]int
}

func newEffectCounter() *effectCounter {
	return &effectCounter{
		confirmations: make(map[string]int),
		admin:         make(map[string]int),
		invoices:      make(map[string]int),
	}
}

func (e *effectCounter) SendOrderConfirmation(_ context.Context, order *model.Order, _ []*model.OrderItem) error {
	e.mu.Lock()
	e.confirmations[order.OrderNumber]++
	e.mu.Unlock()
	return nil
}

func (e *effectCounter) SendAdminNotification(_ context.Context, order *model.Order, _ []*model.OrderItem) error {
	e.mu.Lock()
	e.admin[order.OrderNumber]++
	e.mu.Unlock()
	return nil
}

func (e *effectCounter) SubmitInvoice(_ context.Context, order *model.Order, _ []*model.OrderItem) error {
	e.mu.Lock()
	e.invoices[order.OrderNumber]++
	e.mu.Unlock()
	return nil
}

func main() {
	payments := flag.Int("payments", 200, "待支付记录数")
	dup := flag.Int("dup", 5, "每笔支付重复投递的回调数")
	concurrency := flag.Int("c", 50, "并发数")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load()
	must(err)

	db, err := database.InitDB(cfg)
	must(err)
	defer database.Close(db)
	must(database.Migrate(db))

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	must(err)
	var locker lock.Locker = lock.NewLocalLocker()
	lockName := "进程内锁"
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "callbackbench:lock:")
		lockName = "Redis 锁"
	}

	pay := gateway.NewPayTR(benchPayTR(cfg.PayTR))
	effects := newEffectCounter()
	dispatcher := service.NewDispatcher(effects, effects, *payments*3, 0)
	stopEffects := dispatcher.Start(8)
	stopCollect := collect(dispatcher.Metrics())
	m := service.NewMaterializer(db, pay, locker, cfg.Checkout.LockTTL, nil, dispatcher)

	fmt.Println("===== 重复回调幂等压测 =====")
	fmt.Printf("支付数: %d | 每笔重复回调: %d | 并发数: %d | 锁: %s\n\n", *payments, *dup, *concurrency, lockName)

	fmt.Println(">>> 准备测试数据...")
	fx := seed(ctx, db, *payments)
	fmt.Printf("生成了 %d 条待支付记录，优惠券 %s 限用 %d 次\n\n", len(fx.oids), fx.coupon.Code, *fx.coupon.UsageLimit)

	result := benchCallbacks(ctx, m, pay, fx, *dup, *concurrency)
	printBenchResult(result)

	sctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	must(stopEffects(sctx))
	fmt.Println("\n===== 副作用（入队到完成） =====")
	lat := stopCollect()
	printBenchResult(calculateResult("副作用", result.Duration, int64(len(lat)), 0, lat))

	fmt.Println("\n===== 一致性校验 =====")
	ok := verify(ctx, db, fx, effects)
	if !ok {
		os.Exit(1)
	}
	fmt.Println("\n✅ 压测完成！")
}

// benchPayTR 本地压测不需要真实商户凭据，只要签名和验签用同一套即可
func benchPayTR(cfg config.PayTRConfig) config.PayTRConfig {
	if cfg.MerchantKey == "" {
		cfg.MerchantKey = "bench-key"
	}
	if cfg.MerchantSalt == "" {
		cfg.MerchantSalt = "bench-salt"
	}
	return cfg
}

type fixture struct {
	variant *model.ProductVariant
	coupon  *model.Coupon
	oids    []string
	amount  string
}

// seed 每笔支付都带同一张限量优惠券，限量只有支付数的一半，用来制造核销竞争
func seed(ctx context.Context, db *gorm.DB, n int) *fixture {
	tag := fmt.Sprintf("callbackbench-%d", time.Now().UnixNano())
	price := decimal.NewFromInt(1000)
	p := &model.Product{Name: tag, Slug: tag, Price: price, Active: true}
	must(db.WithContext(ctx).Create(p).Error)
	v := &model.ProductVariant{ProductID: p.ID, SKU: tag, Size: "M", Color: "Black", Stock: n}
	must(db.WithContext(ctx).Create(v).Error)

	limit := n / 2
	if limit < 1 {
		limit = 1
	}
	c := &model.Coupon{
		Code:          fmt.Sprintf("BENCH%d", time.Now().UnixNano()),
		DiscountType:  model.DiscountFixed,
		DiscountValue: decimal.NewFromInt(100),
		UsageLimit:    &limit,
		Active:        true,
	}
	must(db.WithContext(ctx).Create(c).Error)

	pricer := service.NewPricer(decimal.NewFromInt(2500), decimal.NewFromInt(150))
	fx := &fixture{variant: v, coupon: c, oids: make([]string, 0, n)}
	for i := 0; i < n; i++ {
		oid, err := service.NewMerchantOid(time.Now())
		must(err)
		lines := model.CartLines{{
			ProductID:   p.ID,
			VariantID:   &v.ID,
			Quantity:    1,
			UnitPrice:   price,
			ProductName: tag,
		}}
		quote := pricer.Price(lines.Subtotal(), service.Discount(c, lines.Subtotal()))
		fx.amount = strconv.FormatInt(gateway.ToMinorUnits(quote.Total), 10)
		must(db.WithContext(ctx).Create(&model.PendingPayment{
			MerchantOid:    oid,
			SessionID:      "bench-" + oid,
			CustomerName:   "Bench User",
			CustomerEmail:  "bench@example.com",
			Address:        model.Address{FullName: "Bench User", Line1: "Bench Sk. 1", City: "Istanbul", Country: "TR"},
			Lines:          lines,
			Subtotal:       quote.Subtotal,
			ShippingCost:   quote.ShippingCost,
			DiscountAmount: quote.DiscountAmount,
			CouponCode:     &c.Code,
			Total:          quote.Total,
			Status:         model.PaymentTokenReceived,
			ExpiresAt:      time.Now().Add(time.Hour),
		}).Error)
		fx.oids = append(fx.oids, oid)
	}
	return fx
}

func benchCallbacks(ctx context.Context, m *service.Materializer, pay *gateway.PayTR, fx *fixture, dup, concurrency int) *BenchResult {
	type job struct{ payload gateway.CallbackPayload }
	jobs := make(chan job)

	var (
		total     int64
		failed    int64
		outMu     sync.Mutex
		outcomes  = make(map[service.Outcome]int64)
		latencies []time.Duration
		latencyMu sync.Mutex
		wg        sync.WaitGroup
	)

	startTime := time.Now()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				reqStart := time.Now()
				out, err := m.HandleCallback(ctx, j.payload)
				latency := time.Since(reqStart)

				atomic.AddInt64(&total, 1)
				if err != nil {
					if n := atomic.AddInt64(&failed, 1); n <= 10 {
						fmt.Printf("回调处理失败 [%d]: %v (merchant_oid=%s)\n", n, err, j.payload.MerchantOid)
					}
				}
				outMu.Lock()
				outcomes[out]++
				outMu.Unlock()
				latencyMu.Lock()
				latencies = append(latencies, latency)
				latencyMu.Unlock()
			}
		}()
	}

	// 同一笔支付的重复回调交错投递，尽量制造并发冲突
	for round := 0; round < dup; round++ {
		for _, oid := range fx.oids {
			jobs <- job{payload: gateway.CallbackPayload{
				MerchantOid: oid,
				Status:      gateway.StatusSuccess,
				TotalAmount: fx.amount,
				Hash:        pay.CallbackHash(oid, gateway.StatusSuccess, fx.amount),
			}}
		}
	}
	close(jobs)
	wg.Wait()

	res := calculateResult("重复回调", time.Since(startTime), total, failed, latencies)
	res.Outcomes = outcomes
	return res
}

func verify(ctx context.Context, db *gorm.DB, fx *fixture, e *effectCounter) bool {
	ok := true
	orders := repository.NewOrderRepository(db)
	coupons := repository.NewCouponRepository(db)

	created, broken := 0, 0
	for _, oid := range fx.oids {
		o, err := orders.GetByOrderNumber(ctx, oid)
		must(err)
		if o == nil {
			continue
		}
		created++
		items, err := orders.ListItems(ctx, o.ID)
		must(err)
		// 订单行小计 + 运费 - 折扣 == 总额
		sum := decimal.Zero
		for _, it := range items {
			sum = sum.Add(it.Subtotal)
		}
		if !sum.Add(o.ShippingCost).Sub(o.DiscountAmount).Round(2).Equal(o.Total.Round(2)) {
			if broken++; broken <= 10 {
				fmt.Printf("⚠️  %s 金额不平: 行合计 %s 运费 %s 折扣 %s 总额 %s\n", oid,
					sum.StringFixed(2), o.ShippingCost.StringFixed(2), o.DiscountAmount.StringFixed(2), o.Total.StringFixed(2))
			}
		}
	}
	fmt.Printf("订单数: %d (期望 %d)\n", created, len(fx.oids))
	fmt.Printf("金额不平的订单: %d\n", broken)
	if created != len(fx.oids) || broken > 0 {
		ok = false
	}

	var v model.ProductVariant
	must(db.First(&v, fx.variant.ID).Error)
	fmt.Printf("剩余库存: %d (期望 0)\n", v.Stock)
	if v.Stock != 0 {
		ok = false
	}

	c, err := coupons.GetByCode(ctx, fx.coupon.Code)
	must(err)
	redemptions, err := coupons.CountRedemptions(ctx, c.ID)
	must(err)
	limit := *fx.coupon.UsageLimit
	fmt.Printf("优惠券使用次数: %d | 核销记录: %d | 限量: %d\n", c.UsageCount, redemptions, limit)
	if int64(c.UsageCount) != redemptions || c.UsageCount > limit {
		ok = false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, oid := range fx.oids {
		if e.confirmations[oid] != 1 || e.admin[oid] != 1 || e.invoices[oid] != 1 {
			fmt.Printf("⚠️  %s 副作用次数 确认邮件=%d 管理员通知=%d 发票=%d\n", oid, e.confirmations[oid], e.admin[oid], e.invoices[oid])
			ok = false
		}
	}
	if ok {
		fmt.Println("✅ 每笔支付恰好一张订单，优惠券未超发")
	} else {
		fmt.Println("❌ 一致性校验失败")
	}
	return ok
}

// collect 后台读取副作用耗时；返回的函数停止读取并取走结果
func collect(ch <-chan time.Duration) func() []time.Duration {
	var (
		mu  sync.Mutex
		out []time.Duration
	)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case d := <-ch:
				mu.Lock()
				out = append(out, d)
				mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
	return func() []time.Duration {
		close(stop)
		<-done
		// 停止前已经写入通道的也取走
		for {
			select {
			case d := <-ch:
				out = append(out, d)
			default:
				mu.Lock()
				defer mu.Unlock()
				return out
			}
		}
	}
}

func calculateResult(name string, duration time.Duration, total, failed int64, latencies []time.Duration) *BenchResult {
	res := &BenchResult{Name: name, Duration: duration, Total: total, Failed: failed}
	if len(latencies) == 0 {
		return res
	}
	res.QPS = float64(total) / duration.Seconds()

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	res.AvgLatency = sum / time.Duration(len(latencies))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	res.P50Latency = percentile(latencies, 0.50)
	res.P95Latency = percentile(latencies, 0.95)
	res.P99Latency = percentile(latencies, 0.99)
	return res
}

// percentile 计算百分位数
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(math.Ceil(float64(len(sorted))*p)) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func printBenchResult(result *BenchResult) {
	fmt.Printf("名称: %s\n", result.Name)
	fmt.Printf("耗时: %v\n", result.Duration)
	fmt.Printf("总回调数: %d\n", result.Total)
	fmt.Printf("处理失败: %d\n", result.Failed)
	outs := make([]service.Outcome, 0, len(result.Outcomes))
	for o := range result.Outcomes {
		outs = append(outs, o)
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i] < outs[j] })
	for _, o := range outs {
		fmt.Printf("  %s: %d\n", o, result.Outcomes[o])
	}
	fmt.Printf("QPS: %.2f\n", result.QPS)
	fmt.Printf("平均延迟: %v\n", result.AvgLatency)
	fmt.Printf("P50 延迟: %v\n", result.P50Latency)
	fmt.Printf("P95 延迟: %v\n", result.P95Latency)
	fmt.Printf("P99 延迟: %v\n", result.P99Latency)
}

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
