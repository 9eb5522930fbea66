package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/lock"
	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/pkg/logger"
)

// Outcome 一次回调处理的结果
type Outcome int

const (
	OutcomeMaterialized Outcome = iota + 1
	OutcomeAlreadyFinal
	OutcomeUnknown
	OutcomeRejected
	OutcomeFailed
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMaterialized:
		return "materialized"
	case OutcomeAlreadyFinal:
		return "already_final"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// ReasonExpired 过期后才到达的支付成功回调
const ReasonExpired = "expired"

// CallbackVerifier 校验网关回调签名
type CallbackVerifier interface {
	VerifyCallback(payload gateway.CallbackPayload) bool
}

// EffectDispatcher 落单后的旁路副作用
type EffectDispatcher interface {
	Dispatch(order *model.Order, items []*model.OrderItem)
}

var errAlreadyFinal = errors.New("pending payment already final")

// Materializer 把已确认的支付恰好一次地落成订单
type Materializer struct {
	db         *gorm.DB
	verifier   CallbackVerifier
	locker     lock.Locker
	lockTTL    time.Duration
	pending    repository.PendingPaymentRepository
	orders     repository.OrderRepository
	stock      repository.StockRepository
	coupons    repository.CouponRepository
	catalog    repository.CatalogRepository
	users      repository.UserRepository
	cache      StatusCache
	dispatcher EffectDispatcher
	tracer     trace.Tracer
	now        func() time.Time
}

func NewMaterializer(
	db *gorm.DB,
	verifier CallbackVerifier,
	locker lock.Locker,
	lockTTL time.Duration,
	cache StatusCache,
	dispatcher EffectDispatcher,
) *Materializer {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	if cache == nil {
		cache = noopStatusCache{}
	}
	return &Materializer{
		db:         db,
		verifier:   verifier,
		locker:     locker,
		lockTTL:    lockTTL,
		pending:    repository.NewPendingPaymentRepository(db),
		orders:     repository.NewOrderRepository(db),
		stock:      repository.NewStockRepository(db),
		coupons:    repository.NewCouponRepository(db),
		catalog:    repository.NewCatalogRepository(db),
		users:      repository.NewUserRepository(db),
		cache:      cache,
		dispatcher: dispatcher,
		tracer:     otel.Tracer("github.com/d60-Lab/storefront/internal/service"),
		now:        time.Now,
	}
}

// HandleCallback 签名不对直接拒绝且不写库；成功回调落单，失败回调只标记 failed
func (m *Materializer) HandleCallback(ctx context.Context, payload gateway.CallbackPayload) (Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "payment.callback", trace.WithAttributes(
		attribute.String("merchant_oid", payload.MerchantOid),
		attribute.String("status", payload.Status),
	))
	defer span.End()

	if !m.verifier.VerifyCallback(payload) {
		logger.Warn("callback hash mismatch", zap.String("merchant_oid", payload.MerchantOid))
		span.SetAttributes(attribute.String("outcome", OutcomeRejected.String()))
		return OutcomeRejected, nil
	}

	var (
		out Outcome
		err error
	)
	if payload.Status == gateway.StatusSuccess {
		out, err = m.materialize(ctx, payload.MerchantOid, payload.TotalAmount)
	} else {
		out, err = m.MarkFailed(ctx, payload.MerchantOid, failureReason(payload))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", out.String()))
	return out, err
}

func failureReason(p gateway.CallbackPayload) string {
	reason := strings.TrimSpace(p.FailedReasonCode + " " + p.FailedReasonMsg)
	if reason == "" {
		reason = "payment failed"
	}
	if len(reason) > 255 {
		reason = reason[:255]
	}
	return reason
}

func logExpiredPayment(p *model.PendingPayment) {
	logger.Error("paid callback for expired checkout, manual refund required",
		zap.String("merchant_oid", p.MerchantOid),
		zap.Time("expires_at", p.ExpiresAt),
		zap.String("total", p.Total.StringFixed(2)),
	)
}

// Materialize 按 merchant oid 落单，重复调用是幂等的空操作。
// 不验签也不核对金额，调用方必须已经确认这笔支付成功（例如对账后手工补单）。
func (m *Materializer) Materialize(ctx context.Context, merchantOid string) (Outcome, error) {
	return m.materialize(ctx, merchantOid, "")
}

// materialize paidAmount 为空时跳过金额核对
func (m *Materializer) materialize(ctx context.Context, oid, paidAmount string) (Outcome, error) {
	release, err := m.locker.Acquire(ctx, "materialize:"+oid, m.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire materialize lock: %w", err)
	}
	defer release()

	p, err := m.pending.GetByMerchantOid(ctx, oid)
	if err != nil {
		return 0, fmt.Errorf("load pending payment: %w", err)
	}
	if p == nil {
		logger.Info("callback for unknown merchant oid", zap.String("merchant_oid", oid))
		return OutcomeUnknown, nil
	}
	if p.IsTerminal() {
		// 清理任务先一步把过期记录置为 failed，钱已经扣了，同样需要人工退款
		if p.Status == model.PaymentFailed && p.FailureReason == ReasonExpired {
			logExpiredPayment(p)
			return OutcomeExpired, nil
		}
		logger.Info("callback for final payment ignored", zap.String("merchant_oid", oid), zap.String("status", p.Status))
		return OutcomeAlreadyFinal, nil
	}
	if paidAmount != "" && !amountMatches(paidAmount, p.Total) {
		logger.Error("callback amount differs from checkout total",
			zap.String("merchant_oid", oid),
			zap.String("paid", paidAmount),
			zap.String("expected", p.Total.StringFixed(2)),
		)
	}
	if p.Expired(m.now()) {
		if _, err := m.pending.CompareAndSetStatus(ctx, oid, repository.OpenStatuses, model.PaymentFailed, ReasonExpired); err != nil {
			return 0, fmt.Errorf("expire pending payment: %w", err)
		}
		logExpiredPayment(p)
		m.cacheStatus(ctx, oid, &PaymentStatus{Status: model.PaymentFailed})
		return OutcomeExpired, nil
	}

	var (
		order *model.Order
		items []*model.OrderItem
	)
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, items, txErr = m.materializeTx(ctx, tx, p)
		return txErr
	})
	if errors.Is(err, errAlreadyFinal) {
		logger.Info("concurrent callback already materialized", zap.String("merchant_oid", oid))
		return OutcomeAlreadyFinal, nil
	}
	if err != nil {
		return 0, fmt.Errorf("materialize %s: %w", oid, err)
	}

	logger.Info("order materialized",
		zap.String("order_number", order.OrderNumber),
		zap.Uint("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("items", len(items)),
	)

	if p.CreateAccount {
		m.createAccount(ctx, p)
	}
	m.cacheStatus(ctx, oid, &PaymentStatus{Status: model.PaymentCompleted, OrderNumber: order.OrderNumber, OrderID: order.ID})
	if m.dispatcher != nil {
		m.dispatcher.Dispatch(order, items)
	}
	return OutcomeMaterialized, nil
}

// materializeTx 订单、订单行、库存、优惠券核销与清空购物车在同一事务内完成
func (m *Materializer) materializeTx(ctx context.Context, tx *gorm.DB, p *model.PendingPayment) (*model.Order, []*model.OrderItem, error) {
	oid := p.MerchantOid

	ok, err := m.pending.WithTx(tx).CompareAndSetStatus(ctx, oid, repository.OpenStatuses, model.PaymentCompleted, "")
	if err != nil {
		return nil, nil, fmt.Errorf("complete pending payment: %w", err)
	}
	if !ok {
		return nil, nil, errAlreadyFinal
	}

	coupons := m.coupons.WithTx(tx)
	var (
		coupon *model.Coupon
		notes  []string
	)
	if p.CouponCode != nil && *p.CouponCode != "" {
		coupon, err = coupons.GetByCode(ctx, *p.CouponCode)
		if err != nil {
			return nil, nil, fmt.Errorf("load coupon: %w", err)
		}
		if coupon == nil {
			notes = append(notes, fmt.Sprintf("coupon %s no longer exists, redemption not recorded", *p.CouponCode))
		} else {
			claimed, err := coupons.IncrementUsage(ctx, coupon.ID)
			if err != nil {
				return nil, nil, fmt.Errorf("claim coupon usage: %w", err)
			}
			if !claimed {
				notes = append(notes, fmt.Sprintf("coupon %s usage limit reached at payment time, redemption not recorded", coupon.Code))
				coupon = nil
			}
		}
	}

	order := &model.Order{
		OrderNumber:    oid,
		UserID:         p.UserID,
		CustomerName:   p.CustomerName,
		CustomerEmail:  p.CustomerEmail,
		CustomerPhone:  p.CustomerPhone,
		Address:        p.Address,
		Subtotal:       p.Subtotal,
		ShippingCost:   p.ShippingCost,
		DiscountAmount: p.DiscountAmount,
		Total:          p.Total,
		CouponCode:     p.CouponCode,
		Status:         model.OrderStatusConfirmed,
		PaymentStatus:  model.PaymentStatusPaid,
	}

	stock := m.stock.WithTx(tx)
	items := make([]*model.OrderItem, 0, len(p.Lines))
	for _, l := range p.Lines {
		items = append(items, &model.OrderItem{
			ProductID:          l.ProductID,
			VariantID:          l.VariantID,
			ProductName:        l.ProductName,
			VariantDescription: l.VariantDescription,
			UnitPrice:          l.UnitPrice,
			Quantity:           l.Quantity,
			Subtotal:           l.LineTotal(),
		})
		if l.VariantID == nil {
			continue
		}
		if _, err := stock.DecrementForSale(ctx, *l.VariantID, l.Quantity, oid); err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil, err
			}
			notes = append(notes, fmt.Sprintf("variant %d missing, stock not adjusted", *l.VariantID))
		}
	}

	if len(notes) > 0 {
		order.Notes = strings.Join(notes, "; ")
		logger.Warn("order materialized with notes", zap.String("merchant_oid", oid), zap.String("notes", order.Notes))
	}

	orders := m.orders.WithTx(tx)
	if err := orders.Create(ctx, order); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, nil, errAlreadyFinal
		}
		return nil, nil, fmt.Errorf("create order: %w", err)
	}
	for _, it := range items {
		it.OrderID = order.ID
	}
	if err := orders.CreateItems(ctx, items); err != nil {
		return nil, nil, fmt.Errorf("create order items: %w", err)
	}

	if coupon != nil {
		commission := Commission(coupon, p.Total)
		red := &model.CouponRedemption{
			CouponID:         coupon.ID,
			OrderID:          order.ID,
			UserID:           p.UserID,
			DiscountAmount:   p.DiscountAmount,
			CommissionAmount: commission,
		}
		if coupon.IsInfluencer {
			red.CommissionType = coupon.CommissionType
			red.CommissionValue = coupon.CommissionValue
		}
		if err := coupons.CreateRedemption(ctx, red); err != nil {
			return nil, nil, fmt.Errorf("record coupon redemption: %w", err)
		}
		if commission.IsPositive() {
			if err := coupons.AddCommission(ctx, coupon.ID, commission); err != nil {
				return nil, nil, fmt.Errorf("accrue commission: %w", err)
			}
		}
	}

	if err := m.catalog.WithTx(tx).ClearCart(ctx, p.SessionID); err != nil {
		return nil, nil, fmt.Errorf("clear cart: %w", err)
	}
	return order, items, nil
}

// createAccount 失败只记日志，不影响已落的订单
func (m *Materializer) createAccount(ctx context.Context, p *model.PendingPayment) {
	if p.PasswordHash == "" {
		return
	}
	existing, err := m.users.GetByEmail(ctx, p.CustomerEmail)
	if err != nil {
		logger.Error("lookup user for account creation failed", zap.String("merchant_oid", p.MerchantOid), zap.Error(err))
		return
	}
	if existing != nil {
		return
	}
	user := &model.User{
		Email:        p.CustomerEmail,
		Name:         p.CustomerName,
		Phone:        p.CustomerPhone,
		PasswordHash: p.PasswordHash,
	}
	addr := &model.UserAddress{Title: "Default", Address: p.Address, IsDefault: true}
	if err := m.users.CreateWithAddress(ctx, user, addr); err != nil {
		logger.Error("create account after checkout failed", zap.String("merchant_oid", p.MerchantOid), zap.Error(err))
		return
	}
	logger.Info("account created from checkout", zap.String("merchant_oid", p.MerchantOid), zap.Uint("user_id", user.ID))
}

// MarkFailed 网关回调失败或过期清理；只对未终结的记录生效
func (m *Materializer) MarkFailed(ctx context.Context, merchantOid, reason string) (Outcome, error) {
	release, err := m.locker.Acquire(ctx, "materialize:"+merchantOid, m.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire materialize lock: %w", err)
	}
	defer release()

	ok, err := m.pending.CompareAndSetStatus(ctx, merchantOid, repository.OpenStatuses, model.PaymentFailed, reason)
	if err != nil {
		return 0, fmt.Errorf("mark pending payment failed: %w", err)
	}
	if !ok {
		p, err := m.pending.GetByMerchantOid(ctx, merchantOid)
		if err != nil {
			return 0, fmt.Errorf("load pending payment: %w", err)
		}
		if p == nil {
			logger.Info("failure callback for unknown merchant oid", zap.String("merchant_oid", merchantOid))
			return OutcomeUnknown, nil
		}
		return OutcomeAlreadyFinal, nil
	}
	logger.Info("payment failed", zap.String("merchant_oid", merchantOid), zap.String("reason", reason))
	m.cacheStatus(ctx, merchantOid, &PaymentStatus{Status: model.PaymentFailed})
	return OutcomeFailed, nil
}

func (m *Materializer) cacheStatus(ctx context.Context, oid string, st *PaymentStatus) {
	if err := m.cache.Set(ctx, oid, st); err != nil {
		logger.Warn("status cache set failed", zap.String("merchant_oid", oid), zap.Error(err))
	}
}

// amountMatches 网关以最小货币单位回传金额，也接受带小数的主单位写法
func amountMatches(paid string, total decimal.Decimal) bool {
	d, err := decimal.NewFromString(strings.TrimSpace(paid))
	if err != nil {
		return false
	}
	if strings.Contains(paid, ".") {
		return d.Equal(total.Round(2))
	}
	return d.IntPart() == gateway.ToMinorUnits(total)
}
