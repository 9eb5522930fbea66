package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/repository"
	"github.com/d60-Lab/storefront/pkg/logger"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidCoupon      = errors.New("invalid coupon")
	ErrPasswordRequired   = errors.New("password is required to create an account")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPaymentRejected    = errors.New("payment rejected by provider")
	ErrGatewayUnavailable = gateway.ErrGatewayUnavailable
)

// PaymentGateway 托管支付页网关
type PaymentGateway interface {
	RequestToken(ctx context.Context, req gateway.TokenRequest) (*gateway.TokenResult, error)
	IframeURL(token string) string
	VerifyCallback(payload gateway.CallbackPayload) bool
}

// CheckoutRequest 创建支付所需的客户信息
type CheckoutRequest struct {
	SessionID     string
	UserID        *uint
	ClientIP      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Address       model.Address
	CouponCode    string
	CreateAccount bool
	Password      string
}

// CheckoutResult 前端用来打开支付页
type CheckoutResult struct {
	Token       string `json:"token"`
	MerchantOid string `json:"merchantOid"`
	IframeURL   string `json:"iframeUrl"`
}

// CheckoutService 购物车 -> 待支付记录 -> 网关 token
type CheckoutService struct {
	carts      *CartSnapshotReader
	coupons    *CouponEvaluator
	pricer     *Pricer
	pending    repository.PendingPaymentRepository
	orders     repository.OrderRepository
	gateway    PaymentGateway
	cache      StatusCache
	pendingTTL time.Duration
	now        func() time.Time
}

func NewCheckoutService(
	carts *CartSnapshotReader,
	coupons *CouponEvaluator,
	pricer *Pricer,
	pending repository.PendingPaymentRepository,
	orders repository.OrderRepository,
	gw PaymentGateway,
	cache StatusCache,
	pendingTTL time.Duration,
) *CheckoutService {
	if pendingTTL <= 0 {
		pendingTTL = time.Hour
	}
	if cache == nil {
		cache = noopStatusCache{}
	}
	return &CheckoutService{
		carts:      carts,
		coupons:    coupons,
		pricer:     pricer,
		pending:    pending,
		orders:     orders,
		gateway:    gw,
		cache:      cache,
		pendingTTL: pendingTTL,
		now:        time.Now,
	}
}

// CreatePayment 服务端重新读取购物车和优惠券并定价，落待支付记录后向网关申请 token。
// 网关失败时删除待支付记录，客户端可以直接重试。
func (s *CheckoutService) CreatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	lines, err := s.carts.Read(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	subtotal := lines.Subtotal()
	discount := decimal.Zero
	var couponCode *string
	if code := repository.NormalizeCode(req.CouponCode); code != "" {
		res, err := s.coupons.Validate(ctx, code, subtotal, req.UserID)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCoupon, res.Reason)
		}
		discount = res.Discount
		couponCode = &res.Coupon.Code
	}
	quote := s.pricer.Price(subtotal, discount)

	var passwordHash string
	if req.CreateAccount {
		if req.Password == "" {
			return nil, ErrPasswordRequired
		}
		// 支付前算好哈希，只有真正落单才会建账号
		h, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(h)
	}

	now := s.now()
	oid, err := NewMerchantOid(now)
	if err != nil {
		return nil, fmt.Errorf("generate merchant oid: %w", err)
	}

	p := &model.PendingPayment{
		MerchantOid:    oid,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		CustomerPhone:  req.CustomerPhone,
		Address:        req.Address,
		Lines:          lines,
		Subtotal:       quote.Subtotal,
		ShippingCost:   quote.ShippingCost,
		DiscountAmount: quote.DiscountAmount,
		CouponCode:     couponCode,
		Total:          quote.Total,
		Status:         model.PaymentPending,
		CreateAccount:  req.CreateAccount,
		PasswordHash:   passwordHash,
		ExpiresAt:      now.Add(s.pendingTTL),
	}
	if err := s.pending.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create pending payment: %w", err)
	}

	res, err := s.gateway.RequestToken(ctx, gateway.TokenRequest{
		MerchantOid: oid,
		UserIP:      req.ClientIP,
		Email:       p.CustomerEmail,
		Amount:      quote.Total,
		Basket:      basketOf(lines),
		UserName:    req.CustomerName,
		UserAddress: formatAddress(req.Address),
		UserPhone:   req.CustomerPhone,
	})
	if err != nil {
		s.discard(ctx, oid, err)
		return nil, err
	}
	if res.Status != gateway.StatusSuccess {
		s.discard(ctx, oid, errors.New(res.Reason))
		return nil, fmt.Errorf("%w: %s", ErrPaymentRejected, res.Reason)
	}

	if _, err := s.pending.CompareAndSetStatus(ctx, oid, []string{model.PaymentPending}, model.PaymentTokenReceived, ""); err != nil {
		// token 已拿到，状态推进失败不影响支付
		logger.Warn("mark token received failed", zap.String("merchant_oid", oid), zap.Error(err))
	}

	logger.Info("payment token issued",
		zap.String("merchant_oid", oid),
		zap.String("total", quote.Total.StringFixed(2)),
		zap.Int("items", lines.ItemCount()),
	)
	return &CheckoutResult{Token: res.Token, MerchantOid: oid, IframeURL: s.gateway.IframeURL(res.Token)}, nil
}

func (s *CheckoutService) discard(ctx context.Context, oid string, cause error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.pending.Delete(dctx, oid); err != nil {
		logger.Error("delete pending payment failed", zap.String("merchant_oid", oid), zap.Error(err))
	}
	logger.Warn("payment token request failed", zap.String("merchant_oid", oid), zap.Error(cause))
}

// GetStatus 终态会写入缓存
func (s *CheckoutService) GetStatus(ctx context.Context, merchantOid string) (*PaymentStatus, error) {
	if st, err := s.cache.Get(ctx, merchantOid); err != nil {
		logger.Warn("status cache get failed", zap.String("merchant_oid", merchantOid), zap.Error(err))
	} else if st != nil {
		return st, nil
	}

	p, err := s.pending.GetByMerchantOid(ctx, merchantOid)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}

	st := &PaymentStatus{Status: p.Status}
	if p.Status == model.PaymentCompleted {
		order, err := s.orders.GetByOrderNumber(ctx, merchantOid)
		if err != nil {
			return nil, err
		}
		if order != nil {
			st.OrderNumber = order.OrderNumber
			st.OrderID = order.ID
		}
	}
	if p.IsTerminal() {
		if err := s.cache.Set(ctx, merchantOid, st); err != nil {
			logger.Warn("status cache set failed", zap.String("merchant_oid", merchantOid), zap.Error(err))
		}
	}
	return st, nil
}

func basketOf(lines model.CartLines) []gateway.BasketItem {
	items := make([]gateway.BasketItem, 0, len(lines))
	for _, l := range lines {
		name := l.ProductName
		if l.VariantDescription != "" {
			name += " (" + l.VariantDescription + ")"
		}
		items = append(items, gateway.BasketItem{Name: name, Price: l.UnitPrice, Quantity: l.Quantity})
	}
	return items
}

func formatAddress(a model.Address) string {
	parts := make([]string, 0, 6)
	for _, s := range []string{a.Line1, a.Line2, a.District, a.City, a.PostalCode, a.Country} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
