package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/storefront/internal/api/middleware"
	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/model"
	"github.com/d60-Lab/storefront/internal/service"
	"github.com/d60-Lab/storefront/pkg/logger"
	"github.com/d60-Lab/storefront/pkg/response"
)

const (
	HeaderSessionID = "X-Session-ID"
	cookieSessionID = "session_id"
	callbackTimeout = 30 * time.Second
)

type addressRequest struct {
	FullName   string `json:"fullName" binding:"required,max=255"`
	Phone      string `json:"phone" binding:"omitempty,phone"`
	Line1      string `json:"line1" binding:"required,max=255"`
	Line2      string `json:"line2" binding:"max=255"`
	District   string `json:"district" binding:"max=128"`
	City       string `json:"city" binding:"required,max=128"`
	PostalCode string `json:"postalCode" binding:"max=16"`
	Country    string `json:"country" binding:"omitempty,len=2"`
}

type createPaymentRequest struct {
	CustomerName    string         `json:"customerName" binding:"required,max=255"`
	CustomerEmail   string         `json:"customerEmail" binding:"required,email,max=255"`
	CustomerPhone   string         `json:"customerPhone" binding:"required,phone"`
	ShippingAddress addressRequest `json:"shippingAddress"`
	CouponCode      string         `json:"couponCode" binding:"max=64"`
	CreateAccount   bool           `json:"createAccount"`
	Password        string         `json:"password" binding:"required_if=CreateAccount true,omitempty,min=8,max=72"`
}

type statusURI struct {
	MerchantOid string `uri:"merchantOid" binding:"required,merchant_oid"`
}

func sessionID(c *gin.Context) string {
	if id := c.GetHeader(HeaderSessionID); id != "" {
		return id
	}
	id, _ := c.Cookie(cookieSessionID)
	return id
}

// CreatePayment 创建支付
// @Summary 创建支付并获取托管支付页
// @Tags 支付
// @Accept json
// @Produce json
// @Param X-Session-ID header string false "购物车会话 ID（也可用 session_id cookie）"
// @Param request body createPaymentRequest true "客户与收货信息"
// @Success 200 {object} response.Response{data=service.CheckoutResult}
// @Failure 400 {object} response.Response
// @Failure 429 {object} response.Response
// @Failure 502 {object} response.Response
// @Router /api/payment/create [post]
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sid := sessionID(c)
	if sid == "" {
		response.BadRequest(c, "missing cart session")
		return
	}

	addr := req.ShippingAddress
	country := addr.Country
	if country == "" {
		country = "TR"
	}
	res, err := h.checkout.CreatePayment(c.Request.Context(), service.CheckoutRequest{
		SessionID:     sid,
		UserID:        middleware.UserID(c),
		ClientIP:      c.ClientIP(),
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Address: model.Address{
			FullName:   addr.FullName,
			Phone:      addr.Phone,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			District:   addr.District,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    country,
		},
		CouponCode:    req.CouponCode,
		CreateAccount: req.CreateAccount,
		Password:      req.Password,
	})
	switch {
	case err == nil:
		response.Success(c, res)
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidCoupon),
		errors.Is(err, service.ErrPasswordRequired),
		errors.Is(err, service.ErrPaymentRejected):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrGatewayUnavailable):
		logger.Warn("payment provider unavailable", zap.Error(err))
		response.Error(c, http.StatusBadGateway, "payment provider unavailable")
	default:
		response.InternalError(c, err)
	}
}

// GetPaymentStatus 查询支付状态
// @Summary 查询支付状态（前端轮询）
// @Tags 支付
// @Produce json
// @Param merchantOid path string true "商户订单号"
// @Success 200 {object} response.Response{data=service.PaymentStatus}
// @Failure 404 {object} response.Response
// @Router /api/payment/status/{merchantOid} [get]
func (h *Handler) GetPaymentStatus(c *gin.Context) {
	var uri statusURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BadRequest(c, "invalid merchant oid")
		return
	}
	st, err := h.checkout.GetStatus(c.Request.Context(), uri.MerchantOid)
	if errors.Is(err, service.ErrPaymentNotFound) {
		response.NotFound(c, "payment not found")
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, st)
}

// PaymentCallback 网关异步通知
// @Summary 支付网关回调（仅供网关调用）
// @Tags 支付
// @Accept x-www-form-urlencoded
// @Produce plain
// @Param merchant_oid formData string true "商户订单号"
// @Param status formData string true "success | failed"
// @Param total_amount formData string true "支付金额"
// @Param hash formData string true "签名"
// @Success 200 {string} string "OK"
// @Router /api/payment/callback [post]
func (h *Handler) PaymentCallback(c *gin.Context) {
	// 任何路径都必须回 OK，否则网关会无限重试
	defer func() {
		if r := recover(); r != nil {
			logger.Error("payment callback panic", zap.Any("panic", r))
			if hub := sentry.CurrentHub(); hub != nil {
				hub.Recover(r)
			}
		}
		c.String(http.StatusOK, gateway.CallbackAck)
	}()

	var payload gateway.CallbackPayload
	if err := c.ShouldBind(&payload); err != nil {
		logger.Warn("malformed payment callback", zap.Error(err))
		return
	}

	// 网关断开连接不应打断落单
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), callbackTimeout)
	defer cancel()

	out, err := h.callbacks.HandleCallback(ctx, payload)
	if err != nil {
		logger.Error("payment callback processing failed",
			zap.String("merchant_oid", payload.MerchantOid),
			zap.Error(err),
		)
		sentry.CaptureException(fmt.Errorf("payment callback %s: %w", payload.MerchantOid, err))
		return
	}
	logger.Info("payment callback handled",
		zap.String("merchant_oid", payload.MerchantOid),
		zap.String("status", payload.Status),
		zap.String("outcome", out.String()),
	)
}
