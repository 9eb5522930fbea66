package handler

import (
	"context"

	"github.com/d60-Lab/storefront/internal/gateway"
	"github.com/d60-Lab/storefront/internal/service"
)

// CheckoutService 创建支付与查询状态
type CheckoutService interface {
	CreatePayment(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	GetStatus(ctx context.Context, merchantOid string) (*service.PaymentStatus, error)
}

// CallbackProcessor 处理网关回调
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, payload gateway.CallbackPayload) (service.Outcome, error)
}

// Handler HTTP 处理器
type Handler struct {
	checkout  CheckoutService
	callbacks CallbackProcessor
}

func NewHandler(checkout CheckoutService, callbacks CallbackProcessor) *Handler {
	return &Handler{checkout: checkout, callbacks: callbacks}
}
