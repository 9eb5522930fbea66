// Package gateway PayTR 托管支付页接口
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/d60-Lab/storefront/config"
)

const (
	tokenPath  = "/odeme/api/get-token"
	iframePath = "/odeme/guvenli/"

	StatusSuccess = "success"
	StatusFailed  = "failed"

	// CallbackAck PayTR 只认这个响应体，其他任何响应都会触发重试
	CallbackAck = "OK"
)

// ErrGatewayUnavailable 网络错误、超时或非 200 响应
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// BasketItem 购物篮行
type BasketItem struct {
	Name     string
	Price    decimal.Decimal
	Quantity int
}

// TokenRequest 申请支付页 token 所需的信息
type TokenRequest struct {
	MerchantOid string
	UserIP      string
	Email       string
	Amount      decimal.Decimal
	Basket      []BasketItem
	UserName    string
	UserAddress string
	UserPhone   string
}

// TokenResult status 为 failed 时 Reason 为网关给出的原因
type TokenResult struct {
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CallbackPayload 网关异步通知
type CallbackPayload struct {
	MerchantOid      string `form:"merchant_oid" json:"merchant_oid"`
	Status           string `form:"status" json:"status"`
	TotalAmount      string `form:"total_amount" json:"total_amount"`
	Hash             string `form:"hash" json:"hash"`
	FailedReasonCode string `form:"failed_reason_code" json:"failed_reason_code,omitempty"`
	FailedReasonMsg  string `form:"failed_reason_msg" json:"failed_reason_msg,omitempty"`
	PaymentType      string `form:"payment_type" json:"payment_type,omitempty"`
	Currency         string `form:"currency" json:"currency,omitempty"`
}

// PayTR 网关客户端
type PayTR struct {
	cfg        config.PayTRConfig
	httpClient *http.Client
}

func NewPayTR(cfg config.PayTRConfig) *PayTR {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PayTR{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// ToMinorUnits 金额转为最小货币单位（整数，避免浮点）
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// IframeURL 由 token 拼出托管支付页地址
func (p *PayTR) IframeURL(token string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + iframePath + token
}

func (p *PayTR) sign(parts ...string) string {
	mac := hmac.New(sha256.New, []byte(p.cfg.MerchantKey))
	mac.Write([]byte(strings.Join(parts, "")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// EncodeBasket base64(JSON [[name, price(minor units), qty], ...])
func EncodeBasket(items []BasketItem) (string, error) {
	rows := make([][]interface{}, 0, len(items))
	for _, it := range items {
		rows = append(rows, []interface{}{it.Name, strconv.FormatInt(ToMinorUnits(it.Price), 10), it.Quantity})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// TokenForm 构造签名后的表单；导出便于测试签名串
func (p *PayTR) TokenForm(req TokenRequest) (url.Values, error) {
	basket, err := EncodeBasket(req.Basket)
	if err != nil {
		return nil, fmt.Errorf("encode basket: %w", err)
	}
	amount := strconv.FormatInt(ToMinorUnits(req.Amount), 10)
	noInstallment := boolFlag(p.cfg.NoInstallment)
	maxInstallment := strconv.Itoa(p.cfg.MaxInstallment)
	testMode := boolFlag(p.cfg.TestMode)

	token := p.sign(
		p.cfg.MerchantID, req.UserIP, req.MerchantOid, req.Email, amount, basket,
		noInstallment, maxInstallment, p.cfg.Currency, testMode, p.cfg.MerchantSalt,
	)

	form := url.Values{}
	form.Set("merchant_id", p.cfg.MerchantID)
	form.Set("user_ip", req.UserIP)
	form.Set("merchant_oid", req.MerchantOid)
	form.Set("email", req.Email)
	form.Set("payment_amount", amount)
	form.Set("paytr_token", token)
	form.Set("user_basket", basket)
	form.Set("debug_on", testMode)
	form.Set("no_installment", noInstallment)
	form.Set("max_installment", maxInstallment)
	form.Set("user_name", req.UserName)
	form.Set("user_address", req.UserAddress)
	form.Set("user_phone", req.UserPhone)
	form.Set("merchant_ok_url", p.cfg.OkURL)
	form.Set("merchant_fail_url", p.cfg.FailURL)
	form.Set("timeout_limit", strconv.Itoa(p.cfg.TimeoutLimit))
	form.Set("currency", p.cfg.Currency)
	form.Set("test_mode", testMode)
	form.Set("lang", p.cfg.Lang)
	return form, nil
}

// RequestToken 申请托管支付页 token；网关拒绝时返回 status=failed 的结果而非 error
func (p *PayTR) RequestToken(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	form, err := p.TokenForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var res TokenResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	if res.Status == StatusSuccess && res.Token == "" {
		return &TokenResult{Status: StatusFailed, Reason: "empty token"}, nil
	}
	if res.Status != StatusSuccess {
		res.Status = StatusFailed
	}
	return &res, nil
}

// CallbackHash base64(HMAC-SHA256(merchant_oid + salt + status + total_amount))
func (p *PayTR) CallbackHash(merchantOid, status, totalAmount string) string {
	return p.sign(merchantOid, p.cfg.MerchantSalt, status, totalAmount)
}

// VerifyCallback 常量时间比较；这是入站 webhook 唯一的认证手段
func (p *PayTR) VerifyCallback(payload CallbackPayload) bool {
	if payload.MerchantOid == "" || payload.Hash == "" || p.cfg.MerchantKey == "" {
		return false
	}
	expected := p.CallbackHash(payload.MerchantOid, payload.Status, payload.TotalAmount)
	return hmac.Equal([]byte(expected), []byte(payload.Hash))
}
