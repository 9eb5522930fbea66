package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/d60-Lab/storefront/config"
	"github.com/d60-Lab/storefront/internal/model"
)

// Invoicer 为已落单的订单提交销售发票
type Invoicer interface {
	SubmitInvoice(ctx context.Context, order *model.Order, items []*model.OrderItem) error
}

// SKULookup 按规格查 SKU，未知时返回空串
type SKULookup func(ctx context.Context, variantID uint) (string, error)

type invoiceLine struct {
	SKU       string `json:"sku,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

type invoicePayload struct {
	ExternalID    string        `json:"external_id"`
	IssueDate     string        `json:"issue_date"`
	Currency      string        `json:"currency"`
	CustomerName  string        `json:"customer_name"`
	CustomerEmail string        `json:"customer_email"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Address       model.Address `json:"address"`
	Lines         []invoiceLine `json:"lines"`
	Shipping      string        `json:"shipping"`
	Discount      string        `json:"discount"`
	Total         string        `json:"total"`
}

// InvoiceClient 以 JSON 向记账服务提交发票
type InvoiceClient struct {
	cfg        config.InvoiceConfig
	httpClient *http.Client
	skus       SKULookup
}

func NewInvoiceClient(cfg config.InvoiceConfig, skus SKULookup) *InvoiceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &InvoiceClient{cfg: cfg, httpClient: &http.Client{Timeout: timeout}, skus: skus}
}

func (c *InvoiceClient) SubmitInvoice(ctx context.Context, order *model.Order, items []*model.OrderItem) error {
	if !c.cfg.Enabled {
		return nil
	}
	payload := invoicePayload{
		ExternalID:    order.OrderNumber,
		IssueDate:     order.CreatedAt.Format("2006-01-02"),
		Currency:      "TRY",
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		Address:       order.Address,
		Shipping:      order.ShippingCost.StringFixed(2),
		Discount:      order.DiscountAmount.StringFixed(2),
		Total:         order.Total.StringFixed(2),
	}
	for _, it := range items {
		line := invoiceLine{
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Total:     it.Subtotal.StringFixed(2),
		}
		if it.VariantDescription != "" {
			line.Name += " - " + it.VariantDescription
		}
		if it.VariantID != nil && c.skus != nil {
			sku, err := c.skus(ctx, *it.VariantID)
			if err != nil {
				return fmt.Errorf("lookup sku for variant %d: %w", *it.VariantID, err)
			}
			line.SKU = sku
		}
		payload.Lines = append(payload.Lines, line)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/sales_invoices", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit invoice %s: %w", order.OrderNumber, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("submit invoice %s: status %d: %s", order.OrderNumber, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
