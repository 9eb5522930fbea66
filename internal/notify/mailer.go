// Package notify 落单后尽力而为的外部协作方：交易邮件与开票
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/d60-Lab/storefront/config"
	"github.com/d60-Lab/storefront/internal/model"
)

// Mailer 订单邮件
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, order *model.Order, items []*model.OrderItem) error
	SendAdminNotification(ctx context.Context, order *model.Order, items []*model.OrderItem) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer 走 SMTP，配置了用户名时使用 PLAIN 认证
type SMTPMailer struct {
	cfg  config.MailConfig
	send sendFunc
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, order *model.Order, items []*model.OrderItem) error {
	subject := fmt.Sprintf("Siparişiniz alındı #%s", order.OrderNumber)
	body := fmt.Sprintf("Merhaba %s,\r\n\r\nSiparişiniz için teşekkür ederiz.\r\n\r\n%s", order.CustomerName, OrderSummary(order, items))
	return m.deliver(ctx, order.CustomerEmail, subject, body)
}

func (m *SMTPMailer) SendAdminNotification(ctx context.Context, order *model.Order, items []*model.OrderItem) error {
	if m.cfg.AdminEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("Yeni sipariş #%s (%s TL)", order.OrderNumber, order.Total.StringFixed(2))
	body := fmt.Sprintf("Müşteri: %s <%s> %s\r\nAdres: %s, %s\r\n\r\n%s",
		order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.Address.Line1, order.Address.City, OrderSummary(order, items))
	return m.deliver(ctx, m.cfg.AdminEmail, subject, body)
}

func (m *SMTPMailer) deliver(ctx context.Context, to, subject, body string) error {
	if m.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// OrderSummary 纯文本的订单行与金额汇总
func OrderSummary(order *model.Order, items []*model.OrderItem) string {
	var b strings.Builder
	for _, it := range items {
		name := it.ProductName
		if it.VariantDescription != "" {
			name += " (" + it.VariantDescription + ")"
		}
		fmt.Fprintf(&b, "%d x %s  %s TL\r\n", it.Quantity, name, it.Subtotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\r\nAra toplam: %s TL\r\n", order.Subtotal.StringFixed(2))
	if order.DiscountAmount.IsPositive() {
		fmt.Fprintf(&b, "İndirim: -%s TL\r\n", order.DiscountAmount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Kargo: %s TL\r\n", order.ShippingCost.StringFixed(2))
	fmt.Fprintf(&b, "Toplam: %s TL\r\n", order.Total.StringFixed(2))
	return b.String()
}
