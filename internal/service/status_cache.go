package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// PaymentStatus 前端轮询的支付状态
type PaymentStatus struct {
	Status      string `json:"status"`
	OrderNumber string `json:"orderNumber,omitempty"`
	OrderID     uint   `json:"orderId,omitempty"`
}

// StatusCache 缓存终态，轮询请求不必每次查库
type StatusCache interface {
	Get(ctx context.Context, merchantOid string) (*PaymentStatus, error)
	Set(ctx context.Context, merchantOid string, st *PaymentStatus) error
}

type redisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusCache client 为 nil 时返回空实现
func NewRedisStatusCache(client *redis.Client, ttl time.Duration) StatusCache {
	if client == nil {
		return noopStatusCache{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisStatusCache{client: client, ttl: ttl}
}

func statusKey(oid string) string { return "payment:status:" + oid }

func (c *redisStatusCache) Get(ctx context.Context, merchantOid string) (*PaymentStatus, error) {
	raw, err := c.client.Get(ctx, statusKey(merchantOid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st PaymentStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *redisStatusCache) Set(ctx context.Context, merchantOid string, st *PaymentStatus) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(merchantOid), raw, c.ttl).Err()
}

type noopStatusCache struct{}

func (noopStatusCache) Get(context.Context, string) (*PaymentStatus, error) { return nil, nil }
func (noopStatusCache) Set(context.Context, string, *PaymentStatus) error   { return nil }
