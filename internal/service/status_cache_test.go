package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStatusCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisStatusCache(client, time.Minute)
	ctx := context.Background()

	st, err := c.Get(ctx, "SP1")
	require.NoError(t, err)
	assert.Nil(t, st)

	want := &PaymentStatus{Status: "completed", OrderNumber: "SP1", OrderID: 42}
	require.NoError(t, c.Set(ctx, "SP1", want))
	st, err = c.Get(ctx, "SP1")
	require.NoError(t, err)
	assert.Equal(t, want, st)

	mr.FastForward(2 * time.Minute)
	st, err = c.Get(ctx, "SP1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestNilClientStatusCache(t *testing.T) {
	c := NewRedisStatusCache(nil, time.Minute)
	require.NoError(t, c.Set(context.Background(), "SP1", &PaymentStatus{Status: "failed"}))
	st, err := c.Get(context.Background(), "SP1")
	require.NoError(t, err)
	assert.Nil(t, st)
}
