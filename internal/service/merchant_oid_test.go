package service

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMerchantOid(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	re := regexp.MustCompile(`^SP1700000000123[A-Z0-9]{6}$`)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		oid, err := NewMerchantOid(now)
		require.NoError(t, err)
		assert.Regexp(t, re, oid)
		seen[oid] = struct{}{}
	}
	// 同一毫秒内靠随机后缀区分
	assert.Greater(t, len(seen), 190)
}
