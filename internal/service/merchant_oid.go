package service

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	merchantOidPrefix   = "SP"
	merchantOidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	merchantOidSuffix   = 6
)

// NewMerchantOid 生成 "SP" + 毫秒时间戳 + 6 位随机大写字母数字；网关只接受字母数字
func NewMerchantOid(now time.Time) (string, error) {
	buf := make([]byte, 0, len(merchantOidPrefix)+13+merchantOidSuffix)
	buf = append(buf, merchantOidPrefix...)
	buf = strconv.AppendInt(buf, now.UnixMilli(), 10)
	max := big.NewInt(int64(len(merchantOidAlphabet)))
	for i := 0; i < merchantOidSuffix; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf = append(buf, merchantOidAlphabet[n.Int64()])
	}
	return string(buf), nil
}
