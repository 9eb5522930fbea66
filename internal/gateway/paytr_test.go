package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/storefront/config"
)

func testConfig(baseURL string) config.PayTRConfig {
	return config.PayTRConfig{
		MerchantID:     "100200",
		MerchantKey:    "merchant-key",
		MerchantSalt:   "merchant-salt",
		BaseURL:        baseURL,
		OkURL:          "https://shop.example/ok",
		FailURL:        "https://shop.example/fail",
		TestMode:       true,
		MaxInstallment: 0,
		TimeoutLimit:   30,
		Currency:       "TL",
		Lang:           "tr",
		RequestTimeout: 2 * time.Second,
	}
}

func hmacB64(key, msg string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func sampleRequest() TokenRequest {
	return TokenRequest{
		MerchantOid: "SP1700000000000ABCDEF",
		UserIP:      "203.0.113.9",
		Email:       "ada@example.com",
		Amount:      decimal.RequireFromString("2700"),
		Basket: []BasketItem{
			{Name: "Oversize Tee", Price: decimal.RequireFromString("1000"), Quantity: 3},
		},
		UserName:    "Ada Lovelace",
		UserAddress: "Moda Cd. 1, Istanbul",
		UserPhone:   "5551234567",
	}
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(270000), ToMinorUnits(decimal.RequireFromString("2700")))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
}

func TestEncodeBasket(t *testing.T) {
	enc, err := EncodeBasket(sampleRequest().Basket)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)

	var rows [][]interface{}
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Oversize Tee", rows[0][0])
	assert.Equal(t, "100000", rows[0][1])
	assert.Equal(t, float64(3), rows[0][2])
}

func TestTokenFormSignature(t *testing.T) {
	p := NewPayTR(testConfig("https://gateway.test"))
	req := sampleRequest()
	form, err := p.TokenForm(req)
	require.NoError(t, err)

	assert.Equal(t, "270000", form.Get("payment_amount"))
	basket := form.Get("user_basket")
	want := hmacB64("merchant-key",
		"100200"+"203.0.113.9"+req.MerchantOid+"ada@example.com"+"270000"+basket+"0"+"0"+"TL"+"1"+"merchant-salt")
	assert.Equal(t, want, form.Get("paytr_token"))
	assert.Equal(t, "https://shop.example/ok", form.Get("merchant_ok_url"))
	assert.Equal(t, "30", form.Get("timeout_limit"))
}

func TestRequestTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tokenPath, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SP1700000000000ABCDEF", r.PostForm.Get("merchant_oid"))
		_, _ = w.Write([]byte(`{"status":"success","token":"tok-123"}`))
	}))
	defer srv.Close()

	p := NewPayTR(testConfig(srv.URL))
	res, err := p.RequestToken(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "tok-123", res.Token)
	assert.Equal(t, srv.URL+"/odeme/guvenli/tok-123", p.IframeURL(res.Token))
}

func TestRequestTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","reason":"paytr_token mismatch"}`))
	}))
	defer srv.Close()

	res, err := NewPayTR(testConfig(srv.URL)).RequestToken(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "paytr_token mismatch", res.Reason)
}

func TestRequestTokenTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":"success","token":"late"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	_, err := NewPayTR(cfg).RequestToken(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestRequestTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewPayTR(testConfig(srv.URL)).RequestToken(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestVerifyCallback(t *testing.T) {
	p := NewPayTR(testConfig("https://gateway.test"))
	valid := CallbackPayload{
		MerchantOid: "SP1",
		Status:      StatusSuccess,
		TotalAmount: "270000",
	}
	valid.Hash = hmacB64("merchant-key", "SP1"+"merchant-salt"+"success"+"270000")
	assert.True(t, p.VerifyCallback(valid))

	tamperedAmount := valid
	tamperedAmount.TotalAmount = "100"
	assert.False(t, p.VerifyCallback(tamperedAmount))

	tamperedStatus := valid
	tamperedStatus.Status = StatusFailed
	assert.False(t, p.VerifyCallback(tamperedStatus))

	noHash := valid
	noHash.Hash = ""
	assert.False(t, p.VerifyCallback(noHash))
}
