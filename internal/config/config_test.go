package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
	t.Setenv("RAZORPAY_KEY_SECRET", "rzp_test_secret")
	t.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "INR", cfg.Currency)
	assert.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.18")))
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, time.Duration(0), cfg.PendingOrderTTL)
	assert.Empty(t, cfg.RazorpayWebhookSecret)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TAX_RATE", "0.10")
	t.Setenv("CURRENCY", "usd")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PENDING_ORDER_TTL_MIN", "30")
	t.Setenv("GATEWAY_TIMEOUT_SEC", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.TaxRate.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Minute, cfg.PendingOrderTTL)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"tax not a number", "TAX_RATE", "abc"},
		{"tax out of range", "TAX_RATE", "1.5"},
		{"negative tax", "TAX_RATE", "-0.1"},
		{"zero gateway timeout", "GATEWAY_TIMEOUT_SEC", "0"},
		{"bad rate limit", "CHECKOUT_RATE_LIMIT", "x"},
		{"zero rate window", "CHECKOUT_RATE_WINDOW_SEC", "0"},
		{"negative pending ttl", "PENDING_ORDER_TTL_MIN", "-1"},
		{"bad currency", "CURRENCY", "RUPEE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_key")
	t.Setenv("RAZORPAY_KEY_SECRET", "")
	t.Setenv("JWT_SECRET", "jwt-secret")

	_, err := Load()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "jwt-secret")
}
