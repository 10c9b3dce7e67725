package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseEnv(t *testing.T) {
	t.Helper()
	key := make([]byte, 32)
	t.Setenv("TRANSPORT_TOKEN", "bot-token")
	t.Setenv("OWNER_ID", "1001")
	t.Setenv("MASTER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	t.Setenv("DCA_INTERVAL_MS", "60000")
	t.Setenv("DCA_AMOUNT_QUOTE", "25.00")
	t.Setenv("RPC_URL", "http://localhost:10332")
	t.Setenv("QUOTE_BASE_URL", "http://localhost:9999")
}

func TestLoadDefaults(t *testing.T) {
	baseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(1001), cfg.OwnerID)
	require.Equal(t, 100, cfg.DCAMaxCatchup)
	require.Equal(t, TransportPolling, cfg.TransportMode)
	require.True(t, cfg.MetricsEnabled)
}

func TestValidateRejectsShortKey(t *testing.T) {
	baseEnv(t)
	t.Setenv("MASTER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))

	_, err := Load()
	require.Error(t, err)
}

func TestValidateProductionRequiresHTTPSRPC(t *testing.T) {
	baseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://example/db")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("RPC_URL", "https://mainnet.example.org")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
}

func TestValidateProductionForbidsDevKey(t *testing.T) {
	baseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("RPC_URL", "https://mainnet.example.org")
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("DEV_WALLET_PRIVATE_KEY", "deadbeef")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRequiresQuoteBaseURL(t *testing.T) {
	baseEnv(t)
	t.Setenv("QUOTE_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateWebhookRequiresHTTPS(t *testing.T) {
	baseEnv(t)
	t.Setenv("TRANSPORT_MODE", "webhook")
	t.Setenv("WEBHOOK_URL", "http://insecure.example.org")

	_, err := Load()
	require.Error(t, err)
}
