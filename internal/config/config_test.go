package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("COT_URL", "tcp://takserver:8087")

	cfg, err := parse([]string{})
	require.NoError(t, err)

	assert.Equal(t, "tcp://takserver:8087", cfg.CotURL)
	assert.Equal(t, "https://data.austintexas.gov/resource", cfg.SodaBaseURL)
	assert.Equal(t, "wpu4-x69d", cfg.FireDataset)
	assert.Equal(t, "dx9v-zd7x", cfg.TrafficDataset)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Lookback)
	assert.Equal(t, 100, cfg.FetchLimit)
	assert.Equal(t, 10*time.Minute, cfg.CotStale)
	assert.Equal(t, "./data/seen.db", cfg.DatabasePath)
	assert.Equal(t, 7*24*time.Hour, cfg.SeenRetention)
	assert.Equal(t, 24*time.Hour, cfg.TrackerMaxAge)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.LookbackRaised)
}

func TestParse_MissingEndpoint(t *testing.T) {
	_, err := parse([]string{})
	require.Error(t, err)
}

func TestParse_RejectsBadScheme(t *testing.T) {
	t.Setenv("COT_URL", "udp://takserver:8087")

	_, err := parse([]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be tcp or tls")
}

func TestParse_TLSRequiresClientMaterial(t *testing.T) {
	t.Setenv("COT_URL", "tls://takserver:8089")

	_, err := parse([]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COT_TLS_CERT")

	t.Setenv("COT_TLS_CERT", "/etc/relay/client.pem")
	t.Setenv("COT_TLS_KEY", "/etc/relay/client.key")

	cfg, err := parse([]string{})
	require.NoError(t, err)
	assert.Equal(t, "/etc/relay/client.pem", cfg.CotTLSCert)
}

func TestParse_LookbackRaisedToTwicePollInterval(t *testing.T) {
	t.Setenv("COT_URL", "tcp://takserver:8087")
	t.Setenv("POLL_SECONDS", "600")
	t.Setenv("LOOKBACK_MINUTES", "10")

	cfg, err := parse([]string{})
	require.NoError(t, err)

	assert.Equal(t, 20*time.Minute, cfg.Lookback)
	assert.True(t, cfg.LookbackRaised)
}

func TestParse_FlagsOverrideDefaults(t *testing.T) {
	t.Setenv("COT_URL", "tcp://takserver:8087")

	cfg, err := parse([]string{"--poll-seconds=30", "--fetch-limit=250"})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 250, cfg.FetchLimit)
}
