// Package config loads the relay's configuration from flags and environment
// variables and normalizes it into typed values.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// rawConfig is the flat flag/env surface. Durations are declared in the
// units operators think in (seconds, minutes, days) and converted once.
type rawConfig struct {
	// Delivery endpoint
	CotURL     string `long:"cot-url" env:"COT_URL" description:"TAK endpoint, tcp://host:port or tls://host:port (required)" required:"true"`
	CotTLSCert string `long:"cot-tls-cert" env:"COT_TLS_CERT" description:"Client certificate for tls:// endpoints"`
	CotTLSKey  string `long:"cot-tls-key" env:"COT_TLS_KEY" description:"Client key for tls:// endpoints"`
	CotTLSCA   string `long:"cot-tls-ca" env:"COT_TLS_CA" description:"CA bundle for tls:// endpoints (empty uses the system pool)"`

	// Feed source
	SodaBaseURL    string `long:"soda-base-url" env:"SODA_BASE_URL" default:"https://data.austintexas.gov/resource" description:"SODA resource base URL"`
	SodaAppToken   string `long:"soda-app-token" env:"SODA_APP_TOKEN" description:"SODA application token (optional)"`
	FireDataset    string `long:"fire-dataset" env:"FIRE_DATASET" default:"wpu4-x69d" description:"Fire incidents dataset id"`
	TrafficDataset string `long:"traffic-dataset" env:"TRAFFIC_DATASET" default:"dx9v-zd7x" description:"Traffic incidents dataset id"`

	// Poll cadence
	PollSeconds     int `long:"poll-seconds" env:"POLL_SECONDS" default:"45" description:"Poll interval in seconds"`
	LookbackMinutes int `long:"lookback-minutes" env:"LOOKBACK_MINUTES" default:"10" description:"Trailing fetch window in minutes"`
	FetchLimit      int `long:"fetch-limit" env:"FETCH_LIMIT" default:"100" description:"Maximum records per fetch"`

	// Event shaping
	CotStaleMinutes int `long:"cot-stale-minutes" env:"COT_STALE_MINUTES" default:"10" description:"Active event expiry in minutes"`

	// Persistence
	DatabasePath       string `long:"database-path" env:"DATABASE_PATH" default:"./data/seen.db" description:"Sqlite database file"`
	SeenRetentionDays  int    `long:"seen-retention-days" env:"SEEN_RETENTION_DAYS" default:"7" description:"Sweep age for seen records in days"`
	TrackerMaxAgeHours int    `long:"tracker-max-age-hours" env:"TRACKER_MAX_AGE_HOURS" default:"24" description:"Tracker cleanup age in hours"`

	// Operational surface
	HTTPAddr        string        `long:"http-addr" env:"HTTP_ADDR" default:":8080" description:"Operational API listen address"`
	LogLevel        string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level: debug, info, warn, error"`
	LogFormat       string        `long:"log-format" env:"LOG_FORMAT" default:"json" description:"Log format: json or text"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" default:"10s" description:"Graceful shutdown budget"`
}

// Config is the normalized runtime configuration.
type Config struct {
	CotURL     string
	CotTLSCert string
	CotTLSKey  string
	CotTLSCA   string

	SodaBaseURL    string
	SodaAppToken   string
	FireDataset    string
	TrafficDataset string

	PollInterval time.Duration
	Lookback     time.Duration
	FetchLimit   int

	CotStale time.Duration

	DatabasePath  string
	SeenRetention time.Duration
	TrackerMaxAge time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// LookbackRaised is set when the configured lookback was below twice
	// the poll interval and got raised; main logs it once the logger exists.
	LookbackRaised bool

	Version string
}

// Load parses configuration from the process arguments and environment.
func Load() (*Config, error) {
	return parse(nil)
}

// parse is the testable core: args replaces os.Args[1:] when non-nil.
func parse(args []string) (*Config, error) {
	var raw rawConfig

	parser := flags.NewParser(&raw, flags.Default)
	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	cfg := &Config{
		CotURL:          raw.CotURL,
		CotTLSCert:      raw.CotTLSCert,
		CotTLSKey:       raw.CotTLSKey,
		CotTLSCA:        raw.CotTLSCA,
		SodaBaseURL:     raw.SodaBaseURL,
		SodaAppToken:    raw.SodaAppToken,
		FireDataset:     raw.FireDataset,
		TrafficDataset:  raw.TrafficDataset,
		PollInterval:    time.Duration(raw.PollSeconds) * time.Second,
		Lookback:        time.Duration(raw.LookbackMinutes) * time.Minute,
		FetchLimit:      raw.FetchLimit,
		CotStale:        time.Duration(raw.CotStaleMinutes) * time.Minute,
		DatabasePath:    raw.DatabasePath,
		SeenRetention:   time.Duration(raw.SeenRetentionDays) * 24 * time.Hour,
		TrackerMaxAge:   time.Duration(raw.TrackerMaxAgeHours) * time.Hour,
		HTTPAddr:        raw.HTTPAddr,
		LogLevel:        raw.LogLevel,
		LogFormat:       raw.LogFormat,
		ShutdownTimeout: raw.ShutdownTimeout,
		Version:         Version,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.CotURL)
	if err != nil {
		return fmt.Errorf("invalid COT_URL %q: %w", c.CotURL, err)
	}
	if u.Scheme != "tcp" && u.Scheme != "tls" {
		return fmt.Errorf("COT_URL %q: scheme must be tcp or tls", c.CotURL)
	}
	if u.Scheme == "tls" && (c.CotTLSCert == "" || c.CotTLSKey == "") {
		return fmt.Errorf("COT_URL scheme tls requires COT_TLS_CERT and COT_TLS_KEY")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_SECONDS must be positive")
	}
	if c.FetchLimit <= 0 {
		return fmt.Errorf("FETCH_LIMIT must be positive")
	}

	// The fetch window must overlap consecutive polls or records published
	// between cycles slip through.
	if floor := 2 * c.PollInterval; c.Lookback < floor {
		c.Lookback = floor
		c.LookbackRaised = true
	}

	return nil
}
