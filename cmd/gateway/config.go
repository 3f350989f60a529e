package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"middleware-guard/middleware/ratelimit/application"
	"middleware-guard/middleware/ratelimit/domain"
	"middleware-guard/middleware/ratelimit/infra"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr  string
	upstreamURL string
	logFormat   string

	rateEnabled     bool
	rateKeyHeader   string
	trustRemoteAddr bool
	identitySalt    string
	identityRotate  bool
	policyOverrides string
	policyFile      string
	storeMaxKeys    int
	storeMaxRecords int

	reaperInterval  time.Duration
	reaperRetention time.Duration

	routes map[domain.Endpoint]string

	concurrencyMax     int
	concurrencyTimeout time.Duration

	metricsEnabled bool

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
}

func readConfig() (config, error) {
	// .env é opcional; variáveis já exportadas têm precedência.
	_ = godotenv.Load()

	// valores malformados não caem no padrão: são coletados e viram erro.
	var errs []error
	intVar := func(k string, def int) int {
		v, err := getenvIntDefault(k, def)
		errs = appendErr(errs, err)
		return v
	}
	boolVar := func(k string, def bool) bool {
		v, err := getenvBoolDefault(k, def)
		errs = appendErr(errs, err)
		return v
	}
	durationVar := func(k string, def time.Duration) time.Duration {
		v, err := getenvDurationDefault(k, def)
		errs = appendErr(errs, err)
		return v
	}

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logFormat = getenvDefault("LOG_FORMAT", "json")

	cfg.rateEnabled = boolVar("RATE_ENABLED", true)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustRemoteAddr = boolVar("TRUST_REMOTE_ADDR", true)
	cfg.identitySalt = os.Getenv("IDENTITY_SALT")
	cfg.identityRotate = boolVar("IDENTITY_ROTATE", true)
	cfg.policyOverrides = os.Getenv("RATE_POLICY_OVERRIDES")
	cfg.policyFile = os.Getenv("RATE_POLICY_FILE")
	cfg.storeMaxKeys = intVar("STORE_MAX_KEYS", infra.DefaultMaxKeys)
	cfg.storeMaxRecords = intVar("STORE_MAX_RECORDS_PER_KEY", infra.DefaultMaxRecordsPerKey)

	cfg.reaperInterval = durationVar("REAPER_INTERVAL", application.DefaultReaperInterval)
	cfg.reaperRetention = durationVar("REAPER_RETENTION", application.DefaultRetention)

	cfg.routes = map[domain.Endpoint]string{
		domain.EndpointLogin:         getenvDefault("ROUTE_LOGIN", "/api/auth/login"),
		domain.EndpointRegister:      getenvDefault("ROUTE_REGISTER", "/api/auth/register"),
		domain.EndpointResetPassword: getenvDefault("ROUTE_RESET_PASSWORD", "/api/auth/reset-password"),
		domain.EndpointUpload:        getenvDefault("ROUTE_UPLOAD", "/api/upload"),
	}

	cfg.concurrencyMax = intVar("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = durationVar("CONCURRENCY_TIMEOUT", 0)

	cfg.metricsEnabled = boolVar("METRICS_ENABLED", true)

	cfg.rateStatsEnabled = boolVar("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = intVar("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = durationVar("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = boolVar("RATE_STATS_TRACK_KEYS", false)

	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.storeMaxKeys < 0 {
		return config{}, errors.New("STORE_MAX_KEYS must be >= 0")
	}
	if cfg.storeMaxRecords < 0 {
		return config{}, errors.New("STORE_MAX_RECORDS_PER_KEY must be >= 0")
	}
	if cfg.reaperInterval <= 0 {
		return config{}, errors.New("REAPER_INTERVAL must be > 0")
	}
	seen := map[string]domain.Endpoint{}
	for ep, path := range cfg.routes {
		if !strings.HasPrefix(path, "/") {
			return config{}, fmt.Errorf("route for %s must start with /: %q", ep, path)
		}
		if other, dup := seen[path]; dup {
			return config{}, fmt.Errorf("route %q assigned to both %s and %s", path, other, ep)
		}
		seen[path] = ep
	}
	return cfg, nil
}

// policies monta a tabela final: padrão, depois o arquivo YAML, depois as
// overrides da env. Qualquer erro é fatal no startup.
func (c config) policies() (application.PolicyTable, error) {
	table := application.DefaultPolicies()
	if c.policyFile != "" {
		fromFile, err := application.LoadPolicyFile(c.policyFile)
		if err != nil {
			return application.PolicyTable{}, err
		}
		table = table.Merge(fromFile)
	}
	if c.policyOverrides != "" {
		overrides, err := application.ParseOverrides(c.policyOverrides)
		if err != nil {
			return application.PolicyTable{}, fmt.Errorf("RATE_POLICY_OVERRIDES: %w", err)
		}
		table = table.Merge(overrides)
	}
	if err := table.Validate(); err != nil {
		return application.PolicyTable{}, err
	}
	return table, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func getenvIntDefault(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid %s=%q: %w", k, v, err)
	}
	return i, nil
}

func getenvBoolDefault(k string, def bool) (bool, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid %s=%q: %w", k, v, err)
	}
	return b, nil
}

func getenvDurationDefault(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("invalid %s=%q: %w", k, v, err)
	}
	return d, nil
}
