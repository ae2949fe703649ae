package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Settlement struct {
		Endpoints         []string `yaml:"endpoints"`
		WSEndpoints       []string `yaml:"ws_endpoints"`
		APIKey            string   `yaml:"api_key"`
		CallbackSecret    string   `yaml:"callback_secret"`
		FailoverThreshold int      `yaml:"failover_threshold"`
		TimeoutSeconds    int      `yaml:"timeout_seconds"`
	} `yaml:"settlement"`
	Orders struct {
		MaxFinishHours int    `yaml:"max_finish_hours"`
		BaseCurrency   string `yaml:"base_currency"`
		TargetCurrency string `yaml:"target_currency"`
	} `yaml:"orders"`
	Maintenance struct {
		Disabled bool   `yaml:"disabled"`
		RedisKey string `yaml:"redis_key"`
	} `yaml:"maintenance"`
	Worker struct {
		IntervalSeconds   int64 `yaml:"interval_seconds"`
		StuckAfterMinutes int   `yaml:"stuck_after_minutes"`
		BatchSize         int   `yaml:"batch_size"`
		LockTTLSeconds    int   `yaml:"lock_ttl_seconds"`
		// PreparedLookbackHours bounds how far back unsubmitted checkouts are swept.
		PreparedLookbackHours int `yaml:"prepared_lookback_hours"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies env overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Orders.MaxFinishHours <= 0 {
		return nil, errors.New("orders.max_finish_hours must be positive")
	}
	if cfg.Settlement.CallbackSecret == "" {
		return nil, errors.New("settlement.callback_secret is required")
	}
	return &cfg, nil
}

func (c *Config) MaxFinishAge() time.Duration {
	return time.Duration(c.Orders.MaxFinishHours) * time.Hour
}

func (c *Config) StuckAfter() time.Duration {
	return time.Duration(c.Worker.StuckAfterMinutes) * time.Minute
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func (c *Config) PreparedLookback() time.Duration {
	return time.Duration(c.Worker.PreparedLookbackHours) * time.Hour
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Worker.LockTTLSeconds) * time.Second
}

func (c *Config) SettlementTimeout() time.Duration {
	return time.Duration(c.Settlement.TimeoutSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	if cfg.Orders.MaxFinishHours == 0 {
		cfg.Orders.MaxFinishHours = 4
	}
	if cfg.Orders.BaseCurrency == "" {
		cfg.Orders.BaseCurrency = "PLN"
	}
	if cfg.Orders.TargetCurrency == "" {
		cfg.Orders.TargetCurrency = cfg.Orders.BaseCurrency
	}
	if cfg.Settlement.FailoverThreshold <= 0 {
		cfg.Settlement.FailoverThreshold = 3
	}
	if cfg.Settlement.TimeoutSeconds <= 0 {
		cfg.Settlement.TimeoutSeconds = 10
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 60
	}
	if cfg.Worker.StuckAfterMinutes <= 0 {
		cfg.Worker.StuckAfterMinutes = 30
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 100
	}
	if cfg.Worker.LockTTLSeconds <= 0 {
		cfg.Worker.LockTTLSeconds = 300
	}
	if cfg.Worker.PreparedLookbackHours <= 0 {
		cfg.Worker.PreparedLookbackHours = 48
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "points.notifications"
	}
	if cfg.Maintenance.RedisKey == "" {
		cfg.Maintenance.RedisKey = "points:maintenance"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCommaList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SETTLEMENT_ENDPOINTS"); v != "" {
		cfg.Settlement.Endpoints = splitCommaList(v)
	}
	if v := os.Getenv("SETTLEMENT_WS_ENDPOINTS"); v != "" {
		cfg.Settlement.WSEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("SETTLEMENT_API_KEY"); v != "" {
		cfg.Settlement.APIKey = v
	}
	if v := os.Getenv("SETTLEMENT_CALLBACK_SECRET"); v != "" {
		cfg.Settlement.CallbackSecret = v
	}
	if v := os.Getenv("SETTLEMENT_FAILOVER_THRESHOLD"); v != "" {
		cfg.Settlement.FailoverThreshold = atoiOr(cfg.Settlement.FailoverThreshold, v)
	}
	if v := os.Getenv("SETTLEMENT_TIMEOUT_SECONDS"); v != "" {
		cfg.Settlement.TimeoutSeconds = atoiOr(cfg.Settlement.TimeoutSeconds, v)
	}
	if v := os.Getenv("ORDER_MAX_FINISH_HOURS"); v != "" {
		cfg.Orders.MaxFinishHours = atoiOr(cfg.Orders.MaxFinishHours, v)
	}
	if v := os.Getenv("ORDER_BASE_CURRENCY"); v != "" {
		cfg.Orders.BaseCurrency = v
	}
	if v := os.Getenv("ORDER_TARGET_CURRENCY"); v != "" {
		cfg.Orders.TargetCurrency = v
	}
	if v := os.Getenv("MAINTENANCE_DISABLED"); v != "" {
		cfg.Maintenance.Disabled = parseBoolOr(cfg.Maintenance.Disabled, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_STUCK_AFTER_MINUTES"); v != "" {
		cfg.Worker.StuckAfterMinutes = atoiOr(cfg.Worker.StuckAfterMinutes, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("WORKER_LOCK_TTL_SECONDS"); v != "" {
		cfg.Worker.LockTTLSeconds = atoiOr(cfg.Worker.LockTTLSeconds, v)
	}
	if v := os.Getenv("WORKER_PREPARED_LOOKBACK_HOURS"); v != "" {
		cfg.Worker.PreparedLookbackHours = atoiOr(cfg.Worker.PreparedLookbackHours, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func parseBoolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
