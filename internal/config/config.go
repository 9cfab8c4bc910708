package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the analytics service and the
// dashboard poller.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
	Actions   ActionsConfig   `yaml:"actions"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ServerConfig controls the HTTP, admin gRPC and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	AdminAddress    string        `yaml:"adminAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WarehouseConfig points the query executor at the BigQuery log table.
type WarehouseConfig struct {
	ProjectID       string        `yaml:"projectID"`
	Dataset         string        `yaml:"dataset"`
	Table           string        `yaml:"table"`
	AnomalyModel    string        `yaml:"anomalyModel"`
	RiskModel       string        `yaml:"riskModel"`
	Location        string        `yaml:"location"`
	CredentialsFile string        `yaml:"credentialsFile"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls caching of category results between revalidations.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	Revalidate   time.Duration `yaml:"revalidate"`
}

// ActionsConfig controls publishing of automated prescriptive actions.
type ActionsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	NATSURL     string        `yaml:"natsURL"`
	Subject     string        `yaml:"subject"`
	DedupWindow time.Duration `yaml:"dedupWindow"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	ServiceName  string `yaml:"serviceName"`
	Environment  string `yaml:"environment"`
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlpInsecure"`
}

// DashboardConfig controls the polling client.
type DashboardConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	FailurePolicy  string        `yaml:"failurePolicy"`
}

var (
	projectIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AUTHLENS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would be interpolated into query text. Table
// paths cannot be bound as query parameters, so they must be plain identifiers.
func (c *Config) Validate() error {
	if !projectIDPattern.MatchString(c.Warehouse.ProjectID) {
		return fmt.Errorf("warehouse.projectID %q is not a valid project identifier", c.Warehouse.ProjectID)
	}
	for name, value := range map[string]string{
		"warehouse.dataset":      c.Warehouse.Dataset,
		"warehouse.table":        c.Warehouse.Table,
		"warehouse.anomalyModel": c.Warehouse.AnomalyModel,
		"warehouse.riskModel":    c.Warehouse.RiskModel,
	} {
		if !identifierPattern.MatchString(value) {
			return fmt.Errorf("%s %q is not a valid identifier", name, value)
		}
	}
	if c.Warehouse.QueryTimeout <= 0 {
		return fmt.Errorf("warehouse.queryTimeout must be positive")
	}
	if c.Dashboard.PollInterval <= 0 {
		return fmt.Errorf("dashboard.pollInterval must be positive")
	}
	switch c.Dashboard.FailurePolicy {
	case "clear", "retain-stale":
	default:
		return fmt.Errorf("dashboard.failurePolicy %q must be clear or retain-stale", c.Dashboard.FailurePolicy)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			AdminAddress:    ":50051",
			MetricsAddress:  ":2112",
			RequestTimeout:  45 * time.Second,
			GracefulTimeout: 10 * time.Second,
		},
		Warehouse: WarehouseConfig{
			ProjectID:    "chennai-geniai",
			Dataset:      "splunk_analytics",
			Table:        "raw_auth_logs",
			AnomalyModel: "anomaly_model",
			RiskModel:    "risk_model",
			QueryTimeout: 20 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      true,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			Revalidate:   60 * time.Second,
		},
		Actions: ActionsConfig{
			Enabled:     false,
			NATSURL:     "nats://localhost:4222",
			Subject:     "authlens.actions.automated",
			DedupWindow: 15 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "mirador-authlens",
			Environment:  "development",
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
			OTLPInsecure: true,
		},
		Dashboard: DashboardConfig{
			BaseURL:        "http://localhost:8080",
			PollInterval:   60 * time.Second,
			RequestTimeout: 60 * time.Second,
			FailurePolicy:  "clear",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.Warehouse.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && cfg.Warehouse.CredentialsFile == "" {
		cfg.Warehouse.CredentialsFile = v
	}
	if v := os.Getenv("AUTHLENS_WAREHOUSE_LOCATION"); v != "" {
		cfg.Warehouse.Location = v
	}
	if v := os.Getenv("AUTHLENS_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Warehouse.QueryTimeout = d
		}
	}
	if v := os.Getenv("AUTHLENS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("AUTHLENS_ADMIN_ADDRESS"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v := os.Getenv("AUTHLENS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("AUTHLENS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTHLENS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("AUTHLENS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("AUTHLENS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("AUTHLENS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("AUTHLENS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("AUTHLENS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("AUTHLENS_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("AUTHLENS_CACHE_REVALIDATE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.Revalidate = d
		}
	}
	if v := os.Getenv("AUTHLENS_ACTIONS_ENABLED"); v != "" {
		cfg.Actions.Enabled = parseBool(v)
	}
	if v := os.Getenv("AUTHLENS_NATS_URL"); v != "" {
		cfg.Actions.NATSURL = v
	}
	if v := os.Getenv("AUTHLENS_ACTIONS_SUBJECT"); v != "" {
		cfg.Actions.Subject = v
	}
	if v := os.Getenv("AUTHLENS_TRACES_EXPORTER"); v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("AUTHLENS_DASHBOARD_URL"); v != "" {
		cfg.Dashboard.BaseURL = v
	}
	if v := os.Getenv("AUTHLENS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dashboard.PollInterval = d
		}
	}
	if v := os.Getenv("AUTHLENS_FAILURE_POLICY"); v != "" {
		cfg.Dashboard.FailurePolicy = strings.ToLower(v)
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
