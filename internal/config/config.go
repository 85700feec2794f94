// Package config loads the Heron configuration from defaults, an optional YAML
// file, a .env file and HERON_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-health/heron/internal/domain"
)

// EnvPrefix is the prefix of every environment override, e.g. HERON_SERVER_PORT.
const EnvPrefix = "HERON"

// Load resolves the configuration. Precedence, highest first: environment,
// config file, profile defaults. path may name a config file; when empty,
// heron.yaml is searched in the working directory and ./config.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("heron")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	base := domain.DefaultConfig()
	if strings.EqualFold(v.GetString("profile"), domain.ProfileCluster) {
		base = domain.ClusterConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply to keys
// absent from the config file.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("profile", c.Profile)

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("data.training_path", c.Data.TrainingPath)
	v.SetDefault("data.recommendations_path", c.Data.RecommendationsPath)
	v.SetDefault("data.sheet", c.Data.Sheet)

	v.SetDefault("scoring.graph_weight", c.Scoring.GraphWeight)
	v.SetDefault("scoring.classifier_weight", c.Scoring.ClassifierWeight)
	v.SetDefault("scoring.classifier_alpha", c.Scoring.ClassifierAlpha)
	v.SetDefault("scoring.network_alpha", c.Scoring.NetworkAlpha)
	v.SetDefault("scoring.max_workers", c.Scoring.MaxWorkers)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.report_ttl", c.Cache.ReportTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", c.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)
	v.SetDefault("eventbus.nats_queue_group", c.EventBus.NATSQueueGroup)

	v.SetDefault("narrative.enabled", c.Narrative.Enabled)
	v.SetDefault("narrative.url", c.Narrative.URL)
	v.SetDefault("narrative.api_key", c.Narrative.APIKey)
	v.SetDefault("narrative.timeout", c.Narrative.Timeout)
	v.SetDefault("narrative.rate_limit", c.Narrative.RateLimit)

	v.SetDefault("worker.enabled", c.Worker.Enabled)
	v.SetDefault("worker.count", c.Worker.Count)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

// Validate rejects configurations the service cannot start with.
func Validate(c *domain.Config) error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Data.TrainingPath == "" {
		problems = append(problems, "data.training_path is required")
	}
	if c.Scoring.GraphWeight < 0 || c.Scoring.ClassifierWeight < 0 {
		problems = append(problems, "scoring weights must be non-negative")
	}
	if s := c.Scoring.GraphWeight + c.Scoring.ClassifierWeight; s < 0.999999 || s > 1.000001 {
		problems = append(problems, fmt.Sprintf("scoring weights must sum to 1, got %g", s))
	}
	if c.Scoring.NetworkAlpha < 0 || c.Scoring.ClassifierAlpha < 0 {
		problems = append(problems, "smoothing must be non-negative")
	}
	if c.Narrative.Enabled && c.Narrative.URL == "" {
		problems = append(problems, "narrative.url is required when narrative is enabled")
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres", "none":
	default:
		problems = append(problems, fmt.Sprintf("repository.driver %q must be sqlite, postgres or none", c.Repository.Driver))
	}
	switch c.Cache.Type {
	case "memory", "redis", "none", "":
	default:
		problems = append(problems, fmt.Sprintf("cache.type %q must be memory, redis or none", c.Cache.Type))
	}
	switch c.EventBus.Type {
	case "channel", "nats", "":
	default:
		problems = append(problems, fmt.Sprintf("eventbus.type %q must be channel or nats", c.EventBus.Type))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
