package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	// Profile is the deployment profile: "standalone" or "cluster"
	Profile string `json:"profile" mapstructure:"profile"`

	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Data sources used to train the models at startup
	Data DataConfig `json:"data" mapstructure:"data"`

	// Scoring settings
	Scoring ScoringConfig `json:"scoring" mapstructure:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Narrative  NarrativeConfig  `json:"narrative" mapstructure:"narrative"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// DataConfig points at the static training inputs.
type DataConfig struct {
	// TrainingPath is an .xlsx or .csv file with one row per historical subject.
	TrainingPath string `json:"trainingPath" mapstructure:"training_path"`

	// RecommendationsPath is an .xlsx, .csv or .yaml recommendation table.
	// Optional: when empty every lookup returns the fallback text.
	RecommendationsPath string `json:"recommendationsPath" mapstructure:"recommendations_path"`

	// Sheet is the workbook sheet to read; empty means the first sheet.
	Sheet string `json:"sheet" mapstructure:"sheet"`
}

// ScoringConfig holds the tunable surface of the risk ensemble.
type ScoringConfig struct {
	GraphWeight      float64 `json:"graphWeight" mapstructure:"graph_weight"`
	ClassifierWeight float64 `json:"classifierWeight" mapstructure:"classifier_weight"`

	// ClassifierAlpha is the additive smoothing of the event classifier.
	ClassifierAlpha float64 `json:"classifierAlpha" mapstructure:"classifier_alpha"`

	// NetworkAlpha is the pseudo-count added to graphical model counts.
	// Zero keeps pure maximum likelihood with a uniform fallback for unseen parent values.
	NetworkAlpha float64 `json:"networkAlpha" mapstructure:"network_alpha"`

	// MaxWorkers bounds the per-request disease fan-out.
	MaxWorkers int `json:"maxWorkers" mapstructure:"max_workers"`
}

// NarrativeConfig holds settings for the optional narrative-summary service.
type NarrativeConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	URL       string        `json:"url" mapstructure:"url"`
	APIKey    string        `json:"-" mapstructure:"api_key"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	RateLimit float64       `json:"rateLimit" mapstructure:"rate_limit"` // requests per second
}

// WorkerConfig controls the asynchronous assessment consumer.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Count   int  `json:"count" mapstructure:"count"`
}

// Deployment profiles.
const (
	ProfileStandalone = "standalone"
	ProfileCluster    = "cluster"
)

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// DefaultConfig returns the standalone configuration: SQLite, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Profile: ProfileStandalone,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Data: DataConfig{
			TrainingPath:        "./data/training.csv",
			RecommendationsPath: "./data/recommendations.csv",
		},
		Scoring: ScoringConfig{
			GraphWeight:      0.6,
			ClassifierWeight: 0.4,
			ClassifierAlpha:  1.0,
			NetworkAlpha:     0,
			MaxWorkers:       7,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ReportTTL:    10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Narrative: NarrativeConfig{
			Enabled:   false,
			Timeout:   8 * time.Second,
			RateLimit: 2,
		},
		Worker: WorkerConfig{
			Enabled: true,
			Count:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// ClusterConfig returns a configuration for a shared deployment:
// PostgreSQL, two-phase Redis cache and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileCluster
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ReportTTL:      10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "heron-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
