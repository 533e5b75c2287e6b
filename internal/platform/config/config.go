package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	liststrings "accord/pkg/platform/strings"
)

// EnvPrefix namespaces every environment override, e.g. ACCORD_SERVER_ADDR.
const EnvPrefix = "ACCORD"

// Config is the full runtime configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Corpus    Corpus    `mapstructure:"corpus"`
	Retrieval Retrieval `mapstructure:"retrieval"`
	Scoring   Scoring   `mapstructure:"scoring"`
	Verifier  Verifier  `mapstructure:"verifier"`
	Crosswalk Crosswalk `mapstructure:"crosswalk"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Tracing   Tracing   `mapstructure:"tracing"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	LogLevel        string        `mapstructure:"log_level"`
	AdminToken      string        `mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Corpus points at the standards corpus file loaded at startup.
type Corpus struct {
	Path string `mapstructure:"path"`
}

type Retrieval struct {
	TopK            int     `mapstructure:"top_k"`
	Steepness       float64 `mapstructure:"steepness"`
	Midpoint        float64 `mapstructure:"midpoint"`
	MappingFloor    float64 `mapstructure:"mapping_floor"`
	ScorerRateLimit float64 `mapstructure:"scorer_rate_limit"`
	ScorerBurst     int     `mapstructure:"scorer_burst"`
}

type Scoring struct {
	CacheSize       int           `mapstructure:"cache_size"`
	RiskTTL         time.Duration `mapstructure:"risk_ttl"`
	CycleLength     time.Duration `mapstructure:"cycle_length"`
	AsOfGranularity time.Duration `mapstructure:"as_of_granularity"`
}

type Verifier struct {
	Threshold float64 `mapstructure:"threshold"`
}

type Crosswalk struct {
	Threshold float64       `mapstructure:"threshold"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// Pipeline sizes the orchestrator worker pool.
type Pipeline struct {
	Workers int `mapstructure:"workers"`
}

// Postgres is optional; an empty URL keeps the stores in memory.
type Postgres struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Redis is optional; an empty URL disables the shared score cache.
type Redis struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Kafka is optional; no brokers disables event forwarding.
type Kafka struct {
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	ChangeTopic string   `mapstructure:"change_topic"`
	AuditTopic  string   `mapstructure:"audit_topic"`
	Partitions  int32    `mapstructure:"partitions"`
	Replicas    int16    `mapstructure:"replicas"`
}

type Tracing struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("corpus.path", "")

	v.SetDefault("retrieval.top_k", 20)
	v.SetDefault("retrieval.steepness", 10.0)
	v.SetDefault("retrieval.midpoint", 0.35)
	v.SetDefault("retrieval.mapping_floor", 0.5)
	v.SetDefault("retrieval.scorer_rate_limit", 0.0)
	v.SetDefault("retrieval.scorer_burst", 1)

	v.SetDefault("scoring.cache_size", 4096)
	v.SetDefault("scoring.risk_ttl", 15*time.Minute)
	v.SetDefault("scoring.cycle_length", 365*24*time.Hour)
	v.SetDefault("scoring.as_of_granularity", 24*time.Hour)

	v.SetDefault("verifier.threshold", 0.85)

	v.SetDefault("crosswalk.threshold", 0.6)
	v.SetDefault("crosswalk.cache_ttl", 10*time.Minute)

	v.SetDefault("pipeline.workers", 4)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "accord")
	v.SetDefault("kafka.change_topic", "accord.mapping-changes")
	v.SetDefault("kafka.audit_topic", "accord.audit")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replicas", 1)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// New returns a viper instance with defaults and ACCORD_* env binding. Only
// keys with a registered default are visible to AutomaticEnv on Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional YAML file at path, then the environment.
// Precedence is env over file over defaults.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a validated Config.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = liststrings.SplitList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if c.Retrieval.MappingFloor < 0 || c.Retrieval.MappingFloor > 1 {
		errs = append(errs, errors.New("retrieval.mapping_floor must be within [0,1]"))
	}
	if c.Verifier.Threshold < 0 || c.Verifier.Threshold > 1 {
		errs = append(errs, errors.New("verifier.threshold must be within [0,1]"))
	}
	if c.Crosswalk.Threshold < 0 || c.Crosswalk.Threshold > 1 {
		errs = append(errs, errors.New("crosswalk.threshold must be within [0,1]"))
	}
	if c.Scoring.CacheSize <= 0 {
		errs = append(errs, errors.New("scoring.cache_size must be positive"))
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("pipeline.workers must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether JSON logs and stricter defaults apply.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}
