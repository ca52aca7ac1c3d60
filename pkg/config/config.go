package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Transcripts  TranscriptsConfig
	OpenAI       OpenAIConfig
	Cache        CacheConfig
	Jobs         JobsConfig
	Idempotency  IdempotencyConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Jobs.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RECAPZ_APP_ENV" required:"true"`
	Port         string `envconfig:"RECAPZ_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"RECAPZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RECAPZ_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"RECAPZ_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated origin list.
func (a AppConfig) AllowedOrigins() []string {
	return splitList(a.CORSOrigins)
}

type ServiceConfig struct {
	Kind string `envconfig:"RECAPZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RECAPZ_DB_DSN"`
	Driver string `envconfig:"RECAPZ_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"RECAPZ_DB_HOST"`
	Port     int    `envconfig:"RECAPZ_DB_PORT" default:"5432"`
	User     string `envconfig:"RECAPZ_DB_USER"`
	Password string `envconfig:"RECAPZ_DB_PASSWORD"`
	Name     string `envconfig:"RECAPZ_DB_NAME"`
	SSLMode  string `envconfig:"RECAPZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RECAPZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RECAPZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RECAPZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RECAPZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"RECAPZ_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

// IsSQLite reports whether the sqlite dialector should be used.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"RECAPZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RECAPZ_REDIS_ADDR"`
	Password     string        `envconfig:"RECAPZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"RECAPZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RECAPZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RECAPZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RECAPZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RECAPZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RECAPZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for bearer tokens minted by the
// auth provider. This service never issues tokens.
type JWTConfig struct {
	Secret string        `envconfig:"RECAPZ_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"RECAPZ_JWT_ISSUER" required:"true"`
	Leeway time.Duration `envconfig:"RECAPZ_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RECAPZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RECAPZ_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RECAPZ_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RECAPZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RECAPZ_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	JobsTopic        string `envconfig:"RECAPZ_PUBSUB_JOBS_TOPIC" default:"rz-summary-jobs"`
	JobsSubscription string `envconfig:"RECAPZ_PUBSUB_JOBS_SUBSCRIPTION" default:"rz-summary-jobs-worker"`
}

type StripeConfig struct {
	APIKey            string `envconfig:"RECAPZ_STRIPE_API_KEY"`
	Secret            string `envconfig:"RECAPZ_STRIPE_SECRET"`
	Env               string `envconfig:"RECAPZ_STRIPE_ENV" default:"test"`
	BasicPriceID      string `envconfig:"RECAPZ_STRIPE_BASIC_PRICE_ID"`
	ProPriceID        string `envconfig:"RECAPZ_STRIPE_PRO_PRICE_ID"`
	EnterprisePriceID string `envconfig:"RECAPZ_STRIPE_ENTERPRISE_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type TranscriptsConfig struct {
	BaseURL        string        `envconfig:"RECAPZ_TRANSCRIPTS_BASE_URL" default:"http://localhost:9090"`
	APIKey         string        `envconfig:"RECAPZ_TRANSCRIPTS_API_KEY"`
	AttemptTimeout time.Duration `envconfig:"RECAPZ_TRANSCRIPTS_ATTEMPT_TIMEOUT" default:"30s"`
}

type OpenAIConfig struct {
	APIKey         string        `envconfig:"RECAPZ_OPENAI_API_KEY"`
	BaseURL        string        `envconfig:"RECAPZ_OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	Model          string        `envconfig:"RECAPZ_OPENAI_MODEL" default:"gpt-4o-mini"`
	FallbackModels string        `envconfig:"RECAPZ_OPENAI_FALLBACK_MODELS" default:"gpt-4o"`
	AttemptTimeout time.Duration `envconfig:"RECAPZ_OPENAI_ATTEMPT_TIMEOUT" default:"90s"`
}

// Fallbacks returns the fallback models in priority order.
func (o OpenAIConfig) Fallbacks() []string {
	return splitList(o.FallbackModels)
}

type CacheConfig struct {
	MaxItems      int           `envconfig:"RECAPZ_CACHE_MAX_ITEMS" default:"10000"`
	SweepInterval time.Duration `envconfig:"RECAPZ_CACHE_SWEEP_INTERVAL" default:"1m"`
}

type JobsConfig struct {
	QueueDriver           string        `envconfig:"RECAPZ_JOBS_QUEUE_DRIVER" default:"memory"`
	Workers               int           `envconfig:"RECAPZ_JOBS_WORKERS" default:"4"`
	QueueBuffer           int           `envconfig:"RECAPZ_JOBS_QUEUE_BUFFER" default:"256"`
	MaxDeliveries         int           `envconfig:"RECAPZ_JOBS_MAX_DELIVERIES" default:"3"`
	PublishTimeout        time.Duration `envconfig:"RECAPZ_JOBS_PUBLISH_TIMEOUT" default:"5s"`
	StaleAfter            time.Duration `envconfig:"RECAPZ_JOBS_STALE_AFTER" default:"30m"`
	ReconcileInterval     time.Duration `envconfig:"RECAPZ_JOBS_RECONCILE_INTERVAL" default:"5m"`
	TransactionalPersist  bool          `envconfig:"RECAPZ_JOBS_TRANSACTIONAL_PERSIST" default:"true"`
	PromptVersion         string        `envconfig:"RECAPZ_JOBS_PROMPT_VERSION" default:"v1"`
	SubmitRateLimit       int           `envconfig:"RECAPZ_JOBS_SUBMIT_RATE_LIMIT" default:"20"`
	SubmitRateLimitWindow time.Duration `envconfig:"RECAPZ_JOBS_SUBMIT_RATE_LIMIT_WINDOW" default:"1m"`
}

// UsesPubSub reports whether jobs are dispatched through Cloud Pub/Sub.
func (j JobsConfig) UsesPubSub() bool {
	return strings.EqualFold(j.QueueDriver, QueueDriverPubSub)
}

func (j JobsConfig) validate() error {
	switch strings.ToLower(j.QueueDriver) {
	case QueueDriverMemory, QueueDriverPubSub:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvJobsQueueDriver, QueueDriverMemory, QueueDriverPubSub)
	}
	if j.Workers <= 0 {
		return fmt.Errorf("%s must be positive", EnvJobsWorkers)
	}
	return nil
}

type IdempotencyConfig struct {
	Driver string        `envconfig:"RECAPZ_IDEMPOTENCY_DRIVER" default:"db"`
	TTL    time.Duration `envconfig:"RECAPZ_IDEMPOTENCY_TTL" default:"720h"`
}

// UsesRedis reports whether webhook claims live in Redis instead of the database.
func (i IdempotencyConfig) UsesRedis() bool {
	return strings.EqualFold(i.Driver, IdempotencyDriverRedis)
}

type RateLimitConfig struct {
	Enabled bool `envconfig:"RECAPZ_RATE_LIMIT_ENABLED" default:"true"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:recapz.db?_busy_timeout=5000"
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
