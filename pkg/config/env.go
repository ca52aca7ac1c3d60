package config

const (
	EnvPrefix = "RECAPZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	QueueDriverMemory = "memory"
	QueueDriverPubSub = "pubsub"

	IdempotencyDriverDB    = "db"
	IdempotencyDriverRedis = "redis"
)

const (
	EnvAppEnv          = "RECAPZ_APP_ENV"
	EnvPort            = "RECAPZ_APP_PORT"
	EnvDBDSN           = "RECAPZ_DB_DSN"
	EnvDBDriver        = "RECAPZ_DB_DRIVER"
	EnvDBHost          = "RECAPZ_DB_HOST"
	EnvDBUser          = "RECAPZ_DB_USER"
	EnvDBName          = "RECAPZ_DB_NAME"
	EnvRedisURL        = "RECAPZ_REDIS_URL"
	EnvJWTSecret       = "RECAPZ_JWT_SECRET"
	EnvJWTIssuer       = "RECAPZ_JWT_ISSUER"
	EnvUseSQLite       = "RECAPZ_USE_SQLITE"
	EnvJobsQueueDriver = "RECAPZ_JOBS_QUEUE_DRIVER"
	EnvJobsWorkers     = "RECAPZ_JOBS_WORKERS"
	EnvOpenAIFallbacks = "RECAPZ_OPENAI_FALLBACK_MODELS"
	EnvIdempotency     = "RECAPZ_IDEMPOTENCY_DRIVER"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
