package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"lasomi-api"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"8080"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Tracing
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTLP_INSECURE" env-default:"true"`

	// Redis (distributed provider rate limiting)
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Kafka Producer (job lifecycle events)
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"job-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Provider endpoints
	OSMEndpoint       string `env:"OSM_ENDPOINT" env-default:"https://overpass-api.de/api/interpreter"`
	MicrosoftEndpoint string `env:"MICROSOFT_ENDPOINT" env-default:""`
	GoogleEndpoint    string `env:"GOOGLE_ENDPOINT" env-default:""`

	// Provider rate limits
	ProviderRequestsPerMinute int `env:"PROVIDER_REQUESTS_PER_MINUTE" env-default:"60"`
	ProviderMaxConcurrent     int `env:"PROVIDER_MAX_CONCURRENT" env-default:"4"`

	// Fetch
	ProviderTimeoutSeconds int `env:"PROVIDER_TIMEOUT_SECONDS" env-default:"60"`
	FetchRetryMaxAttempts  int `env:"FETCH_RETRY_MAX_ATTEMPTS" env-default:"3"`

	// Jobs
	JobTimeout    time.Duration `env:"JOB_TIMEOUT" env-default:"10m"`
	MaxAOIAreaKM2 float64       `env:"MAX_AOI_AREA_KM2" env-default:"100"`

	// Merge thresholds
	MergeOverlapFraction   float64 `env:"MERGE_OVERLAP_FRACTION" env-default:"0.5"`
	MergeCentroidDistanceM float64 `env:"MERGE_CENTROID_DISTANCE_M" env-default:"2.0"`

	// Clustering defaults used when a job has no rule profile
	DefaultMaxTenantsPerPoint int     `env:"DEFAULT_MAX_TENANTS_PER_POINT" env-default:"16"`
	DefaultMaxServiceRadiusM  float64 `env:"DEFAULT_MAX_SERVICE_RADIUS_M" env-default:"150"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
