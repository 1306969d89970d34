package config

import (
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Kafka     KafkaConfig
	Log       LogConfig
	Realtime  RealtimeConfig
	RateLimit RateLimitConfig
	Breaker   BreakerConfig
	Buffer    BufferConfig
	Reconnect ReconnectConfig
}

var (
	ConfigInstance *Config
	once           sync.Once
)

type ServerConfig struct {
	Host            string
	Port            string
	NodeID          string
	AdminToken      string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	URI          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type JWTConfig struct {
	Secret string
}

type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	Topic    string
	GroupID  string
	DLQTopic string
}

type LogConfig struct {
	Level  string
	Format string
}

// RealtimeConfig holds the connection lifecycle knobs.
type RealtimeConfig struct {
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
	MissedBeats       int
	MaxConnsPerUser   int
	Shards            int
	SendQueueSize     int
	HandshakeTimeout  time.Duration
	MaxMessageBytes   int64
	PresenceTTL       time.Duration
}

type RateLimitConfig struct {
	Window          time.Duration
	GlobalLimit     int
	UserLimit       int
	OriginLimit     int
	MaxKeys         int
	HandshakeIPRate float64
	HandshakeBurst  int
}

type BreakerConfig struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

type BufferConfig struct {
	MaxEntries int
	MaxBytes   int
	TTL        time.Duration
	SweepEvery time.Duration
}

// ReconnectConfig holds the defaults handed to pkg/reconnect clients built by
// this service's tooling.
type ReconnectConfig struct {
	Base        time.Duration
	Cap         time.Duration
	Jitter      float64
	MaxAttempts int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NOTIFY_PORT", "8080")
	v.SetDefault("NOTIFY_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY_IDLE_TIMEOUT", 120*time.Second)
	v.SetDefault("NOTIFY_SHUTDOWN_TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY_ADMIN_TOKEN", "")
	v.SetDefault("NOTIFY_ALLOWED_ORIGINS", "*")
	v.SetDefault("NOTIFY_JWT_SECRET", "secret")
	v.SetDefault("NOTIFY_LOG_LEVEL", "info")
	v.SetDefault("NOTIFY_LOG_FORMAT", "json")

	v.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "password")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_DB", "postgres")
	v.SetDefault("POSTGRES_SSLMODE", "disable")

	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "notify.events")
	v.SetDefault("KAFKA_GROUP_ID", "notify-service")
	v.SetDefault("KAFKA_DLQ_TOPIC", "notify.events.dlq")

	v.SetDefault("WS_IDLE_TIMEOUT", 30*time.Minute)
	v.SetDefault("WS_HEARTBEAT_INTERVAL", 15*time.Second)
	v.SetDefault("WS_MISSED_BEATS", 3)
	v.SetDefault("WS_MAX_CONNS_PER_USER", 5)
	v.SetDefault("WS_SHARDS", 32)
	v.SetDefault("WS_SEND_QUEUE_SIZE", 256)
	v.SetDefault("WS_HANDSHAKE_TIMEOUT", 10*time.Second)
	v.SetDefault("WS_MAX_MESSAGE_BYTES", 64*1024)
	v.SetDefault("WS_PRESENCE_TTL", 60*time.Second)

	v.SetDefault("RATE_LIMIT_WINDOW", time.Second)
	v.SetDefault("RATE_LIMIT_GLOBAL", 5000)
	v.SetDefault("RATE_LIMIT_USER", 20)
	v.SetDefault("RATE_LIMIT_ORIGIN", 50)
	v.SetDefault("RATE_LIMIT_MAX_KEYS", 100000)
	v.SetDefault("RATE_LIMIT_HANDSHAKE_RATE", 1.0)
	v.SetDefault("RATE_LIMIT_HANDSHAKE_BURST", 10)

	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_FAILURE_WINDOW", time.Minute)
	v.SetDefault("BREAKER_COOLDOWN", 30*time.Second)

	v.SetDefault("BUFFER_MAX_ENTRIES", 100)
	v.SetDefault("BUFFER_MAX_BYTES", 256*1024)
	v.SetDefault("BUFFER_TTL", 24*time.Hour)
	v.SetDefault("BUFFER_SWEEP_EVERY", time.Minute)

	v.SetDefault("RECONNECT_BASE", time.Second)
	v.SetDefault("RECONNECT_CAP", 30*time.Second)
	v.SetDefault("RECONNECT_JITTER", 0.2)
	v.SetDefault("RECONNECT_MAX_ATTEMPTS", 5)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads configuration from the environment into a fresh viper instance.
func Load(v *viper.Viper) *Config {
	setDefaults(v)
	v.AutomaticEnv()

	return &Config{
		Server: ServerConfig{
			Host:            v.GetString("NOTIFY_HOST"),
			Port:            v.GetString("NOTIFY_PORT"),
			NodeID:          v.GetString("NOTIFY_NODE_ID"),
			AdminToken:      v.GetString("NOTIFY_ADMIN_TOKEN"),
			AllowedOrigins:  splitList(v.GetString("NOTIFY_ALLOWED_ORIGINS")),
			ReadTimeout:     v.GetDuration("NOTIFY_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("NOTIFY_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("NOTIFY_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("NOTIFY_SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetString("POSTGRES_PORT"),
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			DBName:   v.GetString("POSTGRES_DB"),
			SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		},
		Redis: RedisConfig{
			URI:          v.GetString("REDIS_URL"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("NOTIFY_JWT_SECRET"),
		},
		Kafka: KafkaConfig{
			Enabled:  v.GetBool("KAFKA_ENABLED"),
			Brokers:  splitList(v.GetString("KAFKA_BROKERS")),
			Topic:    v.GetString("KAFKA_TOPIC"),
			GroupID:  v.GetString("KAFKA_GROUP_ID"),
			DLQTopic: v.GetString("KAFKA_DLQ_TOPIC"),
		},
		Log: LogConfig{
			Level:  v.GetString("NOTIFY_LOG_LEVEL"),
			Format: v.GetString("NOTIFY_LOG_FORMAT"),
		},
		Realtime: RealtimeConfig{
			IdleTimeout:       v.GetDuration("WS_IDLE_TIMEOUT"),
			HeartbeatInterval: v.GetDuration("WS_HEARTBEAT_INTERVAL"),
			MissedBeats:       v.GetInt("WS_MISSED_BEATS"),
			MaxConnsPerUser:   v.GetInt("WS_MAX_CONNS_PER_USER"),
			Shards:            v.GetInt("WS_SHARDS"),
			SendQueueSize:     v.GetInt("WS_SEND_QUEUE_SIZE"),
			HandshakeTimeout:  v.GetDuration("WS_HANDSHAKE_TIMEOUT"),
			MaxMessageBytes:   v.GetInt64("WS_MAX_MESSAGE_BYTES"),
			PresenceTTL:       v.GetDuration("WS_PRESENCE_TTL"),
		},
		RateLimit: RateLimitConfig{
			Window:          v.GetDuration("RATE_LIMIT_WINDOW"),
			GlobalLimit:     v.GetInt("RATE_LIMIT_GLOBAL"),
			UserLimit:       v.GetInt("RATE_LIMIT_USER"),
			OriginLimit:     v.GetInt("RATE_LIMIT_ORIGIN"),
			MaxKeys:         v.GetInt("RATE_LIMIT_MAX_KEYS"),
			HandshakeIPRate: v.GetFloat64("RATE_LIMIT_HANDSHAKE_RATE"),
			HandshakeBurst:  v.GetInt("RATE_LIMIT_HANDSHAKE_BURST"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
			FailureWindow:    v.GetDuration("BREAKER_FAILURE_WINDOW"),
			Cooldown:         v.GetDuration("BREAKER_COOLDOWN"),
		},
		Buffer: BufferConfig{
			MaxEntries: v.GetInt("BUFFER_MAX_ENTRIES"),
			MaxBytes:   v.GetInt("BUFFER_MAX_BYTES"),
			TTL:        v.GetDuration("BUFFER_TTL"),
			SweepEvery: v.GetDuration("BUFFER_SWEEP_EVERY"),
		},
		Reconnect: ReconnectConfig{
			Base:        v.GetDuration("RECONNECT_BASE"),
			Cap:         v.GetDuration("RECONNECT_CAP"),
			Jitter:      v.GetFloat64("RECONNECT_JITTER"),
			MaxAttempts: v.GetInt("RECONNECT_MAX_ATTEMPTS"),
		},
	}
}

// LoadConfig loads .env (if present) and the environment once per process.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load()
		ConfigInstance = Load(viper.GetViper())
	})

	return ConfigInstance, nil
}
