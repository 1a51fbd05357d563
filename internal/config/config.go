package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Session   Session   `yaml:"session"`
	Gateway   Gateway   `yaml:"gateway"`
	Transport Transport `yaml:"transport"`
	Database  Database  `yaml:"database"`
	Refresher Refresher `yaml:"refresher"`
	Chat      Chat      `yaml:"chat"`
	S3        S3        `yaml:"s3"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Session identifies the authenticated user this engine instance belongs to
type Session struct {
	UserID    string `yaml:"user_id" env:"SESSION_USER_ID"`
	Name      string `yaml:"name" env:"SESSION_USER_NAME"`
	AvatarURL string `yaml:"avatar_url" env:"SESSION_USER_AVATAR_URL"`
	Role      string `yaml:"role" env:"SESSION_USER_ROLE" env-default:"client"`
	AuthToken string `yaml:"auth_token" env:"SESSION_AUTH_TOKEN"`
}

// Gateway holds platform backend API configuration
type Gateway struct {
	BaseURL    string        `yaml:"base_url" env:"GATEWAY_BASE_URL" env-default:"https://api.consulta.app"`
	APIVersion string        `yaml:"api_version" env:"GATEWAY_API_VERSION" env-default:"v1"`
	Timeout    time.Duration `yaml:"timeout" env:"GATEWAY_TIMEOUT" env-default:"30s"`
}

// Transport holds real-time channel configuration
type Transport struct {
	URL          string        `yaml:"url" env:"TRANSPORT_URL" env-default:"wss://rt.consulta.app/socket"`
	ReconnectMin time.Duration `yaml:"reconnect_min" env:"TRANSPORT_RECONNECT_MIN" env-default:"2s"`
	ReconnectMax time.Duration `yaml:"reconnect_max" env:"TRANSPORT_RECONNECT_MAX" env-default:"2m"`
}

// Database holds snapshot database configuration
type Database struct {
	PostgresDSN  string        `yaml:"postgres_dsn" env:"DATABASE_URL"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	MinOpenConns int           `yaml:"min_open_conns" env:"DB_MIN_OPEN_CONNS" env-default:"2"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Refresher holds conversation list refresher configuration
type Refresher struct {
	Enabled  bool          `yaml:"enabled" env:"REFRESHER_ENABLED" env-default:"false"`
	Interval time.Duration `yaml:"interval" env:"REFRESHER_INTERVAL" env-default:"5m"`
}

// Chat holds chat engine configuration
type Chat struct {
	PageSize int `yaml:"page_size" env:"CHAT_PAGE_SIZE" env-default:"50"`
}

// S3 holds S3/MinIO storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"attachments"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/attachments"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
