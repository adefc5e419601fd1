package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AGRO_SERVER_PORT.
const EnvPrefix = "AGRO_"

type (
	Config struct {
		Server    Server    `yaml:"server"`
		Log       Log       `yaml:"log"`
		Store     Store     `yaml:"store"`
		Firestore Firestore `yaml:"firestore"`
		Database  Database  `yaml:"database"`
		Postgres  Postgres  `yaml:"postgres"`
		Minio     Minio     `yaml:"minio"`
		Redis     Redis     `yaml:"redis"`
		Auth      Auth      `yaml:"auth"`
		History   History   `yaml:"history"`
		Upload    Upload    `yaml:"upload"`
		RateLimit RateLimit `yaml:"rateLimit"`
	}

	Server struct {
		Port         int           `yaml:"port" env:"SERVER_PORT"`
		Mode         string        `yaml:"mode" env:"SERVER_MODE"`
		CORSOrigins  []string      `yaml:"corsOrigins" env:"SERVER_CORS_ORIGINS"`
		ReadTimeout  time.Duration `yaml:"readTimeout" env:"SERVER_READ_TIMEOUT"`
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"SERVER_WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `yaml:"idleTimeout" env:"SERVER_IDLE_TIMEOUT"`
	}

	Log struct {
		Mode string `yaml:"mode" env:"LOG_MODE"`
	}

	Store struct {
		Driver  string `yaml:"driver" env:"STORE_DRIVER"`
		Migrate bool   `yaml:"migrate" env:"STORE_MIGRATE"`
	}

	Firestore struct {
		ProjectID       string `yaml:"projectId" env:"FIRESTORE_PROJECT_ID"`
		CredentialsFile string `yaml:"credentialsFile" env:"FIRESTORE_CREDENTIALS_FILE"`
		Collection      string `yaml:"collection" env:"FIRESTORE_COLLECTION"`
	}

	// Database is the MySQL connection.
	Database struct {
		Host     string `yaml:"host" env:"DATABASE_HOST"`
		Port     int    `yaml:"port" env:"DATABASE_PORT"`
		User     string `yaml:"user" env:"DATABASE_USER"`
		Password string `yaml:"password" env:"DATABASE_PASSWORD"`
		Name     string `yaml:"name" env:"DATABASE_NAME"`
	}

	Postgres struct {
		URL string `yaml:"url" env:"POSTGRES_URL"`
	}

	Minio struct {
		Enabled    bool   `yaml:"enabled" env:"MINIO_ENABLED"`
		Endpoint   string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey  string `yaml:"accessKey" env:"MINIO_ACCESS_KEY"`
		SecretKey  string `yaml:"secretKey" env:"MINIO_SECRET_KEY"`
		BucketName string `yaml:"bucketName" env:"MINIO_BUCKET_NAME"`
		Region     string `yaml:"region" env:"MINIO_REGION"`
		UseSSL     bool   `yaml:"useSSL" env:"MINIO_USE_SSL"`
	}

	// Redis caches stats when Addr is set.
	Redis struct {
		Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"REDIS_DB"`
		StatsTTL time.Duration `yaml:"statsTTL" env:"REDIS_STATS_TTL"`
	}

	Auth struct {
		Mode       string `yaml:"mode" env:"AUTH_MODE"`
		ProjectID  string `yaml:"projectId" env:"AUTH_PROJECT_ID"`
		HMACSecret string `yaml:"hmacSecret" env:"AUTH_HMAC_SECRET"`
		Issuer     string `yaml:"issuer" env:"AUTH_ISSUER"`
		Audience   string `yaml:"audience" env:"AUTH_AUDIENCE"`
	}

	History struct {
		FetchLimit      int `yaml:"fetchLimit" env:"HISTORY_FETCH_LIMIT"`
		StatsFetchLimit int `yaml:"statsFetchLimit" env:"HISTORY_STATS_FETCH_LIMIT"`
	}

	Upload struct {
		MaxBytes int64 `yaml:"maxBytes" env:"UPLOAD_MAX_BYTES"`
	}

	RateLimit struct {
		Capacity   int `yaml:"capacity" env:"RATE_LIMIT_CAPACITY"`
		RefillRate int `yaml:"refillRate" env:"RATE_LIMIT_REFILL_RATE"`
	}
)

const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverMemory    = "memory"

	AuthFirebase = "firebase"
	AuthHMAC     = "hmac"
)

// Default returns the configuration used for every field left unset.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:         3001,
			Mode:         "development",
			CORSOrigins:  []string{"http://localhost:5173"},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Log:       Log{Mode: "development"},
		Store:     Store{Driver: DriverFirestore},
		Firestore: Firestore{Collection: "pestAnalyses"},
		Database:  Database{Host: "localhost", Port: 3306, Name: "agroia"},
		Minio:     Minio{BucketName: "pest-photos", Region: "us-east-1"},
		Redis:     Redis{StatsTTL: 30 * time.Second},
		Auth:      Auth{Mode: AuthFirebase},
		History:   History{FetchLimit: 1000, StatsFetchLimit: 1000},
		Upload:    Upload{MaxBytes: 10 << 20},
		RateLimit: RateLimit{Capacity: 60, RefillRate: 1},
	}
}

// Load reads the YAML file at path over the defaults, then applies AGRO_*
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverFirestore, DriverPostgres, DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("store.driver %q: want firestore, postgres, mysql or memory", c.Store.Driver)
	}
	switch c.Auth.Mode {
	case AuthFirebase:
	case AuthHMAC:
		if c.Auth.HMACSecret == "" {
			return errors.New("auth.hmacSecret is required in hmac mode")
		}
	default:
		return fmt.Errorf("auth.mode %q: want firebase or hmac", c.Auth.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.History.FetchLimit <= 0 || c.History.StatsFetchLimit <= 0 {
		return errors.New("history fetch limits must be positive")
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.maxBytes must be positive")
	}
	if c.RateLimit.Capacity < 0 || c.RateLimit.RefillRate < 0 {
		return errors.New("rateLimit values must not be negative")
	}
	return nil
}

// AuthProjectID falls back to the Firestore project.
func (c *Config) AuthProjectID() string {
	if c.Auth.ProjectID != "" {
		return c.Auth.ProjectID
	}
	return c.Firestore.ProjectID
}

// MySQLDSN builds the go-sql-driver DSN for the database section.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}
