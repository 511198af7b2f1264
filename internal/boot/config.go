package boot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env     string `env:"ENV,default=dev"`
	BaseURL string `env:"BASE_URL,default=http://localhost:8080"`
	DataDir string `env:"DATA_DIR,default=./data"`
	Server  struct {
		Port        string `env:"PORT,default=8080"`
		MetricsPort string `env:"METRICS_PORT,default=8081"`
		Origins     string `env:"ALLOWED_ORIGINS,default=*"`
		BodyLimit   string `env:"BODY_LIMIT,default=50M"`
		// requests per second per client on /api/auth, 0 disables
		AuthRateLimit float64 `env:"AUTH_RATE_LIMIT,default=5"`
	}
	Database struct {
		Path string `env:"DATABASE_PATH,default=helpline.db"`
	}
	Auth struct {
		KeyPassphrase    string        `env:"SIGNING_KEY_PASSPHRASE,default=development-only"`
		SessionTTL       time.Duration `env:"SESSION_TTL,default=24h"`
		MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS,default=5"`
	}
	Pipeline struct {
		URL        string        `env:"PIPELINE_URL,default=https://dhruva-api.bhashini.gov.in/services/inference/pipeline"`
		APIKey     string        `env:"PIPELINE_API_KEY"`
		ConfigFile string        `env:"PIPELINE_CONFIG"`
		Timeout    time.Duration `env:"PIPELINE_TIMEOUT,default=60s"`
		RateLimit  float64       `env:"PIPELINE_RATE_LIMIT,default=2"`
	}
	NATS struct {
		URL    string `env:"NATS_URL"`
		Stream string `env:"NATS_STREAM,default=HELPLINE"`
		Prefix string `env:"NATS_SUBJECT_PREFIX,default=helpline"`
	}
	UI struct {
		BuildDir string `env:"UI_BUILD_DIR,default=build"`
		Port     string `env:"UI_PORT,default=3000"`
		APIURL   string `env:"UI_API_URL,default=http://localhost:8080"`
	}
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return LoadWith(envconfig.OsLookuper())
}

func LoadWith(lookuper envconfig.Lookuper) (*Config, error) {
	config := &Config{}
	if err := envconfig.ProcessWith(context.Background(), config, lookuper); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) DataDirectory() string {
	return c.DataDir
}

// DatabasePath resolves the database file against the data directory unless
// it is already absolute.
func (c *Config) DatabasePath() string {
	if path.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return path.Join(c.DataDir, c.Database.Path)
}

func (c *Config) BlobDirectory() string {
	return path.Join(c.DataDir, "blobs")
}

func (c *Config) SigningKeyPath() string {
	return path.Join(c.DataDir, "signing-key.jwk")
}
