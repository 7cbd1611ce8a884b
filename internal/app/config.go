package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/domainshop/internal/cache"
	"github.com/xenking/domainshop/internal/domain/availability"
	"github.com/xenking/domainshop/internal/domain/billing"
	"github.com/xenking/domainshop/internal/domain/notify"
	"github.com/xenking/domainshop/internal/domain/provider"
	"github.com/xenking/domainshop/internal/domain/provision"
	"github.com/xenking/domainshop/internal/events"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Availability oracles.
const (
	OracleRegistrar = "registrar"
	OracleWhois     = "whois"
	OracleFake      = "fake"
)

// Config holds the complete application configuration, loadable from
// environment variables (DOMAINSHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (DOMAINSHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (DOMAINSHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Currency     string `default:"GBP" usage:"Currency assumed for quotes that carry none"`

	Oracle       OracleConfig
	Availability availability.Config
	Cache        cache.Config
	Events       events.Config

	Registrar provider.ClientConfig
	Hosting   provider.ClientConfig
	Payment   provider.ClientConfig
	Webhook   WebhookConfig

	Billing      billing.Config
	Provisioning provision.Config
	Notify       notify.Config
	SMTP         notify.SMTPConfig

	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
	Dev       DevConfig
}

// DevConfig seeds the memory store so the service is usable without a
// database.
type DevConfig struct {
	AdminKey      string `usage:"Admin API key seeded into memory storage"`
	CustomerKey   string `usage:"Customer API key seeded into memory storage"`
	CustomerEmail string `default:"customer@example.com" usage:"Email of the seeded customer"`
}

// OracleConfig selects how domain availability is answered.
type OracleConfig struct {
	Kind         string        `default:"registrar" usage:"Availability oracle: registrar, whois or fake"`
	WhoisTimeout time.Duration `default:"5s" usage:"Timeout of one WHOIS lookup"`
}

// WebhookConfig authenticates payment processor callbacks.
type WebhookConfig struct {
	Secret    string        `usage:"Shared secret for payment webhook signatures (DOMAINSHOP_WEBHOOK_SECRET)"`
	Tolerance time.Duration `default:"5m" usage:"Maximum age of a webhook signature"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "DOMAINSHOP",
		Files:     []string{"config.yaml", "/etc/domainshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set DOMAINSHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}

	switch c.Oracle.Kind {
	case OracleRegistrar:
		if c.Registrar.BaseURL == "" {
			return errors.New("registrar oracle needs DOMAINSHOP_REGISTRAR_BASE_URL")
		}
	case OracleWhois, OracleFake:
	default:
		return errors.Errorf("unknown availability oracle %q", c.Oracle.Kind)
	}

	if c.Webhook.Secret == "" {
		return errors.New("webhook secret is required: set DOMAINSHOP_WEBHOOK_SECRET")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set DOMAINSHOP_API_KEY_PEPPER")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's DOMAINSHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Cache.URL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Cache.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
