package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAddr            = ":8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultPaymentTimeout  = 10 * time.Second
	defaultIntentTTL       = 30 * time.Minute
	defaultCurrency        = "GBP"
	defaultPaymentProvider = "mock"
)

// Config groups runtime settings by concern.
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Payments PaymentsConfig
	Storage  StorageConfig
	Mail     MailConfig
	Notify   NotifyConfig
	Auth     AuthConfig
	Sentry   SentryConfig
	Log      LogConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BaseURL      string
}

type DatabaseConfig struct {
	Driver       string // mysql|postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type PaymentsConfig struct {
	Provider            string // stripe|mock
	Currency            string
	Timeout             time.Duration
	IntentTTL           time.Duration
	ReturnURL           string
	StripeSecretKey     string
	StripeWebhookSecret string
	MockWebhookSecret   string
	MockAutoSucceed     bool
}

type StorageConfig struct {
	Driver          string // local|s3
	LocalDir        string
	LocalURLPrefix  string
	S3Region        string
	S3Bucket        string
	S3Prefix        string
	S3PublicBaseURL string
}

// SMTPConfig is consumed by mailer.SMTPMailer.
type SMTPConfig struct {
	Host          string
	Port          string
	User          string
	Pass          string
	TLSMode       string // none|starttls|tls
	SkipVerifyTLS bool
}

type MailConfig struct {
	Driver        string // smtp|mailtrap|log
	FromAddr      string
	FromName      string
	SMTP          SMTPConfig
	MailtrapURL   string
	MailtrapToken string
}

type NotifyConfig struct {
	StaffInbox      string
	PubSubProjectID string
	PubSubTopic     string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type SentryConfig struct {
	DSN string
}

type LogConfig struct {
	Level string
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	// Missing .env is fine; production injects real env vars.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}

	cfg := Config{
		Env: e.str("APP_ENV", "development"),
		Server: ServerConfig{
			Addr:         e.str("HTTP_ADDR", defaultAddr),
			ReadTimeout:  e.duration("HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.duration("HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			BaseURL:      strings.TrimRight(e.str("BASE_URL", "http://localhost:8080"), "/"),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(e.str("DB_DRIVER", "mysql")),
			DSN:          e.str("DB_DSN", ""),
			MaxOpenConns: e.int("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: e.int("DB_MAX_IDLE_CONNS", 5),
		},
		Payments: PaymentsConfig{
			Provider:            strings.ToLower(e.str("PAYMENT_PROVIDER", defaultPaymentProvider)),
			Currency:            strings.ToUpper(e.str("PAYMENT_CURRENCY", defaultCurrency)),
			Timeout:             e.duration("PAYMENT_TIMEOUT", defaultPaymentTimeout),
			IntentTTL:           e.duration("PAYMENT_INTENT_TTL", defaultIntentTTL),
			ReturnURL:           e.str("PAYMENT_RETURN_URL", ""),
			StripeSecretKey:     e.str("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: e.str("STRIPE_WEBHOOK_SECRET", ""),
			MockWebhookSecret:   e.str("MOCK_WEBHOOK_SECRET", ""),
			MockAutoSucceed:     e.bool("PAYMENT_MOCK_AUTO_SUCCEED", false),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(e.str("STORAGE_DRIVER", "local")),
			LocalDir:        e.str("LOCAL_UPLOAD_DIR", "./storage/documents"),
			LocalURLPrefix:  e.str("LOCAL_UPLOAD_URL_PREFIX", "/documents"),
			S3Region:        e.str("S3_REGION", ""),
			S3Bucket:        e.str("S3_BUCKET", ""),
			S3Prefix:        e.str("S3_PREFIX", "prescriptions"),
			S3PublicBaseURL: e.str("S3_PUBLIC_BASE_URL", ""),
		},
		Mail: MailConfig{
			Driver:   strings.ToLower(e.str("MAIL_DRIVER", "log")),
			FromAddr: e.str("EMAIL_FROM", "no-reply@globlept.co.uk"),
			FromName: e.str("EMAIL_FROM_NAME", "Globle Pharmacy"),
			SMTP: SMTPConfig{
				Host:          e.str("SMTP_HOST", "localhost"),
				Port:          e.str("SMTP_PORT", "1025"),
				User:          e.str("SMTP_USER", ""),
				Pass:          e.str("SMTP_PASS", ""),
				TLSMode:       strings.ToLower(e.str("SMTP_TLS_MODE", "none")),
				SkipVerifyTLS: e.bool("SMTP_SKIP_VERIFY", false),
			},
			MailtrapURL:   e.str("MAILTRAP_API_URL", ""),
			MailtrapToken: e.str("MAILTRAP_API_TOKEN", ""),
		},
		Notify: NotifyConfig{
			StaffInbox:      e.str("STAFF_INBOX", ""),
			PubSubProjectID: e.str("PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     e.str("PUBSUB_STAFF_TOPIC", ""),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("AUTH_JWT_SECRET", ""),
			Issuer:    e.str("AUTH_JWT_ISSUER", ""),
		},
		Sentry: SentryConfig{DSN: e.str("SENTRY_DSN", "")},
		Log:    LogConfig{Level: e.str("LOG_LEVEL", "info")},
	}

	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or contradictory setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q unsupported (mysql|postgres)", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	switch c.Payments.Provider {
	case "stripe":
		if c.Payments.StripeSecretKey == "" || c.Payments.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for the stripe provider"))
		}
	case "mock":
		if c.Payments.MockWebhookSecret == "" {
			errs = append(errs, errors.New("MOCK_WEBHOOK_SECRET is required for the mock provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_PROVIDER %q unsupported (stripe|mock)", c.Payments.Provider))
	}
	if len(c.Payments.Currency) != 3 {
		errs = append(errs, fmt.Errorf("PAYMENT_CURRENCY %q is not an ISO code", c.Payments.Currency))
	}
	if c.Payments.Timeout <= 0 {
		errs = append(errs, errors.New("PAYMENT_TIMEOUT must be positive"))
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.S3Region == "" || c.Storage.S3Bucket == "" || c.Storage.S3PublicBaseURL == "" {
			errs = append(errs, errors.New("S3_REGION, S3_BUCKET and S3_PUBLIC_BASE_URL are required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER %q unsupported (local|s3)", c.Storage.Driver))
	}
	switch c.Mail.Driver {
	case "smtp", "log":
	case "mailtrap":
		if c.Mail.MailtrapURL == "" || c.Mail.MailtrapToken == "" {
			errs = append(errs, errors.New("MAILTRAP_API_URL and MAILTRAP_API_TOKEN are required for the mailtrap driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER %q unsupported (smtp|mailtrap|log)", c.Mail.Driver))
	}
	if (c.Notify.PubSubProjectID == "") != (c.Notify.PubSubTopic == "") {
		errs = append(errs, errors.New("PUBSUB_PROJECT_ID and PUBSUB_STAFF_TOPIC must be set together"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool { return c.Env == "production" }

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

func (e *env) int(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
