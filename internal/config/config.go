// Package config defines the configuration structure for the Sphyra reminder
// service. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct tag defaults (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"sphyra/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types just to unmask a credential.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sphyra-reminders"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Email         EmailConfig
	Studio        StudioConfig
	SMS           SMSConfig
	Reminder      ReminderConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Base URL of the customer-facing frontend, used in confirmation links
	// and redirects (no trailing slash).
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:5173" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// EmailConfig configures the SendGrid email channel.
// An empty API key leaves the channel registered but every send fails with
// a configuration error recorded on the reminder.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY"`
	SendGridURL    string       `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com" validate:"omitempty,url"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@sphyra.local" validate:"required,email"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Sphyra Wellness Lab"`
}

// StudioConfig describes the business for message templates and calendar
// invitations.
type StudioConfig struct {
	Name           string `envconfig:"STUDIO_NAME" default:"Sphyra Wellness Lab"`
	Address        string `envconfig:"STUDIO_ADDRESS" default:"Sphyra Wellness Lab"`
	Email          string `envconfig:"STUDIO_EMAIL" default:"info@sphyra.local" validate:"omitempty,email"`
	CalendarDomain string `envconfig:"CALENDAR_DOMAIN" default:"sphyra.local"`
}

// SMSConfig configures the SMS channel. Provider "gateway" posts to an
// Android SMS gateway app over HTTP; "twilio" uses the Twilio Messages API.
type SMSConfig struct {
	Provider        string        `envconfig:"SMS_PROVIDER" default:"gateway" validate:"oneof=gateway twilio"`
	GatewayURL      string        `envconfig:"SMS_GATEWAY_URL" validate:"omitempty,url"`
	GatewayUsername string        `envconfig:"SMS_GATEWAY_USERNAME"`
	GatewayPassword SecretString  `envconfig:"SMS_GATEWAY_PASSWORD"`
	Timeout         time.Duration `envconfig:"SMS_TIMEOUT" default:"10s" validate:"min=1s"`
	MaxRetries      int           `envconfig:"SMS_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
	RetryMinWait    time.Duration `envconfig:"SMS_RETRY_MIN_WAIT" default:"1s"`
	RetryMaxWait    time.Duration `envconfig:"SMS_RETRY_MAX_WAIT" default:"10s"`
	RetryJitter     bool          `envconfig:"SMS_RETRY_JITTER" default:"true"`

	TwilioAccountSID string       `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string       `envconfig:"TWILIO_FROM_NUMBER"`
}

// ReminderConfig tunes the scheduler, lock and confirmation tokens.
type ReminderConfig struct {
	JobName          string        `envconfig:"REMINDER_JOB_NAME" default:"daily_reminder_job" validate:"required"`
	LockLease        time.Duration `envconfig:"LOCK_LEASE" default:"5m" validate:"min=1s"`
	SettingsCacheTTL time.Duration `envconfig:"SETTINGS_CACHE_TTL" default:"10m"`
	InstanceID       string        `envconfig:"INSTANCE_ID"`
	SchedulerEnabled bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	TokenTTL         time.Duration `envconfig:"TOKEN_TTL" default:"48h" validate:"min=1m"`
	TokenBcryptCost  int           `envconfig:"TOKEN_BCRYPT_COST" default:"12" validate:"min=10,max=31"`
	// IANA zone of the studio. Send time and the due day are evaluated in
	// this zone; timestamps are still stored in UTC.
	Timezone string `envconfig:"REMINDER_TIMEZONE" default:"Europe/Rome" validate:"required"`
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
// LoadConfig has already rejected unknown zones.
func (c ReminderConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SecurityConfig holds operator auth and public endpoint throttling.
type SecurityConfig struct {
	OperatorJWTSecret    SecretString `envconfig:"OPERATOR_JWT_SECRET" validate:"required"`
	CorsAllowedOrigins   []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
	ConfirmRatePerMinute int          `envconfig:"CONFIRM_RATE_PER_MINUTE" default:"10" validate:"min=1"`
	ConfirmRateBurst     int          `envconfig:"CONFIRM_RATE_BURST" default:"5" validate:"min=1"`
	SendRatePerHour      int          `envconfig:"SEND_RATE_PER_HOUR" default:"60" validate:"min=1"`
}

// ObservabilityConfig controls CloudWatch metrics and SQS event publishing.
type ObservabilityConfig struct {
	AWSRegion       string `envconfig:"AWS_REGION" default:"eu-south-1"`
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Sphyra/Reminders"`
	EventsQueueURL  string `envconfig:"EVENTS_QUEUE_URL" validate:"omitempty,url"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// (e.g., a malformed duration).
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrInconsistent indicates values that are individually valid but do not
	// work together.
	ErrInconsistent ConfigErrorType = "INCONSISTENT"
)
