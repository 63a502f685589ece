// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Derive values that depend on the host (instance identity).
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator and cross-field rules.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // REMINDER_TIMEZONE must resolve on minimal images

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// loaderDeps holds the injectable host dependencies for the loader.
type loaderDeps struct {
	hostname func() (string, error)
	pid      func() int
	dotenv   func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		hostname: os.Hostname,
		pid:      os.Getpid,
		dotenv:   func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the service configuration from the
// environment.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does not override variables that are already set.
	_ = deps.dotenv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if cfg.Reminder.InstanceID == "" {
		cfg.Reminder.InstanceID = defaultInstanceID(deps)
	}
	cfg.Server.FrontendURL = strings.TrimRight(cfg.Server.FrontendURL, "/")

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkConsistency(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// defaultInstanceID identifies this process in lock rows as "<host>-<pid>".
func defaultInstanceID(deps loaderDeps) string {
	host, err := deps.hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, deps.pid())
}

// checkConsistency enforces rules that span several fields.
func checkConsistency(cfg *Config) error {
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: fmt.Sprintf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.Database.MinConns, cfg.Database.MaxConns),
		}
	}
	if cfg.SMS.RetryMinWait > cfg.SMS.RetryMaxWait {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: "SMS_RETRY_MIN_WAIT must not exceed SMS_RETRY_MAX_WAIT",
		}
	}
	if _, err := time.LoadLocation(cfg.Reminder.Timezone); err != nil {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: fmt.Sprintf("REMINDER_TIMEZONE %q is not a known time zone", cfg.Reminder.Timezone),
			Err:     err,
		}
	}
	if cfg.SMS.Provider == "twilio" && (cfg.SMS.TwilioAccountSID == "" || !cfg.SMS.TwilioAuthToken.IsSet() || cfg.SMS.TwilioFromNumber == "") {
		return &ConfigError{
			Type:    ErrInconsistent,
			Message: "SMS_PROVIDER=twilio requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER",
		}
	}
	return nil
}
