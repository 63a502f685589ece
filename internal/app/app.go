// Package app assembles the reminder pipeline from configuration. Both the
// HTTP API and the reminder worker Lambda build their dependency graph here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sphyra/internal/api/handlers"
	"sphyra/internal/config"
	"sphyra/internal/core"
	"sphyra/internal/db"
	"sphyra/internal/external"
	notifcore "sphyra/internal/notifications/core"
	"sphyra/internal/notifications/email"
	"sphyra/internal/notifications/sms"
	"sphyra/internal/reminders"
	"sphyra/internal/scheduler"
	"sphyra/internal/types"
)

// sendBurst is the per-operator burst on manual send routes.
const sendBurst = 10

// App holds the wired services of one process.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Settings     *reminders.SettingsCache
	Lock         *reminders.DistributedLock
	Tokens       *reminders.TokenService
	Orchestrator *reminders.Orchestrator
	Confirmation *reminders.ConfirmationFlow
	Mobile       *reminders.MobileQueue
	Scheduler    *scheduler.ReminderScheduler

	SMSProvider external.SMSProvider
	Probes      []core.HealthProbe

	pool *pgxpool.Pool
}

// Observability carries the optional AWS sinks. Nil fields fall back to
// no-op implementations.
type Observability struct {
	CloudWatch notifcore.CloudWatchClient
	SQS        notifcore.SQSSender
}

// New opens the database pool, loads AWS clients when metrics or event
// publishing are enabled, and wires every service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	obs, err := loadObservability(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a := Wire(cfg, logger, pool, obs)
	a.pool = pool
	a.Probes = append([]core.HealthProbe{db.PoolProbe{Pool: pool}}, a.Probes...)
	return a, nil
}

func loadObservability(ctx context.Context, cfg *config.Config) (Observability, error) {
	var obs Observability
	o := cfg.Observability
	if !o.MetricsEnabled && o.EventsQueueURL == "" {
		return obs, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(o.AWSRegion))
	if err != nil {
		return obs, fmt.Errorf("loading AWS config: %w", err)
	}
	if o.MetricsEnabled {
		obs.CloudWatch = cloudwatch.NewFromConfig(awsCfg)
	}
	if o.EventsQueueURL != "" {
		obs.SQS = sqs.NewFromConfig(awsCfg, func(opts *sqs.Options) {
			opts.RetryMaxAttempts = 3
		})
	}
	return obs, nil
}

// Wire builds the service graph on top of conn. It performs no I/O, so tests
// can pass a mock connection.
func Wire(cfg *config.Config, logger *slog.Logger, conn db.DBTX, obs Observability) *App {
	var (
		appointments = db.NewAppointmentRepository(conn)
		reminderRepo = db.NewReminderRepository(conn)
		settingsRepo = db.NewSettingsRepository(conn)
		locks        = db.NewCronLockRepository(conn)
		location     = cfg.Reminder.Location()
		clock        = types.RealClock{}
	)

	var metrics notifcore.Metrics = notifcore.NoopMetrics{}
	if obs.CloudWatch != nil {
		metrics = notifcore.NewCloudWatchMetrics(obs.CloudWatch, cfg.Observability.MetricNamespace, logger)
	}
	var events notifcore.EventPublisher = notifcore.NoopPublisher{}
	if obs.SQS != nil {
		events = notifcore.NewSQSPublisher(obs.SQS, cfg.Observability.EventsQueueURL, logger)
	}

	a := &App{Config: cfg, Logger: logger}

	a.Settings = reminders.NewSettingsCache(reminders.SettingsCacheConfig{
		Store:  settingsRepo,
		TTL:    cfg.Reminder.SettingsCacheTTL,
		Clock:  clock,
		Logger: logger,
	})
	a.Lock = reminders.NewDistributedLock(locks, clock, location, logger)
	a.Tokens = reminders.NewTokenService(reminders.TokenServiceConfig{
		Store:  appointments,
		Cost:   cfg.Reminder.TokenBcryptCost,
		TTL:    cfg.Reminder.TokenTTL,
		Clock:  clock,
		Logger: logger,
	})

	a.SMSProvider = newSMSProvider(cfg.SMS, logger)
	if p, ok := a.SMSProvider.(*external.SMSGatewayClient); ok && p.Configured() {
		a.Probes = append(a.Probes, gatewayProbe{p})
	}

	studio := email.StudioInfo{
		Name:           cfg.Studio.Name,
		Address:        cfg.Studio.Address,
		Email:          cfg.Studio.Email,
		CalendarDomain: cfg.Studio.CalendarDomain,
	}
	channels := []notifcore.Channel{
		newEmailChannel(cfg, studio, clock, logger),
		sms.NewChannel(a.SMSProvider, cfg.Studio.Name, logger),
	}

	a.Orchestrator = reminders.NewOrchestrator(reminders.OrchestratorConfig{
		Appointments: appointments,
		Reminders:    reminderRepo,
		Settings:     a.Settings,
		Tokens:       a.Tokens,
		Channels:     channels,
		BatchChannel: types.ReminderEmail,
		FrontendURL:  cfg.Server.FrontendURL,
		Location:     location,
		Metrics:      metrics,
		Events:       events,
		Clock:        clock,
		Logger:       logger,
	})
	a.Confirmation = reminders.NewConfirmationFlow(appointments, a.Tokens, events, clock, logger)
	a.Mobile = reminders.NewMobileQueue(reminders.MobileQueueConfig{
		Appointments: appointments,
		Reminders:    reminderRepo,
		Signature:    cfg.Studio.Name,
		Location:     location,
		Metrics:      metrics,
		Clock:        clock,
		Logger:       logger,
	})
	a.Scheduler = scheduler.New(scheduler.Config{
		Runner:     a.Orchestrator,
		Settings:   a.Settings,
		Lock:       a.Lock,
		JobName:    cfg.Reminder.JobName,
		InstanceID: cfg.Reminder.InstanceID,
		Lease:      cfg.Reminder.LockLease,
		Location:   location,
		Clock:      clock,
		Logger:     logger,
	})
	return a
}

// newEmailChannel builds the SendGrid channel. A template error leaves the
// channel without a renderer, which fails every send as not configured.
func newEmailChannel(cfg *config.Config, studio email.StudioInfo, clock types.Clock, logger *slog.Logger) *email.Channel {
	renderer, err := email.NewRenderer(studio)
	if err != nil {
		logger.Error("email templates failed to load", "error", err)
	}
	var provider external.EmailProvider
	if key := cfg.Email.SendGridAPIKey.Unmask(); key != "" {
		provider = external.NewSendGridClient(&http.Client{Timeout: 15 * time.Second}, external.SendGridClientConfig{
			APIKey:    key,
			BaseURL:   cfg.Email.SendGridURL,
			UserAgent: cfg.Build.UserAgent(),
			Logger:    logger,
		})
	}
	return email.NewChannel(email.ChannelConfig{
		Provider:    provider,
		Renderer:    renderer,
		Studio:      studio,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Clock:       clock,
		Logger:      logger,
	})
}

func newSMSProvider(cfg config.SMSConfig, logger *slog.Logger) external.SMSProvider {
	if cfg.Provider == "twilio" {
		return external.NewTwilioSMSClient(external.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken.Unmask(),
			FromNumber: cfg.TwilioFromNumber,
		})
	}
	return external.NewSMSGatewayClient(external.SMSGatewayConfig{
		URL:      cfg.GatewayURL,
		Username: cfg.GatewayUsername,
		Password: cfg.GatewayPassword.Unmask(),
		Timeout:  cfg.Timeout,
		Retry: external.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			MinWait:    cfg.RetryMinWait,
			MaxWait:    cfg.RetryMaxWait,
			Jitter:     cfg.RetryJitter,
		},
		Logger: logger,
	})
}

// gatewayProbe reports the SMS gateway in /health.
type gatewayProbe struct {
	p external.Pinger
}

func (g gatewayProbe) Name() string                    { return "sms_gateway" }
func (g gatewayProbe) Check(ctx context.Context) error { return g.p.Ping(ctx) }

// Limiters are the HTTP rate limiters; their sweepers run alongside the
// server.
type Limiters struct {
	Confirm *core.RateLimiter
	Send    *core.RateLimiter
}

// NewLimiters builds the limiters from SecurityConfig.
func NewLimiters(cfg config.SecurityConfig) Limiters {
	return Limiters{
		Confirm: core.NewRateLimiter(cfg.ConfirmRatePerMinute, time.Minute, cfg.ConfirmRateBurst, core.ClientIP),
		Send:    core.NewRateLimiter(cfg.SendRatePerHour, time.Hour, sendBurst, core.OperatorKey),
	}
}

// Server builds the HTTP server with public confirmation routes and the
// operator-only reminder, settings and mobile routes.
func (a *App) Server(lim Limiters) (*core.Server, error) {
	srv, err := core.NewServer(a.Config, a.Logger)
	if err != nil {
		return nil, err
	}
	srv.Authenticator = core.NewJWTAuthenticator(a.Config.Security.OperatorJWTSecret, nil)
	srv.HealthProbes = a.Probes

	confirm := handlers.NewConfirmationHandler(a.Confirmation, a.Config.Server.FrontendURL, srv.Validator, a.Logger)
	rem := handlers.NewReminderHandler(a.Orchestrator, a.Scheduler, a.Logger)
	settings := handlers.NewSettingsHandler(a.Settings, srv.Validator, a.Logger)
	mobile := handlers.NewMobileHandler(a.Mobile, srv.Validator, a.Logger)

	srv.V1RouteRegistrars = []func(r chi.Router){
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(lim.Confirm.Middleware)
				confirm.RegisterRoutes(r)
			})
		},
		func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(srv.RequireOperator)
				settings.RegisterRoutes(r)
				mobile.RegisterRoutes(r)
				r.Group(func(r chi.Router) {
					r.Use(lim.Send.Middleware)
					rem.RegisterRoutes(r)
				})
			})
		},
	}
	srv.MountRoutes()
	return srv, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
