package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valkey-io/valkey-go"
	"golang.org/x/sync/errgroup"

	"postagent-go/internal/auth"
	"postagent-go/internal/config"
	"postagent-go/internal/content"
	"postagent-go/internal/platform"
	"postagent-go/internal/scheduler"
	"postagent-go/internal/session"
	"postagent-go/internal/storage"
	"postagent-go/internal/telegram"
	"postagent-go/internal/webhook"
	"postagent-go/internal/worker"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 5 * time.Second

// Application holds all the major components of the service.
type Application struct {
	Config  *config.Config
	Version string
	Logger  zerolog.Logger

	Storage   *storage.SQLiteStorage
	Slots     session.Store
	Tokens    *storage.TokenStore
	Flow      *auth.FlowController
	Caller    *auth.Caller
	Refresher *auth.TokenRefreshService
	Platform  *platform.Client
	Registrar *webhook.Registrar
	Telegram  *telegram.Service
	Content   content.Source

	WorkerPool *worker.WorkerPool
	Scheduler  *scheduler.Scheduler

	HTTPServer    *http.Server
	MetricsServer *http.Server

	valkey   valkey.Client
	validate *validator.Validate
}

// New creates and initializes a new Application instance. cfg must already
// be validated.
func New(cfg *config.Config, version string, logger zerolog.Logger) (*Application, error) {
	a := &Application{
		Config:   cfg,
		Version:  version,
		Logger:   logger,
		validate: validator.New(),
	}
	if err := a.setup(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) setup() error {
	cfg := a.Config
	ctx := context.Background()

	// Setup: Database
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = cfg.DBPath
	db, err := storage.OpenDatabase(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.Storage = db

	// Setup: Login slots
	switch cfg.Session.Backend {
	case "valkey":
		client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{cfg.Session.ValkeyAddr}})
		if err != nil {
			return fmt.Errorf("failed to connect to valkey: %w", err)
		}
		a.valkey = client
		a.Slots = session.NewValkeyStore(client, cfg.Session.KeyPrefix)
	default:
		a.Slots = session.NewInMemoryStore(cfg.Session.CleanupInterval.Duration)
	}

	// Setup: Token store
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return err
	}
	cipher, err := storage.NewCipher(key)
	if err != nil {
		return err
	}
	var backend storage.Backend = db
	if cfg.TokenStore.Backend == "file" {
		fb, err := storage.NewFileBackend(cfg.TokenStore.FilePath)
		if err != nil {
			return err
		}
		backend = fb
	}
	a.Tokens = storage.NewTokenStore(backend, cipher)

	// Setup: Auth
	a.Flow, err = auth.NewFlowController(auth.FlowConfig{
		ClientID:        cfg.Auth.ClientID,
		ClientSecret:    cfg.Auth.ClientSecret,
		AuthURL:         cfg.Auth.AuthURL,
		TokenURL:        cfg.Auth.TokenURL,
		RedirectURL:     cfg.Auth.RedirectURL,
		Scopes:          cfg.Auth.Scopes,
		SlotTTL:         cfg.Auth.SlotTTL.Duration,
		ExchangeTimeout: cfg.Auth.ExchangeTimeout.Duration,
		VerifierBytes:   cfg.Auth.VerifierBytes,
	}, a.Slots, a.Logger)
	if err != nil {
		return err
	}
	a.Caller = auth.NewCaller(a.Tokens, a.Flow, &http.Client{Timeout: cfg.Platform.RequestTimeout.Duration}, a.Logger)
	a.Caller.OnTransition(func(op string, state auth.CallState) {
		a.Logger.Debug().Str("op", op).Stringer("state", state).Msg("Call state changed")
	})
	a.Refresher = auth.NewTokenRefreshService(a.Tokens, a.Flow, cfg.Auth.RefreshWindow.Duration, a.Logger)

	// Setup: Operator alerts
	var alerter platform.Alerter
	if cfg.Telegram.BotToken != "" {
		a.Telegram, err = telegram.NewService(telegram.Config{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			LoginURL: a.loginURL(),
			Cooldown: cfg.Telegram.Cooldown.Duration,
		}, a.Logger)
		if err != nil {
			return err
		}
		alerter = a.Telegram
	}

	// Setup: Platform
	a.Platform, err = platform.NewClient(platform.Config{
		APIBaseURL:       cfg.Platform.APIBaseURL,
		PostPath:         cfg.Platform.PostPath,
		MaxContentLength: cfg.Platform.MaxContentLength,
	}, a.Caller, db, alerter, a.Logger)
	if err != nil {
		return err
	}

	// Setup: Content
	switch cfg.Content.Source {
	case "static":
		a.Content, err = content.NewStaticSource(cfg.Content.Posts)
	case "openai":
		a.Content, err = content.NewOpenAISource(content.OpenAIConfig{
			APIKey:       cfg.Content.OpenAI.APIKey,
			BaseURL:      cfg.Content.OpenAI.BaseURL,
			Model:        cfg.Content.OpenAI.Model,
			SystemPrompt: cfg.Content.OpenAI.SystemPrompt,
			Prompt:       cfg.Content.OpenAI.Prompt,
			MaxTokens:    cfg.Content.OpenAI.MaxTokens,
		})
	}
	if err != nil {
		return err
	}

	// Setup: Webhook registration
	if cfg.Webhook.RegistrationURL != "" {
		a.Registrar, err = webhook.NewRegistrar(cfg.Webhook.RegistrationURL, cfg.Webhook.APIKey,
			cfg.Webhook.Timeout.Duration, a.Logger)
		if err != nil {
			return err
		}
	}

	// Setup: WorkerPool. Retries are the scheduler's business, so each task
	// gets a single attempt.
	a.WorkerPool = worker.NewWorkerPool(cfg.NumWorkers,
		worker.WithMaxAttempts(1),
		worker.WithLogger(a.Logger),
		worker.WithDeadLetterHandler(func(dl worker.DeadLetter) {
			a.Logger.Error().Err(dl.Err).Int("attempts", dl.Attempts).Msg("Task moved to dead letter queue")
		}),
	)

	// Setup: Scheduler
	registry := scheduler.NewJobHandlerRegistry()
	if a.Content != nil {
		registry.RegisterHandler(scheduler.JobTypePost, scheduler.NewPostHandler(a.Content, a.Platform, a.Logger))
	}
	registry.RegisterHandler(scheduler.JobTypeTokenRefresh, scheduler.NewTokenRefreshHandler(a.Refresher))
	registry.RegisterHandler(scheduler.JobTypeCleanup, scheduler.NewCleanupHandler(db, a.Logger))
	a.Scheduler = scheduler.NewScheduler(scheduler.NewSQLiteJobStore(db.DB()), registry, a.WorkerPool, a.Logger,
		scheduler.Options{
			MaxRetries:   cfg.Scheduler.MaxRetries,
			PollInterval: cfg.Scheduler.PollInterval.Duration,
		})

	// Setup: HTTP servers
	a.HTTPServer = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.MetricsPort != 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		a.MetricsServer = &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.MetricsPort)),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

// loginURL is where an operator starts a login, derived from the callback URL
// unless configured.
func (a *Application) loginURL() string {
	if a.Config.Telegram.LoginURL != "" {
		return a.Config.Telegram.LoginURL
	}
	redirect := a.Config.Auth.RedirectURL
	if strings.HasSuffix(redirect, "/callback") {
		return strings.TrimSuffix(redirect, "/callback")
	}
	return ""
}

// Router builds the HTTP routes.
func (a *Application) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer, requestLogger(a.Logger))

	r.Get("/", a.handleIndex)
	r.Get("/healthz", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/login", a.handleLogin)
		r.Get("/login/callback", a.handleAuthCallback)

		r.Post("/tokens", a.handleSaveTokens)
		r.Get("/tokens/status", a.handleTokenStatus)
		r.Delete("/tokens", a.handleClearTokens)

		signed := webhook.RequireSignature([]byte(a.Config.Webhook.Secret), func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, r, "Invalid webhook signature", err)
		})
		r.With(signed).Post("/webhook", a.handleWebhookPost)
		r.Post("/webhook/register", a.handleWebhookRegister)

		r.Get("/posts", a.handleListPosts)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "Not found"})
	})
	return r
}

type jobSpec struct {
	name     string
	jobType  string
	schedule string
	payload  interface{}
}

// EnsureJobs brings the stored recurring jobs in line with the configuration.
// A job whose schedule is empty is removed.
func (a *Application) EnsureJobs(ctx context.Context) error {
	sc := a.Config.Scheduler

	refreshPayload, err := a.Refresher.CreateRefreshJob(false)
	if err != nil {
		return err
	}
	postSchedule := sc.PostSchedule
	if a.Content == nil {
		postSchedule = ""
	}

	jobs := []jobSpec{
		{scheduler.TokenRefreshJobName, scheduler.JobTypeTokenRefresh, sc.RefreshSchedule, refreshPayload},
		{scheduler.CleanupJobName, scheduler.JobTypeCleanup, sc.CleanupSchedule,
			scheduler.CleanupJobPayload{PostRetention: sc.PostRetention.String()}},
		{scheduler.PostJobName, scheduler.JobTypePost, postSchedule, scheduler.PostJobPayload{}},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			if err := a.Scheduler.Unschedule(ctx, j.name); err != nil {
				return err
			}
			continue
		}
		if _, err := a.Scheduler.ScheduleJob(ctx, j.name, j.jobType, j.schedule, j.payload); err != nil {
			return err
		}
	}
	return nil
}

// Run starts every service and blocks until ctx is done or one of them fails.
func (a *Application) Run(ctx context.Context) error {
	a.Logger.Info().Str("version", a.Version).Msg("Starting application services")

	a.WorkerPool.Start()
	defer a.WorkerPool.Stop()

	if err := a.EnsureJobs(ctx); err != nil {
		return fmt.Errorf("failed to schedule jobs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("Starting HTTP server")
		return listen(a.HTTPServer)
	})
	if a.MetricsServer != nil {
		g.Go(func() error {
			a.Logger.Info().Str("addr", a.MetricsServer.Addr).Msg("Starting metrics server")
			return listen(a.MetricsServer)
		})
	}
	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})
	if a.Telegram != nil {
		g.Go(func() error {
			a.Telegram.StartPolling(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.HTTPServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		if a.MetricsServer != nil {
			if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	a.Logger.Info().Msg("Application stopped")
	return err
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the database and the valkey connection.
func (a *Application) Close() error {
	if a.valkey != nil {
		a.valkey.Close()
	}
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}
