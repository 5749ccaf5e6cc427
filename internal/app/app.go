// Package app wires configuration, persistence, identity backends and the
// HTTP surface into a runnable service.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/activitysink"
	"github.com/goliatone/go-onboard/config"
	"github.com/goliatone/go-onboard/middleware/secretgate"
	"github.com/goliatone/go-onboard/provider/auth0"
	"github.com/goliatone/go-onboard/provider/kratos"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
)

// APIKeyHeader carries the public API key on /api routes.
const APIKeyHeader = "apikey"

type App struct {
	config   *config.Config
	logger   *glog.BaseLogger
	db       *bun.DB
	dbOpts   []DatabaseOption
	repo     onboard.RepositoryManager
	registry *prometheus.Registry
	activity onboard.ActivitySink

	identities onboard.IdentityAdmin
	provider   onboard.IdentityProvider
	validators []onboard.TokenValidator
	decorator  onboard.ClaimsDecorator

	auther   *onboard.Auther
	httpAuth *onboard.RouteAuthenticator
	srv      router.Server[*fiber.App]

	closers []func() error
}

// Option customizes an App before it is wired.
type Option func(*App)

// WithLogger sets the root logger.
func WithLogger(lgr *glog.BaseLogger) Option {
	return func(a *App) {
		if lgr != nil {
			a.logger = lgr
		}
	}
}

// WithDatabaseOptions adds options to the database opened by New, for
// example WithFixtures.
func WithDatabaseOptions(opts ...DatabaseOption) Option {
	return func(a *App) {
		a.dbOpts = append(a.dbOpts, opts...)
	}
}

// WithIdentityBackend replaces the configured identity backend.
func WithIdentityBackend(admin onboard.IdentityAdmin, provider onboard.IdentityProvider) Option {
	return func(a *App) {
		a.identities = admin
		a.provider = provider
	}
}

// NewLogger builds the root logger, pretty and verbose in development.
func NewLogger(cfg *config.Config) *glog.BaseLogger {
	if cfg.IsDevelopment() || cfg.Debug {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("app"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// New wires every component. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{config: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.logger == nil {
		a.logger = NewLogger(cfg)
	}

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithActivity,
		WithIdentity,
		WithHTTPAuth,
		WithHTTPServer,
	}

	for _, step := range steps {
		if err := step(ctx, a); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) Config() *config.Config { return a.config }

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) DB() *bun.DB                           { return a.db }
func (a *App) Repository() onboard.RepositoryManager { return a.repo }
func (a *App) Registry() *prometheus.Registry        { return a.registry }
func (a *App) Auther() *onboard.Auther               { return a.auther }

// Server returns the fiber app behind the router, nil before WithHTTPServer.
func (a *App) Server() *fiber.App {
	if a.srv == nil {
		return nil
	}
	return a.srv.WrappedRouter()
}

// WithPersistence opens the database through the persistence client and
// applies migrations when auto migrate is on.
func WithPersistence(ctx context.Context, a *App) error {
	opts := []DatabaseOption{
		WithDatabaseLogger(a.GetLogger("persistence")),
		WithDatabaseDebug(a.config.Debug),
		WithAutoMigrate(a.config.Database.AutoMigrate),
	}
	opts = append(opts, a.dbOpts...)

	db, err := OpenDatabase(ctx, a.config.Database.DSN, opts...)
	if err != nil {
		return err
	}
	a.db = db.DB()
	a.closers = append(a.closers, db.Close)

	a.repo = onboard.NewRepositoryManager(a.db)
	return a.repo.Validate()
}

// WithActivity fans activity events out to the activity log and, when
// enabled, to Prometheus.
func WithActivity(_ context.Context, a *App) error {
	a.registry = prometheus.NewRegistry()
	sinks := []onboard.ActivitySink{activitysink.NewStore(a.repo.Activity())}

	if a.config.Metrics.Enabled {
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sinks = append(sinks, activitysink.NewMetrics(a.registry))
	}

	a.activity = activitysink.NewFanout(sinks...)
	return nil
}

// WithIdentity selects the identity backend and any external token issuers.
func WithIdentity(ctx context.Context, a *App) error {
	cfg := a.config
	logger := a.GetLogger("identity")

	if a.identities == nil {
		switch cfg.Identity.Backend {
		case config.BackendAuth0:
			acfg := auth0.Config{
				Domain:       cfg.Identity.Auth0.Domain,
				ClientID:     cfg.Identity.Auth0.ClientID,
				ClientSecret: cfg.Identity.Auth0.ClientSecret,
				Connection:   cfg.Identity.Auth0.Connection,
				Audience:     cfg.Auth.JWKSAudience,
				Timeout:      cfg.Identity.Timeout,
			}
			admin, err := auth0.NewIdentityAdmin(ctx, acfg, auth0.WithLogger(logger))
			if err != nil {
				return err
			}
			validator, err := auth0.NewTokenValidator(acfg, logger)
			if err != nil {
				return err
			}
			a.identities, a.provider = admin, admin
			a.addValidator(validator)

		case config.BackendKratos:
			admin, err := kratos.NewIdentityAdmin(kratos.Config{
				PublicURL: cfg.Identity.Kratos.PublicURL,
				AdminURL:  cfg.Identity.Kratos.AdminURL,
				SchemaID:  cfg.Identity.Kratos.SchemaID,
				Timeout:   cfg.Identity.Timeout,
			}, kratos.WithLogger(logger))
			if err != nil {
				return err
			}
			a.identities, a.provider = admin, admin

		default:
			local := onboard.NewLocalIdentityAdmin(a.repo, onboard.WithIdentityAdminLogger(logger))
			a.identities, a.provider = local, local
		}
	}

	for _, url := range cfg.Auth.JWKSURLs {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		validator, err := onboard.NewJWKSTokenValidator(url, cfg.Auth.JWKSIssuer, cfg.Auth.JWKSAudience, logger)
		if err != nil {
			return err
		}
		a.addValidator(validator)
	}

	if len(a.validators) > 0 {
		a.decorator = onboard.ProfileClaimsDecorator{Profiles: a.repo.Profiles()}
	}

	logger.Info("identity backend ready", "backend", cfg.Identity.Backend, "external_validators", len(a.validators))
	return nil
}

func (a *App) addValidator(v *onboard.JWKSTokenValidator) {
	a.validators = append(a.validators, v)
	a.closers = append(a.closers, func() error {
		v.Close()
		return nil
	})
}

// WithHTTPAuth builds the session authenticator and its route adapter.
func WithHTTPAuth(_ context.Context, a *App) error {
	cfg := a.config

	a.auther = onboard.NewAuthenticator(
		a.provider,
		a.repo.Sessions(),
		cfg.Auth,
		onboard.WithAutherLogger(a.GetLogger("auth")),
		onboard.WithAutherActivitySink(a.activity),
		onboard.WithRoleResolver(onboard.ProfileRoleResolver{Profiles: a.repo.Profiles()}),
	)

	opts := []onboard.RouteAuthenticatorOption{
		onboard.WithRouteLogger(a.GetLogger("http")),
		onboard.WithRouteDebug(cfg.Debug),
	}
	if len(a.validators) > 0 {
		opts = append(opts,
			onboard.WithExternalTokenValidator(onboard.NewMultiTokenValidator(a.validators...)),
			onboard.WithClaimsDecorator(a.decorator),
		)
	}

	a.httpAuth = onboard.NewHTTPAuthenticator(a.auther, cfg.Auth, opts...)
	return nil
}

// WithHTTPServer mounts middleware, controllers, health and metrics.
func WithHTTPServer(_ context.Context, a *App) error {
	cfg := a.config
	httpLogger := a.GetLogger("http")

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:      "go-onboard",
			ErrorHandler: errorHandler(httpLogger, cfg.Debug),
		}))
	})

	app := srv.WrappedRouter()
	app.Use(recover.New())
	app.Use(requestid.New())

	if cfg.Metrics.Enabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}

	r := srv.Router()
	r.WithLogger(a.GetLogger("router"))

	r.Get("/health", func(c router.Context) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			httpLogger.Error("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(router.StatusOK, map[string]string{"status": "ok"})
	}).SetName("health.get")

	requests := a.accessRequestController()

	if cfg.PublicAPIKey != "" {
		r.Use(secretgate.New(secretgate.Config{
			Header: APIKeyHeader,
			Secret: cfg.PublicAPIKey,
			// the admin secret guards provisioning on its own
			Filter: func(c router.Context) bool {
				return !strings.HasPrefix(c.Path(), "/api") || c.Path() == requests.Routes.CreateUser
			},
			ErrorHandler: func(c router.Context, err error) error {
				return c.JSON(router.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			},
		}))
	}

	onboard.RegisterAuthRoutes(r,
		onboard.WithAuthControllerLogger(a.GetLogger("auth_controller")),
		onboard.WithAuthControllerDebug(cfg.Debug),
		onboard.WithAuthControllerProfiles(a.repo.Profiles()),
		onboard.WithAuthControllerAuthenticator(a.httpAuth),
		onboard.WithAuthControllerRateLimit(cfg.RateLimit.Max, cfg.RateLimit.Window),
	)
	requests.Register(r)

	a.srv = srv
	return nil
}

func (a *App) accessRequestController() *onboard.AccessRequestController {
	cfg := a.config
	requests := a.repo.AccessRequests()

	cmdOpts := []onboard.CommandOption{
		onboard.WithCommandLogger(a.GetLogger("commands")),
		onboard.WithCommandActivitySink(a.activity),
		onboard.WithCommandTimeout(cfg.Identity.Timeout),
	}

	sm := onboard.NewAccessRequestStateMachine(
		requests,
		onboard.WithStateMachineLogger(a.GetLogger("state")),
		onboard.WithStateMachineActivitySink(a.activity),
	)

	provisionOpts := append([]onboard.CommandOption{}, cmdOpts...)
	provisionOpts = append(provisionOpts,
		onboard.WithCommandLogger(a.GetLogger("provision")),
		onboard.WithProvisionCompensation(cfg.Admin.Compensate),
	)

	return onboard.NewAccessRequestController(
		a.httpAuth,
		requests,
		onboard.NewSubmitAccessRequestHandler(requests, cmdOpts...),
		onboard.NewRejectAccessRequestHandler(requests, sm, cmdOpts...),
		onboard.NewProvisionAccountHandler(a.identities, a.repo.Profiles(), requests, sm, provisionOpts...),
		cfg.Admin.Secret,
		onboard.WithAccessRequestLogger(a.GetLogger("access_requests")),
		onboard.WithAccessRequestDebug(cfg.Debug),
		onboard.WithAccessRequestRateLimit(cfg.RateLimit.Max, cfg.RateLimit.Window),
	)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	logger := a.GetLogger("server")
	errCh := make(chan error, 1)

	go func() {
		logger.Info("listening", "addr", a.config.HTTPAddr)
		errCh <- a.srv.Serve(a.config.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		// Serve may hand off to a background listener
		<-ctx.Done()
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return a.srv.Shutdown(shutdownCtx)
}

// Close releases validators and the database in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return goerrors.Join(errs...)
}

// errorHandler renders errors that escape the route handlers, including
// fiber's own 404 and 405.
func errorHandler(logger onboard.Logger, debug bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if goerrors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
		}

		status := onboard.StatusCodeFor(err)
		args := []any{"status", status, "error", err, "path", c.Path()}
		if debug {
			args = append(args, "method", c.Method())
		}
		logger.Error("unhandled request error", args...)
		return c.Status(status).JSON(fiber.Map{"error": onboard.ErrorMessage(err)})
	}
}
