package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	sitegate "github.com/goliatone/go-sitegate"
	"github.com/goliatone/go-sitegate/activitymap"
	"github.com/goliatone/go-sitegate/cache"
	"github.com/goliatone/go-sitegate/config"
	"github.com/goliatone/go-sitegate/ledger"
	"github.com/goliatone/go-sitegate/middleware/gate"
	"github.com/goliatone/go-sitegate/provider/federated"
	"github.com/goliatone/go-sitegate/ratelimit"
	"github.com/goliatone/go-sitegate/repository"
)

// App holds every long lived component of the service.
type App struct {
	config     *config.Config
	logger     sitegate.Logger
	repo       *repository.Manager
	cache      *cache.BadgerCache
	ledger     *ledger.Ledger
	bookmarks  *ledger.BookmarkManager
	reconciler *ledger.Reconciler
	visits     *gate.VisitQueue
	admin      *sitegate.AdminTokenService
	identities *sitegate.IdentityResolver
	federated  *federated.Verifier
	limiter    *ratelimit.KeyedRateLimiter
	http       *fiber.App
}

// NewApp wires the service from cfg. Close releases everything it opened.
func NewApp(ctx context.Context, cfg *config.Config, logger sitegate.Logger) (*App, error) {
	app := &App{config: cfg, logger: sitegate.NormalizeLogger(logger)}

	steps := []func(context.Context, *App) error{
		WithPersistence,
		WithCache,
		WithLedger,
		WithAuth,
		WithHTTPServer,
	}

	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	return app, nil
}

// WithPersistence opens the database and creates the schema.
func WithPersistence(ctx context.Context, app *App) error {
	db, err := repository.Open(app.config.DBDriver, app.config.DBDSN)
	if err != nil {
		return err
	}

	app.repo = repository.NewManager(db)
	if err := app.repo.Validate(); err != nil {
		return err
	}

	return app.repo.CreateSchema(ctx)
}

// WithCache opens the badger backed read-through cache.
func WithCache(_ context.Context, app *App) error {
	c, err := cache.OpenBadger(cache.Options{
		Dir:      app.config.CacheDir,
		EntryTTL: app.config.CacheEntryTTL,
		Logger:   app.logger,
	})
	if err != nil {
		return err
	}
	app.cache = c
	return nil
}

// WithLedger builds the interaction ledger, the bookmark manager and the
// repair worker sharing one registry and cache.
func WithLedger(_ context.Context, app *App) error {
	registry := cache.NewRegistry()

	app.ledger = ledger.New(app.repo.Ledger()).
		WithCache(app.cache).
		WithRegistry(registry).
		WithLogger(app.logger)

	app.reconciler = ledger.NewReconciler(app.ledger, ledger.ReconcilerConfig{
		Buffer:   app.config.ReconcileBuffer,
		Interval: app.config.ReconcileInterval,
	}).WithLogger(app.logger)

	app.ledger.WithRepairQueue(app.reconciler)

	app.bookmarks = ledger.NewBookmarkManager(app.repo.Bookmarks()).
		WithCache(app.cache).
		WithRegistry(registry).
		WithIdempotentCreate(app.config.IdempotentBookmarks).
		WithLogger(app.logger)

	return nil
}

// WithAuth builds both realms and the federated verifier when configured.
func WithAuth(_ context.Context, app *App) error {
	cfg := app.config

	codec := sitegate.NewTokenCodec([]byte(cfg.GetSigningKey()), cfg.GetIssuer(), app.logger)
	activity := activitymap.LogSink(app.logger)

	app.admin = sitegate.NewAdminTokenService(codec, cfg).
		WithLogger(app.logger).
		WithActivitySink(activity)
	if cfg.GetRotateRefreshTokens() {
		app.admin.WithRefreshRotation(app.repo.Revocations())
	}

	app.identities = sitegate.NewIdentityResolver(app.repo.Users(), codec).
		WithLogger(app.logger).
		WithActivitySink(activity).
		WithSessionTTL(cfg.SessionTTL)

	app.limiter = ratelimit.New(cfg.LoginRatePerSecond, cfg.LoginBurst)

	if cfg.FederatedEnabled() {
		v, err := federated.New(federated.Config{
			JWKSURL:      cfg.FederatedJWKSURL,
			SharedSecret: cfg.FederatedSharedSecret,
			KeyID:        cfg.FederatedKeyID,
			Issuer:       cfg.FederatedIssuer,
			Audience:     cfg.FederatedAudience,
			Provider:     cfg.FederatedProvider,
			Logger:       app.logger,
		})
		if err != nil {
			return err
		}
		app.federated = v
	}

	return nil
}

// WithHTTPServer mounts the gate and every controller.
func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.config
	cookies := sitegate.DefaultCookieOptions(cfg.GetSecureCookies())

	srv := fiber.New(fiber.Config{
		AppName:               "sitegate",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": sitegate.ErrorResponse{Message: fe.Message}})
			}
			app.logger.Error("unhandled request error", "path", c.Path(), "error", err)
			return sitegate.SendError(c, err)
		},
	})

	app.visits = gate.NewVisitQueue(app.repo.Visits(), gate.VisitQueueConfig{Logger: app.logger})

	gateCfg := gate.Config{
		FederatedCookie: cfg.FederatedCookie,
		Admin:           app.admin,
		Identities:      app.identities,
		Visits:          app.visits,
		Cookies:         cookies,
		Logger:          app.logger,
	}
	if app.federated != nil {
		gateCfg.Federated = app.federated
	}
	srv.Use(gate.New(gateCfg))

	sitegate.RegisterAuthRoutes(srv,
		sitegate.WithAdminTokenService(app.admin),
		sitegate.WithIdentityResolver(app.identities),
		sitegate.WithLoginLimiter(app.limiter),
		sitegate.WithControllerLogger(app.logger),
		sitegate.WithCookieOptions(cookies),
		sitegate.WithDebug(cfg.Debug),
	)

	ledger.RegisterRoutes(srv, app.ledger, app.bookmarks, ledger.WithControllerLogger(app.logger))

	srv.Get("/healthz", func(c *fiber.Ctx) error {
		if err := app.repo.DB().PingContext(c.UserContext()); err != nil {
			return sitegate.SendError(c, sitegate.Transient(err, "database unavailable"))
		}
		return c.JSON(fiber.Map{"status": "ok", "cache": app.cache.Stats()})
	}).Name("health")

	app.http = srv
	return nil
}

// RunWorkers runs the repair worker, the visit writer and, when refresh
// rotation is on, the revoked token purge until ctx is done.
func (app *App) RunWorkers(ctx context.Context) {
	go func() {
		if err := app.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("reconciler stopped", "error", err)
		}
	}()

	go func() {
		if err := app.visits.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("visit writer stopped", "error", err)
		}
	}()

	if !app.config.GetRotateRefreshTokens() {
		return
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := app.repo.Revocations().PurgeExpired(ctx)
				if err != nil {
					app.logger.Warn("revoked token purge failed", "error", err)
					continue
				}
				app.logger.Debug("revoked tokens purged", "count", n)
			}
		}
	}()
}

// Close releases resources in reverse order of creation.
func (app *App) Close() error {
	var errs []error

	if app.limiter != nil {
		app.limiter.Stop()
	}
	if app.federated != nil {
		app.federated.Close()
	}
	if app.cache != nil {
		errs = append(errs, app.cache.Close())
	}
	if app.repo != nil {
		errs = append(errs, app.repo.Close())
	}

	return errors.Join(errs...)
}
