// Package app builds the dependency graph shared by the server and the
// admin CLI.
package app

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/config"
	"github.com/iliyamo/runclub-portal/internal/handler"
	"github.com/iliyamo/runclub-portal/internal/lock"
	"github.com/iliyamo/runclub-portal/internal/mailer"
	"github.com/iliyamo/runclub-portal/internal/middleware"
	"github.com/iliyamo/runclub-portal/internal/payment"
	"github.com/iliyamo/runclub-portal/internal/queue"
	"github.com/iliyamo/runclub-portal/internal/repository"
	"github.com/iliyamo/runclub-portal/internal/router"
	"github.com/iliyamo/runclub-portal/internal/service"
	"github.com/iliyamo/runclub-portal/internal/strava"
)

// registration locks only need to outlive one checkout creation
const lockTTL = 15 * time.Second

// Repos holds every Postgres repository.
type Repos struct {
	Events   *repository.EventRepo
	Members  *repository.MemberRepo
	Admins   *repository.AdminRepo
	Tokens   *repository.TokenRepo
	Bookings *repository.BookingStore
	Coupons  *repository.CouponRepo
	Reviews  *repository.ReviewRepo
	Webhooks *repository.WebhookRepo
	Outbox   *repository.OutboxRepo
	Strava   *repository.StravaRepo
}

func NewRepos(db *sqlx.DB) Repos {
	return Repos{
		Events:   repository.NewEventRepo(db),
		Members:  repository.NewMemberRepo(db),
		Admins:   repository.NewAdminRepo(db),
		Tokens:   repository.NewTokenRepo(db),
		Bookings: repository.NewBookingStore(db),
		Coupons:  repository.NewCouponRepo(db),
		Reviews:  repository.NewReviewRepo(db),
		Webhooks: repository.NewWebhookRepo(db),
		Outbox:   repository.NewOutboxRepo(db),
		Strava:   repository.NewStravaRepo(db),
	}
}

// Services holds the business layer.
type Services struct {
	Coupons       *service.CouponService
	Registrations *service.RegistrationService
	Webhooks      *service.WebhookService
	Reconcile     *service.ReconcileService
	Reviews       *service.ReviewService
	Leaderboard   *service.LeaderboardService
	Sweeper       *service.HoldSweeper
}

// App is the wired application.  Redis may be nil; rate limiting, the
// response cache and registration locks then turn into no-ops.
type App struct {
	Cfg      config.Config
	DB       *sqlx.DB
	Redis    *redis.Client
	Log      *zerolog.Logger
	Repos    Repos
	Services Services
	Gateway  payment.Gateway
}

// New wires repositories and services.  It does not touch the network.
func New(cfg config.Config, db *sqlx.DB, rdb *redis.Client, log *zerolog.Logger) *App {
	repos := NewRepos(db)
	gw := payment.NewStripe(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.CheckoutSuccessURL,
		CancelURL:     cfg.CheckoutCancelURL,
	}, log)

	coupons := service.NewCouponService(repos.Coupons)
	var stravaAPI service.StravaAPI
	if cfg.StravaEnabled() {
		stravaAPI = strava.New(cfg.StravaClientID, cfg.StravaClientSecret, cfg.StravaRedirectURL)
	}
	svc := Services{
		Coupons: coupons,
		Registrations: service.NewRegistrationService(repos.Events, repos.Members, repos.Bookings, coupons, gw,
			lock.New(rdb, "rc:lock", lockTTL), service.RegistrationConfig{
				Currency:        cfg.Currency,
				MinPaymentCents: cfg.MinPaymentCents,
				Hold:            cfg.CheckoutHold,
			}, log),
		Webhooks:    service.NewWebhookService(gw, repos.Bookings, repos.Webhooks, log),
		Reconcile:   service.NewReconcileService(repos.Events, repos.Members, repos.Bookings, gw, log),
		Reviews:     service.NewReviewService(repos.Events, repos.Bookings, repos.Reviews),
		Leaderboard: service.NewLeaderboardService(stravaAPI, repos.Strava, cfg.JWTSecret, log),
		Sweeper:     service.NewHoldSweeper(repos.Bookings, cfg.SweepInterval, log),
	}
	return &App{Cfg: cfg, DB: db, Redis: rdb, Log: log, Repos: repos, Services: svc, Gateway: gw}
}

// HTTP builds the echo server with every route mounted.
func (a *App) HTTP() *echo.Echo {
	r, s, cfg := a.Repos, a.Services, a.Cfg
	cacheCfg := config.LoadCacheConfig()

	admin := handler.NewAdminHandler(r.Events, r.Members, r.Reviews, r.Coupons, r.Bookings, s.Reconcile, a.Log)
	admin.Currency = cfg.Currency
	admin.Purge = func(ctx context.Context) error {
		return middleware.PurgeCache(ctx, a.Redis, cacheCfg.Prefix)
	}

	opts := router.Options{
		JWTSecret: cfg.JWTSecret,
		Admins:    r.Admins,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), a.Redis, a.Log),
		Cache:     middleware.NewRedisCache(cacheCfg, a.Redis, a.Log),
	}
	if a.DB != nil {
		opts.DB = a.DB
	}

	e := router.New(a.Log, cfg.CORSOrigins)
	router.Register(e, router.Handlers{
		Auth:          handler.NewAuthHandler(cfg, r.Members, r.Tokens),
		Events:        handler.NewEventHandler(r.Events, r.Reviews),
		Registrations: handler.NewRegistrationHandler(s.Registrations, cfg.StripePublishableKey),
		Me:            handler.NewMeHandler(r.Members, r.Bookings, r.Admins),
		Coupons:       handler.NewCouponHandler(r.Events, s.Coupons),
		Reviews:       handler.NewReviewHandler(s.Reviews),
		Webhook:       handler.NewWebhookHandler(s.Webhooks),
		Strava:        handler.NewStravaHandler(s.Leaderboard),
		Admin:         admin,
	}, opts)
	return e
}

// Workers are the background loops of the server.
type Workers struct {
	Relay     *service.OutboxRelay
	Consumer  *queue.Consumer
	Publisher *queue.Publisher
	Sweeper   *service.HoldSweeper
}

// Workers builds the outbox relay, the mail consumer and the hold sweeper.
func (a *App) Workers() *Workers {
	pub := queue.NewPublisher(a.Cfg.RabbitURL, a.Log)
	notifier := service.NewNotifier(mailer.New(a.Cfg.MailerSendAPIKey, a.Cfg.MailFromEmail, a.Cfg.MailFromName, a.Log), a.Log)
	return &Workers{
		Relay:     service.NewOutboxRelay(a.Repos.Outbox, pub, a.Cfg.OutboxInterval, a.Log),
		Consumer:  queue.NewConsumer(a.Cfg.RabbitURL, notifier.Handle, a.Log),
		Publisher: pub,
		Sweeper:   a.Services.Sweeper,
	}
}
