package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/entitlement"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/lock"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/middleware"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/router"
	"github.com/iliyamo/library-circulation/internal/scheduler"
	"github.com/iliyamo/library-circulation/internal/store"
	"github.com/iliyamo/library-circulation/internal/store/memory"
)

// devEntitlements is the plan every member gets with STORE_DRIVER=memory.
var devEntitlements = circulation.StaticEntitlements{PlanName: "dev", MaxBooksAllowed: 5, MaxDaysPerBook: 21}

func main() {
	cfg := config.Load() // Load environment config
	policy := config.LoadPolicy()
	if err := policy.Validate(); err != nil {
		log.Fatalf("invalid circulation policy: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, ents, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var locker lock.Locker = lock.NewLocal()
	rdb, err := config.LoadRedisConfig().Connect(ctx)
	if err != nil {
		logger.Warn("redis unavailable, using in-process locks and limiter", "err", err)
	} else {
		defer rdb.Close()
		locker = lock.NewRedis(rdb, "circulation:lock", policy.LockTTL)
	}
	ents = entitlement.NewCache(ents, rdb, config.LoadEntitlementCacheConfig(), logger.With("component", "entitlement"))

	var notifier circulation.Notifier = circulation.NopNotifier{}
	if cfg.QueueEnabled {
		pub := queue.NewPublisher(cfg.AMQPURL, logger.With("component", "publisher"))
		defer pub.Close()
		notifier = pub
	}

	engine, err := circulation.New(circulation.Deps{
		Store:        st,
		Locker:       locker,
		Entitlements: ents,
		Notifier:     notifier,
		Logger:       logger.With("component", "circulation"),
	}, policy)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer engine.Wait()

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	h := router.NewHandlers(engine)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	router.RegisterRoutes(e, h)
	router.RegisterMember(e, h, cfg.JWTSecret, limiter)
	router.RegisterLibrarian(e, h, cfg.JWTSecret, limiter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.New(logger.With("component", "scheduler"), scheduler.CirculationJobs(engine, policy)...).Run(gctx)
	})
	if cfg.QueueEnabled {
		startConsumers(gctx, g, cfg, engine, logger)
	}

	addr := ":" + cfg.Port // Address string with port
	g.Go(func() error {
		log.Printf("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.StoreDriver) // Print startup info
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("server stopped: %v", err)
	}
}

// openStore selects the backing store.  The MySQL store reads
// entitlements from the subscription tables; the memory store hands
// every member the dev plan.
func openStore(ctx context.Context, cfg config.Config) (store.Store, circulation.EntitlementProvider, func()) {
	if cfg.StoreDriver == "memory" {
		log.Printf("using in-memory store; data is lost on exit")
		return memory.New(), devEntitlements, func() {}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}
	return repository.NewStore(db), repository.NewSubscriptionRepo(db), func() { _ = db.Close() }
}

// startConsumers runs the payment consumer and the notification log
// consumers until ctx is done.
func startConsumers(ctx context.Context, g *errgroup.Group, cfg config.Config, engine *circulation.Engine, logger *slog.Logger) {
	notes := queue.NewNotificationLog(cfg.NotificationDir)
	consumers := []*queue.Consumer{
		{Queue: queue.PaymentConfirmedQueue, Handler: queue.PaymentHandler(engine, logger.With("component", "payments"))},
		{Queue: queue.ReservationAvailableQueue, Handler: notes.AvailableHandler()},
		{Queue: queue.LoanOverdueQueue, Handler: notes.OverdueHandler()},
	}
	for _, c := range consumers {
		c.URL = cfg.AMQPURL
		c.Prefetch = 10
		c.Log = logger.With("component", "consumer", "queue", c.Queue)
		g.Go(func() error { return c.Run(ctx) })
	}
}
