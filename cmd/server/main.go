package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/seat-inventory/internal/broadcast"
	"github.com/iliyamo/seat-inventory/internal/config"
	"github.com/iliyamo/seat-inventory/internal/database"
	"github.com/iliyamo/seat-inventory/internal/handler"
	"github.com/iliyamo/seat-inventory/internal/logging"
	"github.com/iliyamo/seat-inventory/internal/middleware"
	"github.com/iliyamo/seat-inventory/internal/queue"
	"github.com/iliyamo/seat-inventory/internal/repository"
	"github.com/iliyamo/seat-inventory/internal/router"
	"github.com/iliyamo/seat-inventory/internal/service"
)

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	_ = godotenv.Load() // a missing .env is fine
	cfg := config.MustLoad()
	log := logging.New(cfg.LogLevel, cfg.Env)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := map[string]handler.Pinger{}

	store, db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		ready["mysql"] = db
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
		ready["redis"] = redisPinger{rdb}
	} else {
		log.Warn("redis unavailable: availability cache, rate limiting and cross-instance relay disabled")
	}

	hub := broadcast.NewHub(broadcast.Options{
		BufferSize:  cfg.StreamBuffer,
		ReorderHold: cfg.StreamReorderHold,
		Log:         log.WithField("component", "hub"),
	})
	var events service.EventPublisher = hub
	var relay *broadcast.Relay
	if rdb != nil {
		relay = broadcast.NewRelay(rdb, hub, log.WithField("component", "relay"))
		events = relay
	}

	publisher := queue.NewPublisher(cfg.RabbitURL, log.WithField("component", "publisher"))
	payments := queue.NewPaymentCommands(publisher, cfg.PaymentRedirectBase)

	inv := service.NewInventory(store, repository.NewAvailabilityCache(rdb, cfg.AvailabilityCacheTTL), events, log.WithField("component", "inventory"))
	if cfg.SeedFile != "" {
		seats, err := service.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := inv.Seed(ctx, seats); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"file": cfg.SeedFile, "seats": len(seats)}).Info("seats seeded")
	}

	expiries := service.NewExpiryQueue()
	locks := service.NewLockManager(inv, expiries, service.LockConfig{
		TTL:               cfg.LockTTL,
		MaxSeatsPerHolder: cfg.MaxSeatsPerHolder,
	}, log.WithField("component", "locks"))
	bookings := service.NewBookingOrchestrator(inv, expiries, service.BookingConfig{
		PaymentTimeout: cfg.PaymentTimeout,
	}, publisher, payments, log.WithField("component", "bookings"))
	sweeper := service.NewSweeper(locks, bookings, expiries, service.SweeperConfig{
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
	}, log.WithField("component", "sweeper"))

	var waitStore repository.WaitlistStore = repository.NewMemoryWaitlist()
	if db != nil {
		waitStore = repository.NewWaitlistRepo(db)
	}
	waitlist := service.NewWaitlistService(inv, waitStore, queue.NewWaitlistNotifier(publisher), service.WaitlistConfig{
		MaxSeats: cfg.MaxSeatsPerHolder,
	}, log.WithField("component", "waitlist"))
	inv.OnCommit(waitlist)

	stream := handler.NewStreamHandler(hub, inv, cfg.StreamHeartbeat, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger(log))
	router.RegisterRoutes(e, handler.Ready(ready))
	router.RegisterAPI(e, router.Handlers{
		Seats:    handler.NewSeatHandler(inv, locks, hub),
		Bookings: handler.NewBookingHandler(bookings),
		Payments: handler.NewPaymentHandler(bookings),
		Admin:    handler.NewAdminHandler(inv),
		Waitlist: handler.NewWaitlistHandler(waitlist),
		Stream:   stream,
	}, cfg.JWTSecret, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.WithField("component", "ratelimit")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		c := &queue.Consumer{
			URL:     cfg.RabbitURL,
			Queue:   queue.BookingConfirmedQueue,
			Handler: queue.BookingLogHandler(cfg.BookingLogDir),
			Log:     log.WithField("component", "booking-consumer"),
		}
		return c.Run(gctx)
	})
	g.Go(func() error {
		c := &queue.Consumer{
			URL:     cfg.RabbitURL,
			Queue:   queue.PaymentResultsQueue,
			Handler: queue.PaymentResultHandler(bookings),
			Log:     log.WithField("component", "payment-consumer"),
		}
		return c.Run(gctx)
	})
	g.Go(func() error {
		dlqLog := log.WithField("component", "dlq-consumer")
		c := &queue.Consumer{
			URL:     cfg.RabbitURL,
			Queue:   queue.PaymentResultsDLQ,
			Handler: queue.DeadLetterHandler(dlqLog),
			Log:     dlqLog,
		}
		return c.Run(gctx)
	})

	addr := ":" + cfg.Port
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "store": cfg.StoreDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stream.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("shutdown complete")
	return err
}

// openStore selects the seat store.  The returned *sql.DB is nil for the
// memory driver.
func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (repository.Store, *sql.DB, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store: state is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return repository.NewMySQLStore(db), db, nil
}
