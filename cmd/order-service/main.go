package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vasiliy-maslov/storefront/internal/cart"
	"github.com/vasiliy-maslov/storefront/internal/checkout"
	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/coupon"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/document"
	httphandler "github.com/vasiliy-maslov/storefront/internal/handler/http"
	"github.com/vasiliy-maslov/storefront/internal/idempotency"
	"github.com/vasiliy-maslov/storefront/internal/metrics"
	"github.com/vasiliy-maslov/storefront/internal/notify"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/payment"
	"github.com/vasiliy-maslov/storefront/internal/returns"
	"github.com/vasiliy-maslov/storefront/internal/stock"
	"github.com/vasiliy-maslov/storefront/internal/tracing"
	"github.com/vasiliy-maslov/storefront/internal/transport"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

func setupLogger(cfg config.LogConfig, service string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", service).Logger()
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.Log, cfg.App.Name)
	log.Info().Str("env", cfg.App.Env).Msg("Order service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTel, cfg.App.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var (
		keys   httphandler.IdempotencyStore
		events payment.EventLog
	)
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable at startup, idempotency keys degrade until it recovers")
		}
		store := idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL)
		keys, events = store, store
	} else {
		log.Warn().Msg("Redis not configured, Idempotency-Key headers and webhook dedupe are disabled")
	}

	// Repositories
	stockRepo := stock.NewRepository(pg)
	orderRepo := order.NewRepository(pg)
	couponRepo := coupon.NewRepository(pg)
	cartRepo := cart.NewRepository(pg)
	userRepo := user.NewRepository(pg)
	returnRepo := returns.NewRepository(pg)
	outboxStore := outbox.NewStore(pg)

	// Services
	ledger := stock.NewLedger(stockRepo, stock.WithMetrics(m))
	notifier := notify.NewOutboxNotifier(outboxStore, cfg.Shop.OperatorEmail)
	docs := document.NewClient(cfg.Documents.BaseURL, cfg.Documents.Timeout)
	gateway := payment.NewStripeGateway(cfg.Stripe)

	userSvc := user.NewService(userRepo)
	couponSvc := coupon.NewService(couponRepo, pg)
	cartSvc := cart.NewService(cartRepo, ledger)
	orderSvc := order.NewService(orderRepo, pg, ledger, notifier, userSvc, docs)
	checkoutSvc := checkout.NewService(ledger, couponSvc, orderRepo, orderSvc, pg, gateway, checkout.Config{
		Pricing: checkout.Pricing{
			ShippingFee:           cfg.Shop.ShippingFee,
			FreeShippingThreshold: cfg.Shop.FreeShippingThreshold,
			FreeShippingCode:      cfg.Shop.FreeShippingCode,
		},
		HoldTTL:    cfg.Shop.HoldTTL,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	})
	paymentSvc := payment.NewService(payment.Deps{
		Orders:   orderRepo,
		Tx:       pg,
		Gateway:  gateway,
		Ledger:   ledger,
		Coupons:  couponSvc,
		Carts:    cartSvc,
		Notifier: notifier,
		Events:   events,
		Metrics:  m,
	})
	returnSvc := returns.NewService(returnRepo, orderRepo, pg, ledger, gateway, notifier, docs, cfg.Shop.ReturnWindowDays)

	router := transport.NewRouter(m, registry,
		httphandler.NewCartHandler(cartSvc),
		httphandler.NewCouponHandler(couponSvc),
		httphandler.NewCheckoutHandler(checkoutSvc, keys),
		httphandler.NewPaymentHandler(paymentSvc),
		httphandler.NewOrderHandler(orderSvc),
		httphandler.NewReturnHandler(returnSvc),
		httphandler.NewUserHandler(userSvc),
	)

	srv := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: otelhttp.NewHandler(router, cfg.App.Name, otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && !strings.HasPrefix(r.URL.Path, "/metrics")
		})),
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return shutdownTracing(shutdownCtx)
	})

	g.Go(func() error {
		return stock.RunSweeper(gctx, ledger, cfg.Shop.SweepInterval)
	})

	if cfg.Kafka.Enabled() {
		writer := outbox.NewWriter(cfg.Kafka.Brokers)
		defer func() {
			if err := writer.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close kafka writer")
			}
		}()

		relay := outbox.NewRelay(outboxStore, pg, outbox.NewKafkaDispatcher(writer, cfg.Kafka.NotificationsTopic), m,
			cfg.Shop.OutboxBatchSize, cfg.Shop.OutboxInterval)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	} else {
		log.Warn().Msg("Kafka not configured, notifications stay queued in the outbox")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Order service stopped with error")
		return
	}
	log.Info().Msg("Order service stopped gracefully")
}
