package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	appInventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	appOrder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/reconciliation"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	obsinfra "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/postgres"
	cartredis "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/redis"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/stockclient"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/stripepay"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// orderStore is what the recorder and the autofill need from the order backend.
type orderStore interface {
	domorder.Repository
	appcheckout.CustomerDirectory
}

type stockService interface {
	dominv.StockChecker
	dominv.StockDecrementer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config_load_failed", zap.Error(err))
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.Log.Service,
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.System(baseLogger)

	oteltrace.InstallPropagator()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	logger := zaplogger.Wrap(baseLogger)
	tel := obsinfra.NewPrometheus(oteltrace.New(cfg.Log.Service), logger, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// In-process event bus; reconciliation events are forwarded to Kafka when configured.
	bus := outbox.NewBus(logger, tel, outbox.Options{})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	orders, closeOrders := mustOrderStore(ctx, cfg.Store, systemLogger)
	defer closeOrders()
	stock := mustStockService(cfg.Inventory, logger, systemLogger)
	carts, closeCarts := mustCartProvider(ctx, cfg.Redis, logger, systemLogger)
	defer closeCarts()
	widget, links, cancels := mustWidget(cfg.Gateway, logger, systemLogger)

	var sink domoutbox.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, tel)
		if err != nil {
			systemLogger.Fatal("kafka_init_failed", zap.Error(err))
		}
		defer func() { _ = publisher.Close() }()
		sink = publisher
	}
	reconciliation.New(workerpresentation.NewSubscriber(bus, logger), sink, tel, logger).Start()

	fees, err := pricing.NewFeeTable(cfg.Checkout.DeliveryFees, cfg.Checkout.DefaultDeliveryFee)
	if err != nil {
		systemLogger.Fatal("delivery_fees_invalid", zap.Error(err))
	}
	ids := id.NewUUIDGenerator()
	// Gateway transaction tags look like mshop_<uuid>.
	tags := id.PrefixedGenerator{Prefix: "mshop_"}

	checkoutService, err := appcheckout.NewService(appcheckout.ServiceConfig{
		Deps: appcheckout.Deps{
			Pricer: pricing.NewCalculator(fees),
			Stock:  appInventory.NewValidateStockUseCase(stock, tel),
			Gateway: appPayment.NewGatewayAdapter(widget, appPayment.GatewayConfig{
				PublicKey:       cfg.Gateway.PublicKey,
				Currency:        cfg.Gateway.Currency,
				MinorUnitFactor: cfg.Gateway.MinorUnitFactor,
			}, tags, tel),
			Recorder: appOrder.NewRecordOrderUseCase(orders, ids, bus, nil, tel),
			Adjuster: appInventory.NewAdjustInventoryUseCase(stock, bus, tel, appInventory.AdjustOptions{
				Concurrency: cfg.Checkout.AdjustConcurrency,
			}),
			IDs: ids,
		},
		Carts:            carts,
		Directory:        orders,
		AutofillDebounce: cfg.Checkout.AutofillDebounce,
		CompletedTTL:     cfg.Checkout.CompletedTTL,
		IdleTTL:          cfg.Checkout.IdleTTL,
	}, tel)
	if err != nil {
		systemLogger.Fatal("checkout_init_failed", zap.Error(err))
	}
	defer checkoutService.Close()

	handler := httppresentation.NewHandler(httppresentation.Config{
		Checkout: checkoutService,
		Carts:    carts,
		Links:    links,
		Cancels:  cancels,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, logger, tel)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Backend),
			zap.String("inventory", cfg.Inventory.Backend),
			zap.String("gateway", cfg.Gateway.Provider),
			zap.Int64("default_delivery_fee", fees.Default()),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

func mustOrderStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (orderStore, func()) {
	if cfg.Backend != config.BackendPostgres {
		return memory.NewOrderRepository(), func() {}
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := postgres.Open(openCtx, cfg.DSN, postgres.PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("database_open_failed", zap.Error(err))
	}
	if err := postgres.Migrate(db); err != nil {
		log.Fatal("database_migrate_failed", zap.Error(err))
	}
	return postgres.NewOrderRepository(db), func() { _ = db.Close() }
}

func mustStockService(cfg config.InventoryConfig, logger observability.Logger, log *zap.Logger) stockService {
	if cfg.Backend == config.BackendHTTP {
		client, err := stockclient.New(stockclient.Config{
			BaseURL:          cfg.BaseURL,
			Timeout:          cfg.Timeout,
			FailureThreshold: uint32(max(cfg.FailureThreshold, 0)),
			OpenTimeout:      cfg.OpenTimeout,
		}, logger)
		if err != nil {
			log.Fatal("stock_client_init_failed", zap.Error(err))
		}
		return client
	}
	repo := memory.NewInventoryRepository()
	for item, qty := range cfg.Seed {
		if err := repo.Seed(item, qty); err != nil {
			log.Fatal("inventory_seed_invalid", zap.String("item_id", item), zap.Error(err))
		}
	}
	return repo
}

func mustCartProvider(ctx context.Context, cfg config.RedisConfig, logger observability.Logger, log *zap.Logger) (appcheckout.CartProvider, func()) {
	if cfg.Addr == "" {
		store := memory.NewCartStore()
		return appcheckout.CartProviderFunc(func(sessionID string) domcheckout.CartStore {
			return store.For(sessionID)
		}), func() {}
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatal("redis_ping_failed", zap.Error(err))
	}
	return cartredis.NewCartStore(client, cfg.CartTTL, logger), func() { _ = client.Close() }
}

func mustWidget(cfg config.GatewayConfig, logger observability.Logger, log *zap.Logger) (dompay.Widget, httppresentation.PaymentLinks, dompay.Canceller) {
	if cfg.Provider != config.GatewayStripe {
		widget := memory.NewWidget(500 * time.Millisecond)
		return widget, nil, widget
	}
	widget, err := stripepay.NewWidget(stripepay.Config{
		SecretKey:      cfg.SecretKey,
		SuccessURL:     cfg.SuccessURL,
		CancelURL:      cfg.CancelURL,
		PollInterval:   cfg.PollInterval,
		PendingTimeout: cfg.PendingTimeout,
	}, logger)
	if err != nil {
		log.Fatal("stripe_init_failed", zap.Error(err))
	}
	return widget, widget, widget
}
