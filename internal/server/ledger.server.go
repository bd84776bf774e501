package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/customfield"
	hrest "ledger-service/internal/handler/rest"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/utils"

	"go.uber.org/zap"
)

// LedgerServer owns every long-lived resource of the service.
type LedgerServer struct {
	cfg       config.AppConfig
	log       *zap.Logger
	http      *http.Server
	store     repository.Store
	cache     *cache.Cache
	publisher pub.Publisher
}

// NewLedgerServer wires store, cache, publishers, usecases and the REST handler, and seeds
// accounts and reservations.
func NewLedgerServer(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (*LedgerServer, error) {
	// --- Store ---
	store, reservations, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	// --- Redis cache + events ---
	var addrs []string
	if cfg.RedisAddr != "" {
		addrs = strings.Split(cfg.RedisAddr, ",")
	}
	c := cache.NewCache(addrs, cfg.RedisPass, len(addrs) > 1)

	var sinks pub.MultiPublisher
	if c != nil {
		sinks = append(sinks, pub.NewRedisPublisher(c.Client(), cfg.EventsChannel))
		log.Info("redis cache and event channel enabled", zap.Strings("addrs", addrs), zap.String("channel", cfg.EventsChannel))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, pub.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.Named("kafka")))
		log.Info("kafka event stream enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	var publisher pub.Publisher = pub.NopPublisher{}
	if len(sinks) > 0 {
		publisher = sinks
	}

	// --- Usecases ---
	ids := utils.NewIDGenerator()
	accountUC := usecase.NewAccountUsecase(store, c, ids, log.Named("account"), usecase.WithLimits(cfg.Limits))
	txUC := usecase.NewTransactionUsecase(store, reservations, cfg.Limits, ids, publisher, c, log.Named("transaction"))
	ledgerUC := usecase.NewLedgerUsecase(store, service.NewBalanceReconciler(cfg.ReconcileMode), publisher, log.Named("ledger"))
	settlementUC := usecase.NewSettlementUsecase(store, reservations, service.NewSettlementCalculator(), c, log.Named("settlement"))

	// --- Seed ---
	if cfg.SeedAccounts != "" {
		if _, err := service.NewAccountSeeder(accountUC, log.Named("seeder")).Seed(ctx, cfg.SeedAccounts); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed accounts: %w", err)
		}
	}
	if cfg.SeedReservations != "" {
		if _, err := service.NewReservationSeeder(settlementUC, log.Named("seeder")).Seed(ctx, cfg.SeedReservations); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed reservations: %w", err)
		}
	}

	// --- Handler ---
	handler := hrest.NewLedgerRestHandler(accountUC, txUC, ledgerUC, settlementUC, customfield.NewStore(customfield.DefaultSchema()))

	return &LedgerServer{
		cfg: cfg,
		log: log,
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		store:     store,
		cache:     c,
		publisher: publisher,
	}, nil
}

func openStore(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (repository.Store, repository.ReservationDirectory, error) {
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		pool, err := config.ConnectDB(cfg.DB, log)
		if err != nil {
			return nil, nil, err
		}
		store := repository.NewPgStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("using postgres store", zap.String("host", cfg.DB.Host), zap.String("db", cfg.DB.Name))
		return store, store, nil

	case config.DriverSQLite, config.DriverGormPostgres:
		db, err := config.OpenGorm(cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewGormStore(db)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using gorm store", zap.String("driver", cfg.DB.Driver))
		return store, store, nil

	default:
		log.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), repository.NewMemoryReservations(), nil
	}
}

// Handler exposes the routed REST surface
func (s *LedgerServer) Handler() http.Handler {
	return s.http.Handler
}

// Run serves HTTP until ctx is cancelled or the listener fails.
func (s *LedgerServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ledger REST service running", zap.String("addr", s.cfg.HTTPAddr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Shutdown drains HTTP, then closes publishers, cache and store.
func (s *LedgerServer) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher close: %w", err))
	}
	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}
