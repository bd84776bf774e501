package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ConnectDB(cfg DBConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	var dbpool *pgxpool.Pool
	var err error

	maxRetries := 5
	delay := 2 * time.Second

	for i := 1; i <= maxRetries; i++ {
		log.Info("connecting to database", zap.Int("attempt", i), zap.Int("max_attempts", maxRetries))

		poolCfg, parseErr := pgxpool.ParseConfig(cfg.URL())
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse db config: %w", parseErr)
		}

		// tuning pool settings
		poolCfg.MaxConns = 20
		poolCfg.MinConns = 2
		poolCfg.MaxConnLifetime = time.Hour
		poolCfg.MaxConnIdleTime = 5 * time.Minute

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		dbpool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			pingErr := dbpool.Ping(ctx)
			if pingErr == nil {
				cancel()
				log.Info("connected to database", zap.String("host", cfg.Host), zap.String("db", cfg.Name))
				return dbpool, nil
			}
			dbpool.Close()
			err = fmt.Errorf("ping failed: %w", pingErr)
		}
		cancel()

		log.Warn("database connection failed", zap.Error(err))

		if i < maxRetries {
			log.Info("retrying database connection", zap.Duration("delay", delay))
			time.Sleep(delay)
			delay *= 2 // exponential backoff
		}
	}

	return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", maxRetries, err)
}

// OpenGorm opens the sqlite or postgres dialector selected by cfg.Driver.
func OpenGorm(cfg DBConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch cfg.Driver {
	case DriverSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection keeps transactions from colliding
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case DriverGormPostgres:
		db, err := gorm.Open(postgres.Open(cfg.URL()), gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("driver %q is not a gorm driver", cfg.Driver)
	}
}
