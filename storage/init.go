package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"atelier/util"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

var (
	Pool       *pgxpool.Pool
	initOnce   sync.Once
	connString string // kept for reconnection
)

// InitDB initializes the database connection pool and creates the schema
func InitDB(connStr string) error {
	var err error
	connString = connStr

	initOnce.Do(func() {
		LoadQueries()
		util.LogInfo("Initializing PostgreSQL database connection...")

		var config *pgxpool.Config
		config, err = pgxpool.ParseConfig(connStr)
		if err != nil {
			err = fmt.Errorf("unable to parse postgres connection string: %w", err)
			return
		}

		Pool, err = pgxpool.NewWithConfig(context.Background(), config)
		if err != nil {
			err = fmt.Errorf("failed to create connection pool: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err = Pool.Ping(ctx); err != nil {
			err = fmt.Errorf("failed to ping database: %w", err)
			return
		}

		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err = InitializeTables(ctx)
		if err != nil {
			err = fmt.Errorf("failed to initialize tables: %w", err)
			return
		}

		util.LogInfo("Successfully connected to PostgreSQL")
	})
	return err
}

// EnsureDBConnection checks the database connection and reconnects if needed
func EnsureDBConnection(ctx context.Context) error {
	if Pool == nil {
		util.LogInfo("Connection pool is nil, initializing database")
		if connString == "" {
			return errors.New("connection string is empty, cannot reconnect")
		}
		return InitDB(connString)
	}

	if err := Pool.Ping(ctx); err != nil {
		util.LogWarning("Database connection lost, attempting to reconnect", logrus.Fields{"error": err})
		Pool.Close()
		if connString == "" {
			return errors.New("connection string is empty, cannot reconnect")
		}
		initOnce = sync.Once{}
		return InitDB(connString)
	}

	return nil
}

// InitializeTables creates all necessary database tables
func InitializeTables(ctx context.Context) error {
	_, err := Pool.Exec(ctx, GetQuery("init.create_extensions"))
	if err != nil {
		util.LogWarning("Warning: failed to create extensions", logrus.Fields{"error": err})
	}

	_, err = Pool.Exec(ctx, GetQuery("prediction.create_predictions_table"))
	if err != nil {
		return fmt.Errorf("failed to create predictions table: %w", err)
	}

	_, err = Pool.Exec(ctx, GetQuery("prediction.create_predictions_indexes"))
	if err != nil {
		return fmt.Errorf("failed to create predictions indexes: %w", err)
	}

	_, err = Pool.Exec(ctx, GetQuery("images.create_images_table"))
	if err != nil {
		return fmt.Errorf("failed to create images table: %w", err)
	}

	return nil
}

// CloseDB closes the pool, used on shutdown and in tests
func CloseDB() {
	if Pool != nil {
		Pool.Close()
		Pool = nil
	}
}
