// Package database opens the connection pools behind the stores. Handles
// are returned to the caller; nothing here is process-global.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
	pingTimeout     = 5 * time.Second
)

func connectBackoffPolicy() retry.Backoff {
	return retry.WithMaxRetries(connectAttempts-1, retry.NewExponential(connectBackoff))
}

// pingWithRetry pings until the server answers or the attempts run out.
func pingWithRetry(ctx context.Context, log logrus.FieldLogger, what string, b retry.Backoff, ping func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := ping(pctx); err != nil {
			log.WithFields(logrus.Fields{"store": what, "attempt": attempt, "error": err}).Warn("store not reachable yet")
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Connect opens a MySQL pool. parseTime is forced on and times are read as UTC.
func Connect(ctx context.Context, dsn string, log logrus.FieldLogger) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DB_DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := pingWithRetry(ctx, log, "mysql", connectBackoffPolicy(), db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}

	log.WithField("addr", cfg.Addr).Info("mysql connected")
	return db, nil
}

// ConnectMongo opens a MongoDB client and waits for the primary to answer.
func ConnectMongo(ctx context.Context, uri string, log logrus.FieldLogger) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	ping := func(ctx context.Context) error { return client.Ping(ctx, nil) }
	if err := pingWithRetry(ctx, log, "mongo", connectBackoffPolicy(), ping); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	log.Info("mongo connected")
	return client, nil
}

// RunMigrations applies every *.sql file in dir in lexical order. A missing
// directory is not an error.
func RunMigrations(ctx context.Context, db *sql.DB, migrationsDir string, log logrus.FieldLogger) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	// ensure files run in order: 001 -> 002 -> 003
	sort.Strings(files)

	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if err := execMigration(ctx, db, string(b)); err != nil {
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		log.WithField("file", file).Info("migration applied")
	}
	return nil
}

func execMigration(ctx context.Context, db *sql.DB, stmt string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, stmt)
	return err
}
