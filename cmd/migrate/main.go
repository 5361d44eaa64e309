// cmd/migrate prepares the configured credential store.
//
// For store.driver=mongo it creates the unique indexes on the users
// collection. For store.driver=postgres it applies every *.up.sql file in
// migrations/, tracked in a schema_migrations table with the same layout as
// golang-migrate (bigint version + dirty flag) so the two tools are
// interchangeable.
//
// Usage:
//
//	go run ./cmd/migrate
//	STORE_DRIVER=postgres DATABASE_URL=postgres://... go run ./cmd/migrate
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animora/animora/internal/config"
	"github.com/animora/animora/internal/database"
	"github.com/animora/animora/internal/users"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsDir = "migrations"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreMongo:
		return migrateMongo(ctx, cfg)
	case config.StorePostgres:
		return migratePostgres(ctx, cfg.DatabaseURL)
	default:
		fmt.Printf("store.driver=%s needs no migration\n", cfg.StoreDriver)
		return nil
	}
}

func migrateMongo(ctx context.Context, cfg *config.Config) error {
	client, err := database.ConnectMongo(ctx, cfg.Mongo.URL, database.RetryConfig{
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
		Attempts:       cfg.Mongo.RetryAttempts,
		Interval:       cfg.Mongo.RetryInterval,
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background()) //nolint:errcheck
	fmt.Printf("connected to mongo database %q\n", cfg.Mongo.Database)

	store := users.NewMongoStore(client.Database(cfg.Mongo.Database))
	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	fmt.Printf("indexes ensured on %s\n", users.CollectionName)
	return nil
}

func migratePostgres(ctx context.Context, dbURL string) error {
	db, err := database.ConnectPostgres(ctx, dbURL, database.RetryConfig{})
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Println("connected to postgres")

	// Ensure tracking table exists, same schema as golang-migrate.
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version bigint NOT NULL,
			dirty   boolean NOT NULL,
			PRIMARY KEY (version)
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := upMigrations(migrationsDir)
	if err != nil {
		return err
	}

	applied := 0
	for _, f := range files {
		ok, err := applyMigration(ctx, db, f)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("  apply %s\n", f)
			applied++
		} else {
			fmt.Printf("  skip  %s (already applied)\n", f)
		}
	}

	if applied == 0 {
		fmt.Println("nothing to migrate, already up to date")
	} else {
		fmt.Printf("applied %d migration(s)\n", applied)
	}
	return nil
}

// upMigrations lists the *.up.sql files in dir in version order.
func upMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func applyMigration(ctx context.Context, db *pgxpool.Pool, f string) (bool, error) {
	ver, err := versionFromFile(f)
	if err != nil {
		return false, fmt.Errorf("parse version from %s: %w", f, err)
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1 AND dirty = false)`,
		ver,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s: %w", f, err)
	}
	if exists {
		return false, nil
	}

	sql, err := os.ReadFile(filepath.Join(migrationsDir, f))
	if err != nil {
		return false, fmt.Errorf("read %s: %w", f, err)
	}

	// Mark dirty before applying so a crash is visible.
	if _, err := db.Exec(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES ($1, true)
		 ON CONFLICT (version) DO UPDATE SET dirty = true`, ver,
	); err != nil {
		return false, fmt.Errorf("mark dirty %s: %w", f, err)
	}
	if _, err := db.Exec(ctx, string(sql)); err != nil {
		return false, fmt.Errorf("apply %s: %w", f, err)
	}
	if _, err := db.Exec(ctx,
		`UPDATE schema_migrations SET dirty = false WHERE version = $1`, ver,
	); err != nil {
		return false, fmt.Errorf("mark clean %s: %w", f, err)
	}
	return true, nil
}

// versionFromFile extracts the leading integer from a migration filename.
// "001_users.up.sql" → 1
func versionFromFile(filename string) (int64, error) {
	prefix, _, found := strings.Cut(filename, "_")
	if !found {
		return 0, fmt.Errorf("unexpected filename format")
	}
	return strconv.ParseInt(prefix, 10, 64)
}
