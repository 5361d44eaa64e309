// Package database opens connections to the credential store and Redis,
// retrying while the dependency comes up.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	ErrMongoNotReady                = errors.New("failed to connect to mongo")
	ErrPostgresNotReady             = errors.New("failed to connect to postgres")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
)

// RetryConfig controls connection attempts.
type RetryConfig struct {
	ConnectTimeout time.Duration
	Attempts       int
	Interval       time.Duration
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.ConnectTimeout <= 0 {
		r.ConnectTimeout = 10 * time.Second
	}
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.Interval <= 0 {
		r.Interval = 2 * time.Second
	}
	return r
}

// ConnectMongo connects to MongoDB and pings it, retrying on failure.
func ConnectMongo(ctx context.Context, url string, rc RetryConfig) (*mongo.Client, error) {
	rc = rc.withDefaults()
	var lastErr error
	for range rc.Attempts {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(url).
				SetConnectTimeout(rc.ConnectTimeout).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, rc.ConnectTimeout)
			err = client.Ping(pctx, nil)
			cancel()
			if err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}
		lastErr = err

		if !sleep(ctx, rc.Interval) {
			return nil, errors.Join(ErrMongoNotReady, ctx.Err())
		}
	}
	return nil, errors.Join(ErrMongoNotReady, lastErr)
}

// ConnectPostgres opens a pgx pool and pings it, retrying on failure.
func ConnectPostgres(ctx context.Context, url string, rc RetryConfig) (*pgxpool.Pool, error) {
	rc = rc.withDefaults()
	var lastErr error
	for range rc.Attempts {
		pool, err := pgxpool.New(ctx, url)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, rc.ConnectTimeout)
			err = pool.Ping(pctx)
			cancel()
			if err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err

		if !sleep(ctx, rc.Interval) {
			return nil, errors.Join(ErrPostgresNotReady, ctx.Err())
		}
	}
	return nil, errors.Join(ErrPostgresNotReady, lastErr)
}

// ConnectRedis parses url and pings the server, retrying on failure.
func ConnectRedis(ctx context.Context, url string, rc RetryConfig) (*redis.Client, error) {
	rc = rc.withDefaults()
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	var lastErr error
	for range rc.Attempts {
		client := redis.NewClient(opt)
		pctx, cancel := context.WithTimeout(ctx, rc.ConnectTimeout)
		err := client.Ping(pctx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		_ = client.Close()
		lastErr = err

		if !sleep(ctx, rc.Interval) {
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// MongoHealthcheck returns a probe that pings client.
func MongoHealthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}
}

// RedisHealthcheck returns a probe that pings client.
func RedisHealthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// PostgresHealthcheck returns a probe that pings pool.
func PostgresHealthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}

// sleep waits d or until ctx is done, reporting false in the latter case.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
