package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ReliableExec acquires a connection from pool and runs f, retrying with
// exponential backoff until f succeeds, returns a PermError, or maxRuntime
// elapses.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, maxRuntime time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	return retry(ctx, maxRuntime, func() error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("error in pool.Acquire: %w", err)
		}
		defer conn.Release()
		return f(ctx, conn)
	})
}

// ReliableExecInTx is ReliableExec with f run inside a CRDB transaction.
// crdbpgx.ExecuteTx handles serialization restarts within one attempt.
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, maxRuntime time.Duration, f func(ctx context.Context, tx pgx.Tx) error) error {
	return retry(ctx, maxRuntime, func() error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("error in pool.Acquire: %w", err)
		}
		defer conn.Release()
		return crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return f(ctx, tx)
		})
	})
}

func retry(ctx context.Context, maxRuntime time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond * 50
	b.MaxInterval = time.Second * 2
	b.MaxElapsedTime = maxRuntime

	return backoff.Retry(func() error {
		err := op()
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
