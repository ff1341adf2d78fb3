package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Beginner é satisfeito por *pgxpool.Pool e por pgx.Tx (savepoint).
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executa fn dentro de uma transação explícita; erro em fn desfaz tudo.
func WithTx(ctx context.Context, b Beginner, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := b.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	// Rollback após Commit devolve ErrTxClosed e é ignorado.
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
