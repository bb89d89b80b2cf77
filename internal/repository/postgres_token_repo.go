package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresTokenRepo はclient_stateテーブルの1行にトークンを保存するリポジトリ。
type PostgresTokenRepo struct {
	db   *sql.DB
	slot string
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB, slot string) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db, slot: slot}
}

// Load はスロットの値を返す。行が存在しない場合は空文字を返す。
func (r *PostgresTokenRepo) Load(ctx context.Context) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE slot = $1`,
		r.slot,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return value, nil
}

// Save はスロットの値をUPSERTする。
func (r *PostgresTokenRepo) Save(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO client_state (slot, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (slot) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		r.slot, token,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Delete はスロットの行を削除する。
func (r *PostgresTokenRepo) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE slot = $1`,
		r.slot,
	)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
