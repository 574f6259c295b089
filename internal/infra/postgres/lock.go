package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepoLock は同一リポジトリへのインデックス実行を直列化する
// セッションスコープのPostgreSQLアドバイザリロックです
// ロックはコネクションに紐づくため、解放まで専用のコネクションを
// 保持します
type RepoLock struct {
	pool   *pgxpool.Pool
	lockID int64
	conn   *pgxpool.Conn
}

// NewRepoLock はリポジトリIDからロックを生成します
func NewRepoLock(pool *pgxpool.Pool, repoID uuid.UUID) *RepoLock {
	return &RepoLock{pool: pool, lockID: lockID("index", repoID.String())}
}

// TryAcquire はロックの取得を試みます
// 他のプロセスが同じリポジトリをインデックス中の場合はfalseを返します
func (l *RepoLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release はロックを解放し、保持していたコネクションを返却します
// 未取得の場合は何もしません
func (l *RepoLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}

	_, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Release()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	return nil
}

// lockID は文字列群からロックIDを生成します
// ハッシュの先頭8バイトをint64として使います
func lockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	hash := h.Sum(nil)

	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}
	return id
}
