package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/dev-trace/internal/core/indexing"
)

// IndexRepository はindexing.RepositoryのPostgreSQL実装です
type IndexRepository struct {
	pool *pgxpool.Pool
}

// NewIndexRepository はIndexRepositoryを初期化します
func NewIndexRepository(pool *pgxpool.Pool) *IndexRepository {
	return &IndexRepository{pool: pool}
}

// GetFileRecord はファイルレコードを取得します
func (r *IndexRepository) GetFileRecord(ctx context.Context, repoID uuid.UUID, pathHash string) (mo.Option[*indexing.FileRecord], error) {
	query := `
		SELECT repo_id, path_hash, path, content_hash, updated_at
		FROM file_records
		WHERE repo_id = $1 AND path_hash = $2
	`

	var record indexing.FileRecord
	err := r.pool.QueryRow(ctx, query, repoID, pathHash).Scan(
		&record.RepoID, &record.PathHash, &record.Path, &record.ContentHash, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*indexing.FileRecord](), nil
		}
		return mo.None[*indexing.FileRecord](), fmt.Errorf("failed to get file record: %w", err)
	}

	return mo.Some(&record), nil
}

// ListFileRecords はリポジトリのファイルレコードをパスをキーとしたマップで返します
func (r *IndexRepository) ListFileRecords(ctx context.Context, repoID uuid.UUID) (map[string]*indexing.FileRecord, error) {
	query := `
		SELECT repo_id, path_hash, path, content_hash, updated_at
		FROM file_records
		WHERE repo_id = $1
	`

	rows, err := r.pool.Query(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*indexing.FileRecord)
	for rows.Next() {
		var record indexing.FileRecord
		if err := rows.Scan(&record.RepoID, &record.PathHash, &record.Path, &record.ContentHash, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records[record.Path] = &record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file records: %w", err)
	}

	return records, nil
}

// UpsertFileRecord はファイルレコードを挿入または更新します
func (r *IndexRepository) UpsertFileRecord(ctx context.Context, record *indexing.FileRecord) error {
	query := `
		INSERT INTO file_records (repo_id, path_hash, path, content_hash, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (repo_id, path_hash)
		DO UPDATE SET content_hash = EXCLUDED.content_hash, path = EXCLUDED.path, updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, record.RepoID, record.PathHash, record.Path, record.ContentHash); err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

// DeleteFile はファイルレコードと配下のチャンクを削除します
func (r *IndexRepository) DeleteFile(ctx context.Context, repoID uuid.UUID, pathHash string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM code_chunks WHERE repo_id = $1 AND path_hash = $2`, repoID, pathHash); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM file_records WHERE repo_id = $1 AND path_hash = $2`, repoID, pathHash); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetChunk はチャンクを取得します
func (r *IndexRepository) GetChunk(ctx context.Context, repoID uuid.UUID, pathHash string, chunkIndex int) (mo.Option[*indexing.CodeChunk], error) {
	query := `
		SELECT repo_id, path_hash, chunk_index, chunk_hash, start_line, end_line, embedding, commit_sha, updated_at
		FROM code_chunks
		WHERE repo_id = $1 AND path_hash = $2 AND chunk_index = $3
	`

	var (
		chunk     indexing.CodeChunk
		embedding pgvector.Vector
	)
	err := r.pool.QueryRow(ctx, query, repoID, pathHash, chunkIndex).Scan(
		&chunk.RepoID, &chunk.PathHash, &chunk.ChunkIndex, &chunk.ChunkHash,
		&chunk.StartLine, &chunk.EndLine, &embedding, &chunk.CommitSHA, &chunk.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*indexing.CodeChunk](), nil
		}
		return mo.None[*indexing.CodeChunk](), fmt.Errorf("failed to get chunk: %w", err)
	}

	chunk.Embedding = embedding.Slice()
	return mo.Some(&chunk), nil
}

// UpsertChunk はチャンクを挿入または更新します
func (r *IndexRepository) UpsertChunk(ctx context.Context, chunk *indexing.CodeChunk) error {
	query := `
		INSERT INTO code_chunks (repo_id, path_hash, chunk_index, chunk_hash, start_line, end_line, embedding, commit_sha, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (repo_id, path_hash, chunk_index)
		DO UPDATE SET
			chunk_hash = EXCLUDED.chunk_hash,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			embedding = EXCLUDED.embedding,
			commit_sha = EXCLUDED.commit_sha,
			updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query,
		chunk.RepoID, chunk.PathHash, chunk.ChunkIndex, chunk.ChunkHash,
		chunk.StartLine, chunk.EndLine, pgvector.NewVector(chunk.Embedding), chunk.CommitSHA,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// UpdateChunkCommitSHA はチャンクのコミットSHAのみを更新します
func (r *IndexRepository) UpdateChunkCommitSHA(ctx context.Context, repoID uuid.UUID, pathHash string, chunkIndex int, commitSHA string) error {
	query := `
		UPDATE code_chunks
		SET commit_sha = $4, updated_at = now()
		WHERE repo_id = $1 AND path_hash = $2 AND chunk_index = $3
	`

	if _, err := r.pool.Exec(ctx, query, repoID, pathHash, chunkIndex, commitSHA); err != nil {
		return fmt.Errorf("failed to update chunk commit sha: %w", err)
	}
	return nil
}

// DeleteChunksFrom は指定番号以降のチャンクを削除します
func (r *IndexRepository) DeleteChunksFrom(ctx context.Context, repoID uuid.UUID, pathHash string, fromIndex int) error {
	query := `DELETE FROM code_chunks WHERE repo_id = $1 AND path_hash = $2 AND chunk_index >= $3`

	if _, err := r.pool.Exec(ctx, query, repoID, pathHash, fromIndex); err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	return nil
}

// CountFileChunks はファイルのインデックス済みチャンク数を返します
func (r *IndexRepository) CountFileChunks(ctx context.Context, repoID uuid.UUID, pathHash string) (int, error) {
	query := `SELECT COUNT(*) FROM code_chunks WHERE repo_id = $1 AND path_hash = $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, repoID, pathHash).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// GetRepoStats はリポジトリのインデックス統計を取得します
func (r *IndexRepository) GetRepoStats(ctx context.Context, repoID uuid.UUID) (*indexing.RepoStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM file_records WHERE repo_id = $1),
			(SELECT COUNT(*) FROM code_chunks WHERE repo_id = $1),
			(SELECT MAX(updated_at) FROM file_records WHERE repo_id = $1)
	`

	var stats indexing.RepoStats
	if err := r.pool.QueryRow(ctx, query, repoID).Scan(&stats.FileCount, &stats.ChunkCount, &stats.LastIndexedAt); err != nil {
		return nil, fmt.Errorf("failed to get repo stats: %w", err)
	}
	return &stats, nil
}
