package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// DocRepository はpipeline.DocStoreのPostgreSQL実装です
type DocRepository struct {
	pool *pgxpool.Pool
}

// NewDocRepository はDocRepositoryを初期化します
func NewDocRepository(pool *pgxpool.Pool) *DocRepository {
	return &DocRepository{pool: pool}
}

// SaveDoc は生成ドキュメントを保存してIDを返します
// 同一パスへの再保存は上書きになります
func (r *DocRepository) SaveDoc(ctx context.Context, repoID uuid.UUID, path, title, content string, embedding []float32) (uuid.UUID, error) {
	query := `
		INSERT INTO generated_docs (repo_id, path, title, content, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT ON CONSTRAINT uq_generated_docs_path
		DO UPDATE SET title = EXCLUDED.title, content = EXCLUDED.content, embedding = EXCLUDED.embedding, updated_at = now()
		RETURNING id
	`

	var vec any
	if embedding != nil {
		vec = pgvector.NewVector(embedding)
	}

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, repoID, path, title, content, vec).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save doc: %w", err)
	}
	return id, nil
}

// LinkDocToChunks はドキュメントを同一ファイルのチャンク群に対応付けます
func (r *DocRepository) LinkDocToChunks(ctx context.Context, docID, repoID uuid.UUID, pathHash string) (int, error) {
	query := `
		INSERT INTO doc_code_links (doc_id, repo_id, path_hash, chunk_index)
		SELECT $1, repo_id, path_hash, chunk_index
		FROM code_chunks
		WHERE repo_id = $2 AND path_hash = $3
		ON CONFLICT DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, docID, repoID, pathHash)
	if err != nil {
		return 0, fmt.Errorf("failed to link doc to chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
