package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/dev-trace/internal/core/search"
)

// SearchRepository はsearch.RepositoryのPostgreSQL実装です
// pgvectorのコサイン距離演算子で近傍検索を行います
type SearchRepository struct {
	pool *pgxpool.Pool
}

// NewSearchRepository はSearchRepositoryを初期化します
func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{pool: pool}
}

// SearchChunks はクエリベクトルに近いチャンクを類似度の高い順に返します
func (r *SearchRepository) SearchChunks(ctx context.Context, repoID uuid.UUID, vector []float32, limit int) ([]*search.Result, error) {
	query := `
		SELECT f.path, c.chunk_index, c.start_line, c.end_line, c.commit_sha,
		       1 - (c.embedding <=> $2) AS score
		FROM code_chunks c
		JOIN file_records f ON f.repo_id = c.repo_id AND f.path_hash = c.path_hash
		WHERE c.repo_id = $1 AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $2
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, repoID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []*search.Result
	for rows.Next() {
		var result search.Result
		if err := rows.Scan(&result.Path, &result.ChunkIndex, &result.StartLine, &result.EndLine, &result.CommitSHA, &result.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}

	return results, nil
}
