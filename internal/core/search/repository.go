package search

import (
	"context"

	"github.com/google/uuid"
)

// Repository はベクトル近傍検索のインターフェース
type Repository interface {
	// SearchChunks はクエリベクトルに近いチャンクを類似度の高い順に返す
	SearchChunks(ctx context.Context, repoID uuid.UUID, vector []float32, limit int) ([]*Result, error)
}
