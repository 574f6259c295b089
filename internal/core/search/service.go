package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/dev-trace/internal/core/indexing"
)

// DefaultLimit は検索結果のデフォルト件数
const DefaultLimit = 10

// Service は自然言語クエリによるコードチャンク検索を提供する
type Service struct {
	embedder indexing.Embedder
	repo     Repository
	logger   *slog.Logger
}

// NewService はServiceを作成する
func NewService(embedder indexing.Embedder, repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, repo: repo, logger: logger}
}

// Search はクエリを埋め込みベクトルに変換し、近傍のチャンクを返す
func (s *Service) Search(ctx context.Context, repoID uuid.UUID, query string, limit int) ([]*Result, error) {
	if query == "" {
		return nil, fmt.Errorf("検索クエリが空です")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("クエリの埋め込みに失敗しました: %w", err)
	}

	results, err := s.repo.SearchChunks(ctx, repoID, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("チャンク検索に失敗しました: %w", err)
	}

	s.logger.Debug("search completed",
		slog.String("repoID", repoID.String()),
		slog.Int("results", len(results)),
	)
	return results, nil
}
