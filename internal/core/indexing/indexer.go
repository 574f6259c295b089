package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize は埋め込みAPIに渡す1バッチあたりのチャンク数
	DefaultBatchSize = 20

	// DefaultBatchTimeout は1バッチの埋め込み処理のタイムアウト
	DefaultBatchTimeout = 60 * time.Second
)

// EmbeddingIndexer はチャンクのハッシュ比較による差分埋め込みを行う
// 既存チャンクとハッシュが一致する場合は埋め込みAPIを呼ばず、
// コミットSHAの更新のみを行う
type EmbeddingIndexer struct {
	repo         Repository
	embedder     Embedder
	limiter      *rate.Limiter
	batchSize    int
	batchTimeout time.Duration
	logger       *slog.Logger
}

// IndexerOption はEmbeddingIndexerのオプション設定関数
type IndexerOption func(*EmbeddingIndexer)

// WithBatchSize は埋め込みバッチサイズを設定する
func WithBatchSize(size int) IndexerOption {
	return func(idx *EmbeddingIndexer) {
		if size > 0 {
			idx.batchSize = size
		}
	}
}

// WithBatchTimeout は1バッチあたりのタイムアウトを設定する
func WithBatchTimeout(timeout time.Duration) IndexerOption {
	return func(idx *EmbeddingIndexer) {
		if timeout > 0 {
			idx.batchTimeout = timeout
		}
	}
}

// WithRateLimit は埋め込みAPI呼び出しのレート制限(リクエスト/秒)を設定する
func WithRateLimit(rps float64) IndexerOption {
	return func(idx *EmbeddingIndexer) {
		if rps > 0 {
			idx.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) IndexerOption {
	return func(idx *EmbeddingIndexer) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// NewEmbeddingIndexer はEmbeddingIndexerを作成する
func NewEmbeddingIndexer(repo Repository, embedder Embedder, opts ...IndexerOption) *EmbeddingIndexer {
	idx := &EmbeddingIndexer{
		repo:         repo,
		embedder:     embedder,
		batchSize:    DefaultBatchSize,
		batchTimeout: DefaultBatchTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	// 埋め込みモデル側の上限を超えるバッチは作らない
	if max := embedder.MaxBatchSize(); max > 0 && idx.batchSize > max {
		idx.batchSize = max
	}

	return idx
}

// IndexChunks はチャンク群を差分埋め込みでインデックスする
// バッチ単位の失敗は統計のErrorsに記録して処理を継続し、
// 後続バッチには影響させない
func (idx *EmbeddingIndexer) IndexChunks(ctx context.Context, repoID uuid.UUID, commitSHA string, pending []*PendingChunk) (*IndexStats, error) {
	stats := &IndexStats{}

	toEmbed := make([]*PendingChunk, 0, len(pending))
	for _, chunk := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		existing, err := idx.repo.GetChunk(ctx, repoID, chunk.PathHash, chunk.Index)
		if err != nil {
			return stats, fmt.Errorf("チャンクの取得に失敗しました: %w", err)
		}

		if stored, ok := existing.Get(); ok && stored.ChunkHash == chunk.Hash {
			stats.UnchangedChunks++
			if stored.CommitSHA != commitSHA {
				if err := idx.repo.UpdateChunkCommitSHA(ctx, repoID, chunk.PathHash, chunk.Index, commitSHA); err != nil {
					stats.Errors = append(stats.Errors, fmt.Sprintf("%s[%d]: コミットSHAの更新に失敗: %v", chunk.Path, chunk.Index, err))
				}
			}
			continue
		}

		toEmbed = append(toEmbed, chunk)
	}

	for start := 0; start < len(toEmbed); start += idx.batchSize {
		end := start + idx.batchSize
		if end > len(toEmbed) {
			end = len(toEmbed)
		}
		batch := toEmbed[start:end]
		batchNum := start/idx.batchSize + 1

		if err := idx.embedBatch(ctx, repoID, commitSHA, batch, stats); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Errors = append(stats.Errors, fmt.Sprintf("バッチ %d: %v", batchNum, err))
			idx.logger.Warn("embedding batch failed",
				slog.Int("batch", batchNum),
				slog.Int("size", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}

	return stats, nil
}

// embedBatch は1バッチ分のチャンクを埋め込み、ストアに書き込む
func (idx *EmbeddingIndexer) embedBatch(ctx context.Context, repoID uuid.UUID, commitSHA string, batch []*PendingChunk, stats *IndexStats) error {
	if idx.limiter != nil {
		if err := idx.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	batchCtx, cancel := context.WithTimeout(ctx, idx.batchTimeout)
	defer cancel()

	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = embeddingText(chunk)
	}

	vectors, err := idx.embedder.BatchEmbed(batchCtx, texts)
	if err != nil {
		return fmt.Errorf("埋め込みの生成に失敗しました: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("埋め込み結果の数が一致しません: got %d, want %d", len(vectors), len(batch))
	}

	for i, chunk := range batch {
		record := &CodeChunk{
			RepoID:     repoID,
			PathHash:   chunk.PathHash,
			ChunkIndex: chunk.Index,
			ChunkHash:  chunk.Hash,
			StartLine:  chunk.StartLine,
			EndLine:    chunk.EndLine,
			Embedding:  vectors[i],
			CommitSHA:  commitSHA,
		}
		if err := idx.repo.UpsertChunk(ctx, record); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s[%d]: チャンクの保存に失敗: %v", chunk.Path, chunk.Index, err))
			continue
		}
		stats.NewChunks++
	}

	return nil
}

// DeleteFileChunks は削除されたファイルのレコードとチャンクを取り除く
func (idx *EmbeddingIndexer) DeleteFileChunks(ctx context.Context, repoID uuid.UUID, pathHash string) error {
	if err := idx.repo.DeleteFile(ctx, repoID, pathHash); err != nil {
		return fmt.Errorf("ファイルの削除に失敗しました: %w", err)
	}
	return nil
}

// embeddingText は埋め込み対象のテキストを構築する
// ファイルパスと言語を前置して検索時の文脈を持たせる
func embeddingText(chunk *PendingChunk) string {
	if chunk.Language != "" {
		return fmt.Sprintf("File: %s\nLanguage: %s\n\n%s", chunk.Path, chunk.Language, chunk.Content)
	}
	return fmt.Sprintf("File: %s\n\n%s", chunk.Path, chunk.Content)
}
