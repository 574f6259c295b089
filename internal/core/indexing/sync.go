package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/dev-trace/internal/core/indexing/chunk"
)

// Syncer はリポジトリの現在のファイル集合をインデックスと同期する
// パイプラインの進捗通知やPR抽出を伴わない軽量なエントリポイントで、
// 変更検出 → 削除ファイルの掃除 → 新規・変更ファイルの再インデックス
// のみを行う
type Syncer struct {
	repo     Repository
	indexer  *EmbeddingIndexer
	detector *ChangeDetector
	chunker  chunk.Chunker
	logger   *slog.Logger
}

// SyncerOption はSyncerのオプション設定関数
type SyncerOption func(*Syncer)

// WithSyncChunker はチャンカーを設定する
func WithSyncChunker(chunker chunk.Chunker) SyncerOption {
	return func(s *Syncer) {
		if chunker != nil {
			s.chunker = chunker
		}
	}
}

// WithSyncLogger はロガーを設定する
func WithSyncLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSyncer はSyncerを作成する
// チャンカーが設定されていない場合は行ウィンドウ分割を使用する
func NewSyncer(repo Repository, indexer *EmbeddingIndexer, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		repo:     repo,
		indexer:  indexer,
		detector: NewChangeDetector(),
		chunker:  chunk.NewLineWindowChunker(chunk.DefaultWindowLines),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncRepository は現在のファイル集合をインデックス済み状態と突き合わせ、
// 差分のみを再インデックスする
// 個別ファイルの失敗は統計のErrorsに記録して処理を継続する
func (s *Syncer) SyncRepository(ctx context.Context, repoID uuid.UUID, commitSHA string, current []*RepoFile) (*SyncStats, error) {
	indexed, err := s.repo.ListFileRecords(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("インデックス済みファイルの取得に失敗しました: %w", err)
	}

	cls := s.detector.Classify(current, indexed)
	stats := &SyncStats{
		NewFiles:       len(cls.New),
		ModifiedFiles:  len(cls.Modified),
		UnchangedFiles: len(cls.Unchanged),
		DeletedFiles:   len(cls.Deleted),
	}

	for _, record := range cls.Deleted {
		if err := s.indexer.DeleteFileChunks(ctx, repoID, record.PathHash); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: 削除に失敗: %v", record.Path, err))
		}
	}

	var pending []*PendingChunk
	for _, file := range cls.ToProcess() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunks := s.chunker.Chunk(file.Content, file.Path)
		pathHash := file.PathHash()

		record := &FileRecord{
			RepoID:      repoID,
			PathHash:    pathHash,
			Path:        file.Path,
			ContentHash: file.ContentHash,
			UpdatedAt:   time.Now(),
		}
		if err := s.repo.UpsertFileRecord(ctx, record); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: ファイルレコードの保存に失敗: %v", file.Path, err))
			continue
		}

		// 再分割でチャンク数が減った場合の末尾の残骸を掃除する
		if err := s.repo.DeleteChunksFrom(ctx, repoID, pathHash, len(chunks)); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: 旧チャンクの削除に失敗: %v", file.Path, err))
		}

		language := chunk.DetectLanguage(file.Path, file.Content)
		for _, c := range chunks {
			pending = append(pending, &PendingChunk{
				Path:      file.Path,
				PathHash:  pathHash,
				Index:     c.Index,
				Hash:      c.Hash,
				StartLine: c.StartLine,
				EndLine:   c.EndLine,
				Language:  language,
				Content:   c.Content,
			})
		}
		stats.TotalChunks += len(chunks)
	}

	indexStats, err := s.indexer.IndexChunks(ctx, repoID, commitSHA, pending)
	if err != nil {
		return stats, err
	}
	stats.Errors = append(stats.Errors, indexStats.Errors...)

	s.logger.Info("repository sync completed",
		slog.String("repoID", repoID.String()),
		slog.Int("new", stats.NewFiles),
		slog.Int("modified", stats.ModifiedFiles),
		slog.Int("unchanged", stats.UnchangedFiles),
		slog.Int("deleted", stats.DeletedFiles),
		slog.Int("chunks", stats.TotalChunks),
	)

	return stats, nil
}
