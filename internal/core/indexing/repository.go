package indexing

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repository はファイルレコードとコードチャンクの永続化インターフェース
type Repository interface {
	// GetFileRecord はリポジトリIDとパスハッシュでファイルレコードを取得する
	// 存在しない場合は mo.None を返す
	GetFileRecord(ctx context.Context, repoID uuid.UUID, pathHash string) (mo.Option[*FileRecord], error)

	// ListFileRecords はリポジトリのインデックス済みファイル一覧をパスをキーとしたマップで返す
	ListFileRecords(ctx context.Context, repoID uuid.UUID) (map[string]*FileRecord, error)

	// UpsertFileRecord はファイルレコードを挿入または更新する
	UpsertFileRecord(ctx context.Context, record *FileRecord) error

	// DeleteFile はファイルレコードと関連するチャンクを全て削除する
	DeleteFile(ctx context.Context, repoID uuid.UUID, pathHash string) error

	// GetChunk は(リポジトリID, パスハッシュ, チャンク番号)でチャンクを取得する
	// 存在しない場合は mo.None を返す
	GetChunk(ctx context.Context, repoID uuid.UUID, pathHash string, chunkIndex int) (mo.Option[*CodeChunk], error)

	// UpsertChunk はチャンクを挿入または更新する
	UpsertChunk(ctx context.Context, chunk *CodeChunk) error

	// UpdateChunkCommitSHA は内容が変わっていないチャンクのコミットSHAのみを更新する
	UpdateChunkCommitSHA(ctx context.Context, repoID uuid.UUID, pathHash string, chunkIndex int, commitSHA string) error

	// DeleteChunksFrom は指定番号以降のチャンクを削除する
	// ファイルのチャンク数が減った場合の末尾の残骸を取り除くために使う
	DeleteChunksFrom(ctx context.Context, repoID uuid.UUID, pathHash string, fromIndex int) error

	// CountFileChunks はファイルのインデックス済みチャンク数を返す
	CountFileChunks(ctx context.Context, repoID uuid.UUID, pathHash string) (int, error)

	// GetRepoStats はリポジトリのインデックス統計を取得する
	GetRepoStats(ctx context.Context, repoID uuid.UUID) (*RepoStats, error)
}
