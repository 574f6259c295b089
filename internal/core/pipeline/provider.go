package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinford/dev-trace/internal/core/indexing"
)

// PullRequest はコードホストから取得したプルリクエストを表す
type PullRequest struct {
	Number       int
	Title        string
	Body         string
	Author       string
	State        string
	FilesChanged []string
}

// CodeHost はコードホスティングサービスへのアクセスを抽象化する
// GitHub REST API実装とローカルクローン実装がある
type CodeHost interface {
	// LatestCommitSHA は指定refの最新コミットSHAを取得する
	LatestCommitSHA(ctx context.Context, repoFullName, ref string) (string, error)

	// FetchFiles は指定コミット時点のインデックス対象ファイルを取得する
	// commitSHAにはLatestCommitSHAで解決済みのSHAを渡す
	FetchFiles(ctx context.Context, repoFullName, commitSHA string) ([]*indexing.RepoFile, error)

	// FetchPullRequests は更新日時の新しい順にPRを取得する
	// PR機能を持たないホストは空のスライスを返してよい
	FetchPullRequests(ctx context.Context, repoFullName string, limit int) ([]*PullRequest, error)
}

// TeamKeyProvider はチケットトラッカーのチームキー一覧を提供する
// チケット参照抽出の誤検出を減らすために使う
type TeamKeyProvider interface {
	TeamKeys(ctx context.Context) ([]string, error)
}

// GeneratedDoc はLLMで生成されたファイル単位のドキュメントを表す
type GeneratedDoc struct {
	Title   string
	Content string
}

// DocGenerator はコードからドキュメントを生成する
type DocGenerator interface {
	GenerateDoc(ctx context.Context, path, language, code string) (*GeneratedDoc, error)
}

// DocStore は生成ドキュメントとコードチャンクの対応の永続化を担う
type DocStore interface {
	// SaveDoc は生成ドキュメントを保存してIDを返す
	SaveDoc(ctx context.Context, repoID uuid.UUID, path, title, content string, embedding []float32) (uuid.UUID, error)

	// LinkDocToChunks はドキュメントを同一ファイルのチャンク群に
	// 対応付け、作成したリンク数を返す
	LinkDocToChunks(ctx context.Context, docID, repoID uuid.UUID, pathHash string) (int, error)
}
