package pipeline

import "time"

// Stage はパイプラインの処理段階を表す
// 遷移は一方向で、後戻りはしない
type Stage string

const (
	StageFetch        Stage = "fetch"
	StageChunk        Stage = "chunk"
	StageEmbed        Stage = "embed"
	StageGenerateDoc  Stage = "generate_doc"
	StageLinkDocCode  Stage = "link_doc_code"
	StageExtractTrace Stage = "extract_traceability"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// Progress は実行中パイプラインの進捗を表す
// コールバックには毎回コピーが渡されるため、受け取った側で
// 保持しても以降の更新の影響を受けない
type Progress struct {
	Stage           Stage      `json:"stage"`
	TotalFiles      int        `json:"totalFiles"`
	ProcessedFiles  int        `json:"processedFiles"`
	SkippedFiles    int        `json:"skippedFiles"`
	DeletedFiles    int        `json:"deletedFiles"`
	TotalChunks     int        `json:"totalChunks"`
	EmbeddedChunks  int        `json:"embeddedChunks"`
	UnchangedChunks int        `json:"unchangedChunks"`
	DocsGenerated   int        `json:"docsGenerated"`
	LinksCreated    int        `json:"linksCreated"`
	SkippedStages   []Stage    `json:"skippedStages,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

func (p *Progress) clone() Progress {
	snapshot := *p
	snapshot.SkippedStages = append([]Stage(nil), p.SkippedStages...)
	snapshot.Errors = append([]string(nil), p.Errors...)
	return snapshot
}

// ProgressFunc は進捗通知のコールバック
// 通知は投げっぱなしであり、コールバック内のpanicはパイプラインの
// 進行に影響しない
type ProgressFunc func(Progress)

// Options はパイプライン実行のオプション
type Options struct {
	// Ref は対象のブランチまたはタグ(空の場合はホストのデフォルト)
	Ref string

	// GenerateDocs はドキュメント生成段階を実行するかどうか
	GenerateDocs bool

	// ExtractTraceability はトレーサビリティ抽出段階を実行するかどうか
	ExtractTraceability bool

	// DocFileLimit はドキュメント生成対象のファイル数上限
	DocFileLimit int

	// PRLimit はトレーサビリティ抽出対象のPR数上限
	PRLimit int
}

// Result はパイプライン実行の集計結果を表す
type Result struct {
	Success           bool     `json:"success"`
	RepoFullName      string   `json:"repoFullName"`
	CommitSHA         string   `json:"commitSHA"`
	FilesProcessed    int      `json:"filesProcessed"`
	DocsCreated       int      `json:"docsCreated"`
	TraceabilityLinks int      `json:"traceabilityLinks"`
	Errors            []string `json:"errors,omitempty"`
	Progress          Progress `json:"progress"`
}
