package indexing

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// === FileRecord ===

// FileRecord はインデックス済みファイルの状態を表す
// リポジトリIDとパスハッシュの組でファイルを一意に識別する
type FileRecord struct {
	RepoID      uuid.UUID `json:"repoID"`
	PathHash    string    `json:"pathHash"`
	Path        string    `json:"path"`
	ContentHash string    `json:"contentHash"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// === CodeChunk ===

// CodeChunk はインデックス済みのコードチャンクを表す
// (RepoID, PathHash, ChunkIndex) の組で一意に識別される
type CodeChunk struct {
	RepoID     uuid.UUID `json:"repoID"`
	PathHash   string    `json:"pathHash"`
	ChunkIndex int       `json:"chunkIndex"`
	ChunkHash  string    `json:"chunkHash"`
	StartLine  int       `json:"startLine"`
	EndLine    int       `json:"endLine"`
	Embedding  []float32 `json:"-"`
	CommitSHA  string    `json:"commitSHA"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// === RepoFile ===

// RepoFile はソース取得段階で得られるリポジトリ内の1ファイルを表す
type RepoFile struct {
	Path        string
	Content     string
	Size        int
	ContentHash string
}

// NewRepoFile はファイル内容からコンテンツハッシュを計算してRepoFileを作成する
func NewRepoFile(path, content string) *RepoFile {
	return &RepoFile{
		Path:        path,
		Content:     content,
		Size:        len(content),
		ContentHash: HashContent(content),
	}
}

// PathHash はファイルパスのハッシュを返す
func (f *RepoFile) PathHash() string {
	return HashContent(f.Path)
}

// === Classification ===

// Classification は変更検出の結果を表す
// 現在のファイル集合とインデックス済みレコードの突き合わせで各ファイルは
// 必ずいずれか1つのカテゴリに分類される
type Classification struct {
	New       []*RepoFile
	Modified  []*RepoFile
	Unchanged []*RepoFile
	Deleted   []*FileRecord
}

// ToProcess は再インデックスが必要なファイル(新規+変更)を返す
func (c *Classification) ToProcess() []*RepoFile {
	files := make([]*RepoFile, 0, len(c.New)+len(c.Modified))
	files = append(files, c.New...)
	files = append(files, c.Modified...)
	return files
}

// === PendingChunk ===

// PendingChunk は埋め込み待ちのチャンクを表す
// Contentは埋め込み計算にのみ使用され、永続化されない
type PendingChunk struct {
	Path      string
	PathHash  string
	Index     int
	Hash      string
	StartLine int
	EndLine   int
	Language  string
	Content   string
}

// === Stats ===

// IndexStats はチャンクインデックス処理の統計を表す
type IndexStats struct {
	NewChunks       int      `json:"newChunks"`
	UnchangedChunks int      `json:"unchangedChunks"`
	Errors          []string `json:"errors,omitempty"`
}

// SyncStats はリポジトリ同期処理の統計を表す
type SyncStats struct {
	NewFiles       int      `json:"newFiles"`
	ModifiedFiles  int      `json:"modifiedFiles"`
	UnchangedFiles int      `json:"unchangedFiles"`
	DeletedFiles   int      `json:"deletedFiles"`
	TotalChunks    int      `json:"totalChunks"`
	Errors         []string `json:"errors,omitempty"`
}

// RepoStats はリポジトリ単位のインデックス状況を表す
type RepoStats struct {
	FileCount     int        `json:"fileCount"`
	ChunkCount    int        `json:"chunkCount"`
	LastIndexedAt *time.Time `json:"lastIndexedAt,omitempty"`
}

// HashContent は内容のSHA-256ハッシュを16進文字列で返す
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}
