package search

// Result はコード検索の1件の結果を表す
type Result struct {
	Path       string  `json:"path"`
	ChunkIndex int     `json:"chunkIndex"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	CommitSHA  string  `json:"commitSHA"`
	Score      float64 `json:"score"`
}
