package chunk

import (
	"crypto/sha256"
	"fmt"
)

// Chunk は分割済みのコード断片を表す
// 行番号は1始まりで、StartLine/EndLineは元ファイル内の位置を指す
type Chunk struct {
	Content   string
	Index     int
	Hash      string
	StartLine int
	EndLine   int
}

// Chunker はファイル内容をチャンクに分割するインターフェース
// 分割処理は失敗しない。入力が分割に適さない場合でも必ず
// 劣化した結果(ファイル全体1チャンク等)を返す
type Chunker interface {
	Chunk(content, path string) []*Chunk
}

func hashChunk(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// countLines は文字列の行数を返す(末尾改行は行としてカウントしない)
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	if s[len(s)-1] == '\n' {
		n--
	}
	return n
}
