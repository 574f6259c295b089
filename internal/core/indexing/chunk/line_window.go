package chunk

import "strings"

// DefaultWindowLines は行ウィンドウ分割のデフォルト行数
const DefaultWindowLines = 50

// LineWindowChunker は固定行数のウィンドウでファイルを分割するChunker実装
// 言語に依存しない最終フォールバックであり、全行を漏れなくカバーする
type LineWindowChunker struct {
	window int
}

// NewLineWindowChunker はLineWindowChunkerを作成する
// windowが0以下の場合はDefaultWindowLinesを使用する
func NewLineWindowChunker(window int) *LineWindowChunker {
	if window <= 0 {
		window = DefaultWindowLines
	}
	return &LineWindowChunker{window: window}
}

// Chunk はファイル内容を固定行数ごとのチャンクに分割する
func (c *LineWindowChunker) Chunk(content, path string) []*Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.SplitAfter(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); i += c.window {
		end := i + c.window
		if end > len(lines) {
			end = len(lines)
		}

		part := strings.Join(lines[i:end], "")
		chunks = append(chunks, &Chunk{
			Content:   part,
			Index:     len(chunks),
			Hash:      hashChunk(part),
			StartLine: i + 1,
			EndLine:   end,
		})
	}

	return chunks
}
