package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultMaxTokens はチャンクあたりのトークン数のソフト上限
	DefaultMaxTokens = 1600

	// oversplitLines は上限を超える単一セグメントを再分割する際の行数
	oversplitLines = 50
)

// SemanticChunker は言語ごとの定義境界でコードを分割するChunker実装
// トークン数の上限はソフト制約であり、意味単位の境界を優先する
// 定義パターンが無い言語は行ウィンドウ分割にフォールバックする
type SemanticChunker struct {
	encoder   *tiktoken.Tiktoken
	maxTokens int
	fallback  *LineWindowChunker
}

// NewSemanticChunker はSemanticChunkerを作成する
// maxTokensが0以下の場合はDefaultMaxTokensを使用する
func NewSemanticChunker(maxTokens int) (*SemanticChunker, error) {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &SemanticChunker{
		encoder:   encoder,
		maxTokens: maxTokens,
		fallback:  NewLineWindowChunker(oversplitLines),
	}, nil
}

// Chunk はファイル内容をチャンクに分割する
// 空のファイルやホワイトスペースのみのファイルは空の結果を返す
func (c *SemanticChunker) Chunk(content, path string) []*Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	language := DetectLanguage(path, content)
	pattern, ok := definitionPattern(language)
	if !ok {
		return c.fallback.Chunk(content, path)
	}

	segments := c.splitAtDefinitions(content, pattern)
	if len(segments) == 0 {
		return c.fallback.Chunk(content, path)
	}

	merged := c.mergeSegments(segments)

	return locateChunks(content, merged)
}

// splitAtDefinitions は定義パターンの出現位置でファイル内容を分割する
// 最初の定義より前の部分(import文等)は先頭セグメントになる
func (c *SemanticChunker) splitAtDefinitions(content string, pattern *regexp.Regexp) []string {
	locs := pattern.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return nil
	}

	var segments []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			segments = append(segments, content[prev:loc[0]])
		}
		prev = loc[0]
	}
	segments = append(segments, content[prev:])

	return segments
}

// mergeSegments は連続するセグメントをトークン上限まで貪欲に結合する
// 単独で上限を超えるセグメントは行ウィンドウで再分割する
func (c *SemanticChunker) mergeSegments(segments []string) []string {
	var merged []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			merged = append(merged, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, segment := range segments {
		tokens := c.countTokens(segment)

		if tokens > c.maxTokens {
			// 巨大な単一定義は境界を保てないため行単位で割る
			flush()
			merged = append(merged, splitByLines(segment, oversplitLines)...)
			continue
		}

		if currentTokens+tokens > c.maxTokens {
			flush()
		}
		current.WriteString(segment)
		currentTokens += tokens
	}
	flush()

	return merged
}

func (c *SemanticChunker) countTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// splitByLines は文字列を指定行数ごとに分割する
func splitByLines(s string, window int) []string {
	lines := strings.SplitAfter(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var parts []string
	for i := 0; i < len(lines); i += window {
		end := i + window
		if end > len(lines) {
			end = len(lines)
		}
		parts = append(parts, strings.Join(lines[i:end], ""))
	}
	return parts
}

// locateChunks は分割後の各断片について元ファイル内の行番号を特定し、
// ハッシュと連番を付与してChunkを構築する
// 断片が元ファイル内で見つからない場合は行番号を1からの相対値に劣化させる
func locateChunks(content string, parts []string) []*Chunk {
	chunks := make([]*Chunk, 0, len(parts))
	searchPos := 0

	for i, part := range parts {
		startLine := 1
		offset := strings.Index(content[searchPos:], part)
		if offset >= 0 {
			absolute := searchPos + offset
			startLine = 1 + strings.Count(content[:absolute], "\n")
			searchPos = absolute + len(part)
		}

		endLine := startLine + countLines(part) - 1
		if endLine < startLine {
			endLine = startLine
		}

		chunks = append(chunks, &Chunk{
			Content:   part,
			Index:     i,
			Hash:      hashChunk(part),
			StartLine: startLine,
			EndLine:   endLine,
		})
	}

	return chunks
}
