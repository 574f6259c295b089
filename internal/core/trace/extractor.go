package trace

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// ConfidenceTitleRef はタイトル内のチケット参照の確信度
	ConfidenceTitleRef = 0.9

	// ConfidenceBodyRef は本文内のチケット参照の確信度
	ConfidenceBodyRef = 0.7

	// ConfidenceFilesChanged は差分由来のファイル変更の確信度
	// 差分は推定ではなく事実なので常に1.0
	ConfidenceFilesChanged = 1.0

	// ConfidenceFileMention は自由テキスト内のファイルパス言及の確信度
	ConfidenceFileMention = 0.6

	// evidenceWindow は本文マッチの前後に残す証拠スニペットの文字数
	evidenceWindow = 60
)

// genericTicketPattern はチームキー未指定時のチケット識別子パターン
// 2〜10文字の英字プレフィックス + ハイフン + 数字
var genericTicketPattern = regexp.MustCompile(`(?i)\b([A-Z]{2,10})-(\d+)\b`)

// filePathPattern はソースファイルパスの言及を検出するパターン
// 単語の途中にマッチしないよう前後を空白・引用符等に限定する
var filePathPattern = regexp.MustCompile("(?:^|[\\s`'\"(])((?:[\\w.-]+/)*[\\w.-]+\\.(?:go|py|js|jsx|ts|tsx|rs|java|rb|php|c|cpp|h|hpp|sql|proto|yaml|yml|json|toml|md))(?:[\\s`'\")\\]:,.]|$)")

var (
	fixesKeywords  = regexp.MustCompile(`(?i)\b(fixes|fixed|fix|resolves|resolved|resolve)\b`)
	closesKeywords = regexp.MustCompile(`(?i)\b(closes|closed|close)\b`)
)

// Extractor はテキストからチケット参照・ファイル言及を抽出し、
// 確信度付きのリンクに変換する。状態を持たず、同じ入力には
// 常に同じ結果を返す
type Extractor struct {
	ticketPattern *regexp.Regexp
}

// NewExtractor はExtractorを作成する
// teamKeysが指定された場合、チケット参照の検出は指定キーに限定される
// (大文字小文字は無視し、出力は大文字に正規化される)
// 未指定の場合は汎用パターンを使うが、バージョン文字列等の誤検出が増える
func NewExtractor(teamKeys []string) *Extractor {
	pattern := genericTicketPattern
	if len(teamKeys) > 0 {
		escaped := make([]string, len(teamKeys))
		for i, key := range teamKeys {
			escaped[i] = regexp.QuoteMeta(strings.ToUpper(key))
		}
		pattern = regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)-(\d+)\b`)
	}
	return &Extractor{ticketPattern: pattern}
}

// ExtractFromPR はPRのタイトル・本文・変更ファイル一覧からリンクを抽出する
// prID は "owner/repo#番号" 形式で構築される
func (e *Extractor) ExtractFromPR(repoFullName string, prNumber int, title, body string, filesChanged []string) *ExtractionResult {
	result := &ExtractionResult{}
	prID := fmt.Sprintf("%s#%d", repoFullName, prNumber)
	combined := title + "\n" + body

	titleTickets := e.findTickets(title)
	bodyTickets := e.findTickets(body)
	linkType := classifyLinkType(combined)

	seen := make(map[string]struct{})
	for _, ticket := range titleTickets {
		if _, ok := seen[ticket]; ok {
			continue
		}
		seen[ticket] = struct{}{}
		result.TicketRefs = append(result.TicketRefs, ticket)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType:  ArtifactGitHubPR,
			SourceID:    prID,
			SourceTitle: optional(title),
			TargetType:  ArtifactLinearIssue,
			TargetID:    ticket,
			LinkType:    linkType,
			Confidence:  ConfidenceTitleRef,
			Evidence:    fmt.Sprintf("PR title: %s", title),
		})
	}
	for _, ticket := range bodyTickets {
		if _, ok := seen[ticket]; ok {
			continue
		}
		seen[ticket] = struct{}{}
		result.TicketRefs = append(result.TicketRefs, ticket)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType:  ArtifactGitHubPR,
			SourceID:    prID,
			SourceTitle: optional(title),
			TargetType:  ArtifactLinearIssue,
			TargetID:    ticket,
			LinkType:    linkType,
			Confidence:  ConfidenceBodyRef,
			Evidence:    snippetAround(body, ticket),
		})
	}

	for _, path := range filesChanged {
		result.FileRefs = append(result.FileRefs, path)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType:  ArtifactGitHubPR,
			SourceID:    prID,
			SourceTitle: optional(title),
			TargetType:  ArtifactCodeFile,
			TargetID:    fmt.Sprintf("%s:%s", repoFullName, path),
			LinkType:    LinkModifies,
			Confidence:  ConfidenceFilesChanged,
			Evidence:    fmt.Sprintf("changed in %s", prID),
		})
	}

	// 本文中のファイルパス言及。差分に含まれるものは既にmodifiesで
	// カバーされているので除外する
	changed := make(map[string]struct{}, len(filesChanged))
	for _, path := range filesChanged {
		changed[path] = struct{}{}
	}
	for _, path := range e.findFilePaths(body) {
		if _, ok := changed[path]; ok {
			continue
		}
		result.FileRefs = append(result.FileRefs, path)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType:  ArtifactGitHubPR,
			SourceID:    prID,
			SourceTitle: optional(title),
			TargetType:  ArtifactCodeFile,
			TargetID:    fmt.Sprintf("%s:%s", repoFullName, path),
			LinkType:    LinkDiscusses,
			Confidence:  ConfidenceFileMention,
			Evidence:    snippetAround(body, path),
		})
	}

	return result
}

// ExtractFromCommit はコミットメッセージからチケット参照を抽出する
// commitID は "owner/repo@SHA" 形式で構築される
func (e *Extractor) ExtractFromCommit(repoFullName, sha, message string) *ExtractionResult {
	result := &ExtractionResult{}
	commitID := fmt.Sprintf("%s@%s", repoFullName, sha)
	linkType := classifyLinkType(message)

	firstLine, _, _ := strings.Cut(message, "\n")
	for _, ticket := range e.findTickets(message) {
		result.TicketRefs = append(result.TicketRefs, ticket)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType:  ArtifactGitHubCommit,
			SourceID:    commitID,
			SourceTitle: optional(firstLine),
			TargetType:  ArtifactLinearIssue,
			TargetID:    ticket,
			LinkType:    linkType,
			Confidence:  ConfidenceBodyRef,
			Evidence:    snippetAround(message, ticket),
		})
	}

	return result
}

// ExtractFromMessage はチャットメッセージからチケット参照と
// ファイル言及を抽出する
func (e *Extractor) ExtractFromMessage(messageID, text string) *ExtractionResult {
	result := &ExtractionResult{}

	for _, ticket := range e.findTickets(text) {
		result.TicketRefs = append(result.TicketRefs, ticket)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType: ArtifactSlackMessage,
			SourceID:   messageID,
			TargetType: ArtifactLinearIssue,
			TargetID:   ticket,
			LinkType:   LinkDiscusses,
			Confidence: ConfidenceBodyRef,
			Evidence:   snippetAround(text, ticket),
		})
	}

	for _, path := range e.findFilePaths(text) {
		result.FileRefs = append(result.FileRefs, path)
		result.Links = append(result.Links, &TraceabilityLink{
			SourceType: ArtifactSlackMessage,
			SourceID:   messageID,
			TargetType: ArtifactCodeFile,
			TargetID:   path,
			LinkType:   LinkDiscusses,
			Confidence: ConfidenceFileMention,
			Evidence:   snippetAround(text, path),
		})
	}

	return result
}

// findTickets はテキストからチケット識別子を抽出して大文字に正規化する
// 結果は出現順で、重複は除去される
func (e *Extractor) findTickets(text string) []string {
	matches := e.ticketPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var tickets []string
	for _, m := range matches {
		ticket := strings.ToUpper(m[1]) + "-" + m[2]
		if _, ok := seen[ticket]; ok {
			continue
		}
		seen[ticket] = struct{}{}
		tickets = append(tickets, ticket)
	}
	return tickets
}

// findFilePaths はテキストからソースファイルパスの言及を抽出する
func (e *Extractor) findFilePaths(text string) []string {
	matches := filePathPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var paths []string
	for _, m := range matches {
		path := m[1]
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	return paths
}

// classifyLinkType はキーワードからリンク種別を判定する
// fix系 → close系 → implements の優先順で評価する
func classifyLinkType(text string) LinkType {
	if fixesKeywords.MatchString(text) {
		return LinkFixes
	}
	if closesKeywords.MatchString(text) {
		return LinkCloses
	}
	return LinkImplements
}

// snippetAround はマッチ位置の前後を切り出した証拠スニペットを返す
func snippetAround(text, match string) string {
	idx := strings.Index(text, match)
	if idx < 0 {
		idx = strings.Index(strings.ToUpper(text), strings.ToUpper(match))
	}
	if idx < 0 {
		return match
	}

	start := idx - evidenceWindow
	if start < 0 {
		start = 0
	}
	end := idx + len(match) + evidenceWindow
	if end > len(text) {
		end = len(text)
	}

	snippet := strings.TrimSpace(text[start:end])
	return strings.Join(strings.Fields(snippet), " ")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
