package chunk

import (
	"path/filepath"
	"regexp"

	"github.com/go-enry/go-enry/v2"
)

// DetectLanguage はファイル名と内容からプログラミング言語を判定する
// 判定できない場合は空文字列を返す
func DetectLanguage(path, content string) string {
	return enry.GetLanguage(filepath.Base(path), []byte(content))
}

// definitionPatterns は言語ごとのトップレベル定義の開始パターン
// ここに無い言語は意味単位での分割ができないため、行ウィンドウ分割に
// フォールバックする
var definitionPatterns = map[string]*regexp.Regexp{
	"Go":         regexp.MustCompile(`(?m)^(?:func|type|var|const)\s+\w`),
	"Python":     regexp.MustCompile(`(?m)^(?:(?:async\s+)?def|class)\s+\w`),
	"JavaScript": regexp.MustCompile(`(?m)^(?:export\s+)?(?:(?:async\s+)?function|class|const|let|var)\s+\w`),
	"TypeScript": regexp.MustCompile(`(?m)^(?:export\s+)?(?:(?:async\s+)?function|class|interface|type|enum|const|let|var)\s+\w`),
	"TSX":        regexp.MustCompile(`(?m)^(?:export\s+)?(?:(?:async\s+)?function|class|interface|type|enum|const|let|var)\s+\w`),
	"JSX":        regexp.MustCompile(`(?m)^(?:export\s+)?(?:(?:async\s+)?function|class|const|let|var)\s+\w`),
	"Java":       regexp.MustCompile(`(?m)^\s{0,4}(?:public|protected|private|static|final|abstract)\s+[\w<>\[\]]+\s+\w+\s*\(`),
	"Rust":       regexp.MustCompile(`(?m)^(?:pub\s+)?(?:fn|struct|enum|trait|impl|mod)\s+\w`),
	"Ruby":       regexp.MustCompile(`(?m)^(?:def|class|module)\s+\w`),
	"C":          regexp.MustCompile(`(?m)^[\w\*]+\s+\**\w+\s*\([^;]*$`),
	"C++":        regexp.MustCompile(`(?m)^(?:[\w\*:<>]+\s+)+\**[\w:]+\s*\([^;]*$`),
	"PHP":        regexp.MustCompile(`(?m)^\s{0,4}(?:(?:public|protected|private|static)\s+)*(?:function|class|interface|trait)\s+\w`),
}

// definitionPattern は言語に対応する定義パターンを返す
func definitionPattern(language string) (*regexp.Regexp, bool) {
	pattern, ok := definitionPatterns[language]
	return pattern, ok
}
