package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/dev-trace/internal/core/pipeline"
)

const (
	// DefaultGeneratorModel はドキュメント生成に使うデフォルトモデル
	DefaultGeneratorModel = "gpt-4o-mini"

	// generateTimeout は1ファイルあたりの生成タイムアウト
	generateTimeout = 60 * time.Second

	// maxRetries はレート制限エラー時の最大リトライ回数
	maxRetries = 3

	// baseBackoff はExponential Backoffの基底時間
	baseBackoff = 2 * time.Second

	// maxBackoff はExponential Backoffの最大待機時間
	maxBackoff = 32 * time.Second

	// maxCodeChars は生成プロンプトに含めるコードの最大文字数
	maxCodeChars = 12000
)

const docPrompt = `あなたはコードドキュメントの作成者です。以下のソースファイルについて、
関数・型・処理の流れを説明する簡潔なドキュメントを日本語で書いてください。
1行目をタイトル、2行目以降を本文としてください。

ファイル: %s
言語: %s

%s`

// DocGenerator はOpenAI Chat APIを使用するpipeline.DocGenerator実装
type DocGenerator struct {
	client openai.Client
	model  string
}

// NewDocGenerator はDocGeneratorを作成する
// modelが空の場合はDefaultGeneratorModelを使用する
func NewDocGenerator(apiKey, model string) *DocGenerator {
	if model == "" {
		model = DefaultGeneratorModel
	}
	return &DocGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// GenerateDoc はソースファイルの説明ドキュメントを生成する
// レート制限エラーはExponential Backoffでリトライする
func (g *DocGenerator) GenerateDoc(ctx context.Context, path, language, code string) (*pipeline.GeneratedDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	prompt := fmt.Sprintf(docPrompt, path, language, truncateAtRuneBoundary(code, maxCodeChars))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * baseBackoff
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(g.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return nil, fmt.Errorf("OpenAI API call failed: %w", err)
		}

		if len(completion.Choices) == 0 {
			return nil, fmt.Errorf("no completion choices returned")
		}

		return parseDoc(path, completion.Choices[0].Message.Content), nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// truncateAtRuneBoundary はlimitバイトを超えない範囲でルーン境界で切り詰める
// マルチバイト文字の途中で切断して不正なUTF-8を作らないようにする
func truncateAtRuneBoundary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// parseDoc は生成テキストの1行目をタイトル、残りを本文として分解する
func parseDoc(path, content string) *pipeline.GeneratedDoc {
	title, body, found := strings.Cut(strings.TrimSpace(content), "\n")
	title = strings.TrimSpace(strings.TrimLeft(title, "# "))
	if title == "" {
		title = path
	}
	if !found {
		body = content
	}

	return &pipeline.GeneratedDoc{
		Title:   title,
		Content: strings.TrimSpace(body),
	}
}

// isRateLimitError はエラーがレート制限エラーかどうかを判定する
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ pipeline.DocGenerator = (*DocGenerator)(nil)
