package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jinford/dev-trace/internal/core/indexing"
	"github.com/jinford/dev-trace/internal/core/pipeline"
)

const (
	defaultBaseURL = "https://api.github.com"

	// defaultMaxFileSize を超えるファイルはインデックス対象から除外する
	defaultMaxFileSize = 500_000

	// fetchConcurrency はファイル内容取得の並行数
	fetchConcurrency = 5

	requestTimeout = 30 * time.Second
)

// defaultExtensions はインデックス対象とする拡張子
var defaultExtensions = []string{
	".py", ".js", ".jsx", ".ts", ".tsx", ".go", ".rs", ".java", ".rb",
	".php", ".c", ".cpp", ".h", ".sql", ".yaml", ".yml", ".json", ".md",
}

// defaultExcludes はインデックス対象から除外するパスのプレフィックス
var defaultExcludes = []string{
	"node_modules/", "vendor/", "dist/", "build/", ".git/",
	"__pycache__/", ".next/", "target/",
}

// Fetcher はGitHub REST APIを使用するpipeline.CodeHost実装です
type Fetcher struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	maxFileSize int
	extensions  map[string]struct{}
	excludes    []string
}

// FetcherOption はFetcherのオプション設定関数です
type FetcherOption func(*Fetcher)

// WithBaseURL はAPIのベースURLを上書きします(GitHub Enterprise用)
func WithBaseURL(baseURL string) FetcherOption {
	return func(f *Fetcher) {
		if baseURL != "" {
			f.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithMaxFileSize は取得対象ファイルのサイズ上限を設定します
func WithMaxFileSize(size int) FetcherOption {
	return func(f *Fetcher) {
		if size > 0 {
			f.maxFileSize = size
		}
	}
}

// WithExtensions はインデックス対象の拡張子を上書きします
func WithExtensions(extensions []string) FetcherOption {
	return func(f *Fetcher) {
		if len(extensions) == 0 {
			return
		}
		f.extensions = make(map[string]struct{}, len(extensions))
		for _, ext := range extensions {
			f.extensions[ext] = struct{}{}
		}
	}
}

// NewFetcher はFetcherを初期化します
func NewFetcher(token string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     defaultBaseURL,
		token:       token,
		maxFileSize: defaultMaxFileSize,
		excludes:    defaultExcludes,
	}
	f.extensions = make(map[string]struct{}, len(defaultExtensions))
	for _, ext := range defaultExtensions {
		f.extensions[ext] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LatestCommitSHA は指定refの最新コミットSHAを取得します
// refが空の場合はリポジトリのデフォルトブランチを使用します
func (f *Fetcher) LatestCommitSHA(ctx context.Context, repoFullName, ref string) (string, error) {
	if ref == "" {
		branch, err := f.defaultBranch(ctx, repoFullName)
		if err != nil {
			return "", err
		}
		ref = branch
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	endpoint := fmt.Sprintf("/repos/%s/commits/%s", repoFullName, url.PathEscape(ref))
	if err := f.getJSON(ctx, endpoint, &commit); err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	return commit.SHA, nil
}

// FetchFiles は指定コミットのツリーを走査し、対象ファイルの内容を取得します
// commitSHAは解決済みのSHAを想定し、ここでは追加のref解決を行いません
func (f *Fetcher) FetchFiles(ctx context.Context, repoFullName, commitSHA string) ([]*indexing.RepoFile, error) {
	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			Size int    `json:"size"`
		} `json:"tree"`
		Truncated bool `json:"truncated"`
	}
	endpoint := fmt.Sprintf("/repos/%s/git/trees/%s?recursive=1", repoFullName, commitSHA)
	if err := f.getJSON(ctx, endpoint, &tree); err != nil {
		return nil, fmt.Errorf("failed to get repository tree: %w", err)
	}

	var targets []string
	for _, entry := range tree.Tree {
		if entry.Type != "blob" {
			continue
		}
		if !f.shouldIndex(entry.Path, entry.Size) {
			continue
		}
		targets = append(targets, entry.Path)
	}

	var (
		mu    sync.Mutex
		files []*indexing.RepoFile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, filePath := range targets {
		g.Go(func() error {
			content, err := f.fetchContent(gctx, repoFullName, filePath, commitSHA)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", filePath, err)
			}

			mu.Lock()
			files = append(files, indexing.NewRepoFile(filePath, content))
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// FetchPullRequests は更新日時の新しい順にPRを取得します
// 変更ファイル一覧も合わせて取得します
func (f *Fetcher) FetchPullRequests(ctx context.Context, repoFullName string, limit int) ([]*pipeline.PullRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var raw []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		State  string `json:"state"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	endpoint := fmt.Sprintf("/repos/%s/pulls?state=all&sort=updated&direction=desc&per_page=%d", repoFullName, limit)
	if err := f.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}

	prs := make([]*pipeline.PullRequest, 0, len(raw))
	for _, item := range raw {
		pr := &pipeline.PullRequest{
			Number: item.Number,
			Title:  item.Title,
			Body:   item.Body,
			Author: item.User.Login,
			State:  item.State,
		}

		var files []struct {
			Filename string `json:"filename"`
		}
		filesEndpoint := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=100", repoFullName, item.Number)
		if err := f.getJSON(ctx, filesEndpoint, &files); err != nil {
			return nil, fmt.Errorf("failed to list files for PR #%d: %w", item.Number, err)
		}
		for _, file := range files {
			pr.FilesChanged = append(pr.FilesChanged, file.Filename)
		}

		prs = append(prs, pr)
	}

	return prs, nil
}

// shouldIndex はパスとサイズからインデックス対象かどうかを判定します
func (f *Fetcher) shouldIndex(filePath string, size int) bool {
	if size > f.maxFileSize {
		return false
	}
	for _, prefix := range f.excludes {
		if strings.HasPrefix(filePath, prefix) || strings.Contains(filePath, "/"+prefix) {
			return false
		}
	}
	_, ok := f.extensions[path.Ext(filePath)]
	return ok
}

// defaultBranch はリポジトリのデフォルトブランチ名を取得します
func (f *Fetcher) defaultBranch(ctx context.Context, repoFullName string) (string, error) {
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := f.getJSON(ctx, "/repos/"+repoFullName, &repo); err != nil {
		return "", fmt.Errorf("failed to get repository info: %w", err)
	}
	if repo.DefaultBranch == "" {
		return "main", nil
	}
	return repo.DefaultBranch, nil
}

// fetchContent はファイル内容を取得してデコードします
func (f *Fetcher) fetchContent(ctx context.Context, repoFullName, filePath, ref string) (string, error) {
	var content struct {
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	endpoint := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repoFullName, escapePath(filePath), ref)
	if err := f.getJSON(ctx, endpoint, &content); err != nil {
		return "", err
	}

	if content.Encoding != "base64" {
		return content.Content, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode content: %w", err)
	}
	return string(decoded), nil
}

// getJSON はGETリクエストを発行してレスポンスをデコードします
func (f *Fetcher) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// escapePath はパス区切りを保ったままURLエスケープします
func escapePath(filePath string) string {
	parts := strings.Split(filePath, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

var _ pipeline.CodeHost = (*Fetcher)(nil)
