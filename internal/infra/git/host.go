package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	ignore "github.com/sabhiram/go-gitignore"
	giturls "github.com/whilp/git-urls"

	"github.com/jinford/dev-trace/internal/core/indexing"
	"github.com/jinford/dev-trace/internal/core/pipeline"
)

// maxFileSize を超えるファイルはインデックス対象から除外する
const maxFileSize = 500_000

// indexableExtensions はインデックス対象とする拡張子
var indexableExtensions = map[string]struct{}{
	".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".go": {},
	".rs": {}, ".java": {}, ".rb": {}, ".php": {}, ".c": {}, ".cpp": {},
	".h": {}, ".sql": {}, ".yaml": {}, ".yml": {}, ".json": {}, ".md": {},
}

// LocalHost はローカルクローンを使用するpipeline.CodeHost実装
// リポジトリをcloneDir配下にクローンし、ワークツリーを開かずに
// コミットツリーから直接ファイルを読む
// PR取得はサポートしない(常に空を返す)
type LocalHost struct {
	cloneDir    string
	remoteURL   string
	sshKeyPath  string
	sshPassword string
}

// NewLocalHost はLocalHostを作成する
// remoteURLが空の場合、repoFullNameをクローン済みディレクトリ名として扱う
func NewLocalHost(cloneDir, remoteURL, sshKeyPath, sshPassword string) *LocalHost {
	return &LocalHost{
		cloneDir:    cloneDir,
		remoteURL:   remoteURL,
		sshKeyPath:  sshKeyPath,
		sshPassword: sshPassword,
	}
}

// LatestCommitSHA は指定refの最新コミットSHAを取得する
func (h *LocalHost) LatestCommitSHA(ctx context.Context, repoFullName, ref string) (string, error) {
	repo, err := h.open(ctx, repoFullName)
	if err != nil {
		return "", err
	}

	hash, err := resolveRef(repo, ref)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// FetchFiles は指定コミットのツリーを走査して対象ファイルを取得する
// リポジトリ直下の.gitignoreに一致するパスは除外する
func (h *LocalHost) FetchFiles(ctx context.Context, repoFullName, commitSHA string) ([]*indexing.RepoFile, error) {
	repo, err := h.open(ctx, repoFullName)
	if err != nil {
		return nil, err
	}

	hash, err := resolveRef(repo, commitSHA)
	if err != nil {
		return nil, err
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	matcher := loadIgnoreMatcher(tree)

	var files []*indexing.RepoFile
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !shouldIndex(f.Name, matcher) {
			return nil
		}
		if f.Size > maxFileSize {
			return nil
		}

		content, err := f.Contents()
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", f.Name, err)
		}

		files = append(files, indexing.NewRepoFile(f.Name, content))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}

	return files, nil
}

// FetchPullRequests はローカルGitにはPRの概念がないため常に空を返す
func (h *LocalHost) FetchPullRequests(ctx context.Context, repoFullName string, limit int) ([]*pipeline.PullRequest, error) {
	return nil, nil
}

// open はクローン済みリポジトリを開く
// remoteURLが設定されていて未クローンの場合はクローンし、
// クローン済みの場合はフェッチで最新化する
func (h *LocalHost) open(ctx context.Context, repoFullName string) (*git.Repository, error) {
	repoPath, err := h.repoPath(repoFullName)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(filepath.Join(repoPath, ".git")); os.IsNotExist(statErr) {
		if h.remoteURL == "" {
			return nil, fmt.Errorf("repository not cloned and no remote URL configured: %s", repoPath)
		}
		return h.clone(ctx, repoPath)
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	if h.remoteURL != "" {
		if err := h.fetch(ctx, repo); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (h *LocalHost) clone(ctx context.Context, repoPath string) (*git.Repository, error) {
	auth, err := h.sshAuth()
	if err != nil {
		return nil, err
	}

	repo, err := git.PlainCloneContext(ctx, repoPath, false, &git.CloneOptions{
		URL:      h.remoteURL,
		Auth:     auth,
		Progress: io.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}
	return repo, nil
}

func (h *LocalHost) fetch(ctx context.Context, repo *git.Repository) error {
	auth, err := h.sshAuth()
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		Auth:     auth,
		Progress: io.Discard,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	return nil
}

// repoPath はリモートURLまたはリポジトリ名からクローン先パスを導出する
func (h *LocalHost) repoPath(repoFullName string) (string, error) {
	if h.remoteURL == "" {
		return filepath.Join(h.cloneDir, filepath.FromSlash(repoFullName)), nil
	}

	u, err := giturls.Parse(h.remoteURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}
	repoName := strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git")

	return filepath.Join(h.cloneDir, hostname, filepath.FromSlash(repoName)), nil
}

func (h *LocalHost) sshAuth() (*ssh.PublicKeys, error) {
	if h.sshKeyPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(h.sshKeyPath); os.IsNotExist(err) {
		return nil, nil
	}

	auth, err := ssh.NewPublicKeysFromFile("git", h.sshKeyPath, h.sshPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return auth, nil
}

// resolveRef はブランチ・リモートブランチ・タグ・コミットSHAの順にrefを解決する
// refが空またはHEADの場合は現在のHEADを使う
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if ref == "" || ref == "HEAD" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		return head.Hash(), nil
	}

	if branchRef, err := repo.Reference(plumbing.NewBranchReferenceName(ref), true); err == nil {
		return branchRef.Hash(), nil
	}
	if remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", ref), true); err == nil {
		return remoteRef.Hash(), nil
	}
	if tagRef, err := repo.Reference(plumbing.NewTagReferenceName(ref), true); err == nil {
		return tagRef.Hash(), nil
	}

	hash := plumbing.NewHash(ref)
	if !hash.IsZero() {
		if _, err := repo.CommitObject(hash); err == nil {
			return hash, nil
		}
	}

	return plumbing.ZeroHash, fmt.Errorf("failed to resolve ref: %s", ref)
}

// loadIgnoreMatcher はコミットツリー直下の.gitignoreを読み込む
// 存在しない、または読めない場合はnilを返す
func loadIgnoreMatcher(tree *object.Tree) *ignore.GitIgnore {
	file, err := tree.File(".gitignore")
	if err != nil {
		return nil
	}

	content, err := file.Contents()
	if err != nil {
		return nil
	}

	return ignore.CompileIgnoreLines(strings.Split(content, "\n")...)
}

func shouldIndex(filePath string, matcher *ignore.GitIgnore) bool {
	if matcher != nil && matcher.MatchesPath(filePath) {
		return false
	}
	_, ok := indexableExtensions[path.Ext(filePath)]
	return ok
}

var _ pipeline.CodeHost = (*LocalHost)(nil)
