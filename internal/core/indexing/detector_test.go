package indexing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeDetector_ClassifyPartitionsAllFiles(t *testing.T) {
	detector := NewChangeDetector()
	repoID := uuid.New()

	unchanged := NewRepoFile("keep.go", "package keep\n")
	modified := NewRepoFile("change.go", "package change // v2\n")
	added := NewRepoFile("new.go", "package new\n")

	indexed := map[string]*FileRecord{
		"keep.go": {
			RepoID:      repoID,
			PathHash:    unchanged.PathHash(),
			Path:        "keep.go",
			ContentHash: unchanged.ContentHash,
		},
		"change.go": {
			RepoID:      repoID,
			PathHash:    modified.PathHash(),
			Path:        "change.go",
			ContentHash: HashContent("package change // v1\n"),
		},
		"gone.go": {
			RepoID:      repoID,
			PathHash:    HashContent("gone.go"),
			Path:        "gone.go",
			ContentHash: HashContent("package gone\n"),
		},
	}

	result := detector.Classify([]*RepoFile{unchanged, modified, added}, indexed)

	require.Len(t, result.New, 1)
	assert.Equal(t, "new.go", result.New[0].Path)
	require.Len(t, result.Modified, 1)
	assert.Equal(t, "change.go", result.Modified[0].Path)
	require.Len(t, result.Unchanged, 1)
	assert.Equal(t, "keep.go", result.Unchanged[0].Path)
	require.Len(t, result.Deleted, 1)
	assert.Equal(t, "gone.go", result.Deleted[0].Path)

	// 全ファイルが必ずいずれか1つのカテゴリに入る
	total := len(result.New) + len(result.Modified) + len(result.Unchanged)
	assert.Equal(t, 3, total)
}

func TestChangeDetector_EmptyIndexMeansAllNew(t *testing.T) {
	detector := NewChangeDetector()

	files := []*RepoFile{
		NewRepoFile("a.go", "package a\n"),
		NewRepoFile("b.go", "package b\n"),
	}

	result := detector.Classify(files, map[string]*FileRecord{})

	assert.Len(t, result.New, 2)
	assert.Empty(t, result.Modified)
	assert.Empty(t, result.Unchanged)
	assert.Empty(t, result.Deleted)
}

func TestChangeDetector_ToProcessCombinesNewAndModified(t *testing.T) {
	cls := &Classification{
		New:      []*RepoFile{NewRepoFile("a.go", "a")},
		Modified: []*RepoFile{NewRepoFile("b.go", "b")},
	}

	files := cls.ToProcess()
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].Path)
	assert.Equal(t, "b.go", files[1].Path)
}

func TestHashContent_IsStableHexDigest(t *testing.T) {
	first := HashContent("hello")
	second := HashContent("hello")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, HashContent("hello "))
}
