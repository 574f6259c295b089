package indexing

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRepo はRepositoryのインメモリ実装(テスト用)
type memoryRepo struct {
	files  map[string]*FileRecord
	chunks map[string]*CodeChunk
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		files:  make(map[string]*FileRecord),
		chunks: make(map[string]*CodeChunk),
	}
}

func fileKey(repoID uuid.UUID, pathHash string) string {
	return repoID.String() + "/" + pathHash
}

func chunkKey(repoID uuid.UUID, pathHash string, index int) string {
	return fmt.Sprintf("%s/%s/%d", repoID, pathHash, index)
}

func (r *memoryRepo) GetFileRecord(ctx context.Context, repoID uuid.UUID, pathHash string) (mo.Option[*FileRecord], error) {
	if record, ok := r.files[fileKey(repoID, pathHash)]; ok {
		return mo.Some(record), nil
	}
	return mo.None[*FileRecord](), nil
}

func (r *memoryRepo) ListFileRecords(ctx context.Context, repoID uuid.UUID) (map[string]*FileRecord, error) {
	records := make(map[string]*FileRecord)
	for _, record := range r.files {
		if record.RepoID == repoID {
			records[record.Path] = record
		}
	}
	return records, nil
}

func (r *memoryRepo) UpsertFileRecord(ctx context.Context, record *FileRecord) error {
	r.files[fileKey(record.RepoID, record.PathHash)] = record
	return nil
}

func (r *memoryRepo) DeleteFile(ctx context.Context, repoID uuid.UUID, pathHash string) error {
	delete(r.files, fileKey(repoID, pathHash))
	for key, chunk := range r.chunks {
		if chunk.RepoID == repoID && chunk.PathHash == pathHash {
			delete(r.chunks, key)
		}
	}
	return nil
}

func (r *memoryRepo) GetChunk(ctx context.Context, repoID uuid.UUID, pathHash string, chunkIndex int) (mo.Option[*CodeChunk], error) {
	if chunk, ok := r.chunks[chunkKey(repoID, pathHash, chunkIndex)]; ok {
		return mo.Some(chunk), nil
	}
	return mo.None[*CodeChunk](), nil
}

func (r *memoryRepo) UpsertChunk(ctx context.Context, chunk *CodeChunk) error {
	r.chunks[chunkKey(chunk.RepoID, chunk.PathHash, chunk.ChunkIndex)] = chunk
	return nil
}

func (r *memoryRepo) UpdateChunkCommitSHA(ctx context.Context, repoID uuid.UUID, pathHash string, chunkIndex int, commitSHA string) error {
	if chunk, ok := r.chunks[chunkKey(repoID, pathHash, chunkIndex)]; ok {
		chunk.CommitSHA = commitSHA
	}
	return nil
}

func (r *memoryRepo) DeleteChunksFrom(ctx context.Context, repoID uuid.UUID, pathHash string, fromIndex int) error {
	for key, chunk := range r.chunks {
		if chunk.RepoID == repoID && chunk.PathHash == pathHash && chunk.ChunkIndex >= fromIndex {
			delete(r.chunks, key)
		}
	}
	return nil
}

func (r *memoryRepo) CountFileChunks(ctx context.Context, repoID uuid.UUID, pathHash string) (int, error) {
	count := 0
	for _, chunk := range r.chunks {
		if chunk.RepoID == repoID && chunk.PathHash == pathHash {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) GetRepoStats(ctx context.Context, repoID uuid.UUID) (*RepoStats, error) {
	stats := &RepoStats{}
	for _, record := range r.files {
		if record.RepoID == repoID {
			stats.FileCount++
		}
	}
	for _, chunk := range r.chunks {
		if chunk.RepoID == repoID {
			stats.ChunkCount++
		}
	}
	return stats, nil
}

// hashEmbedder はテキストのハッシュから決定的なベクトルを生成するEmbedder
type hashEmbedder struct {
	batchCalls int
	failBatch  int // 1始まりで指定されたバッチだけ失敗させる(0は無効)
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *hashEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls++
	if e.failBatch > 0 && e.batchCalls == e.failBatch {
		return nil, fmt.Errorf("embedding service unavailable")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vector := make([]float32, 4)
		for j := range vector {
			vector[j] = float32(sum[j]) / 255
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (e *hashEmbedder) ModelName() string { return "hash-embedder" }
func (e *hashEmbedder) Dimension() int    { return 4 }
func (e *hashEmbedder) MaxBatchSize() int { return 100 }

func makePending(path string, count int) []*PendingChunk {
	pathHash := HashContent(path)
	pending := make([]*PendingChunk, count)
	for i := range pending {
		content := fmt.Sprintf("chunk %d of %s", i, path)
		pending[i] = &PendingChunk{
			Path:      path,
			PathHash:  pathHash,
			Index:     i,
			Hash:      HashContent(content),
			StartLine: i*10 + 1,
			EndLine:   i*10 + 10,
			Content:   content,
		}
	}
	return pending
}

func TestEmbeddingIndexer_FirstRunEmbedsAllChunks(t *testing.T) {
	repo := newMemoryRepo()
	embedder := &hashEmbedder{}
	indexer := NewEmbeddingIndexer(repo, embedder)
	repoID := uuid.New()

	pending := makePending("main.go", 5)
	stats, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)

	require.NoError(t, err)
	assert.Equal(t, 5, stats.NewChunks)
	assert.Equal(t, 0, stats.UnchangedChunks)
	assert.Empty(t, stats.Errors)

	for _, chunk := range pending {
		stored, err := repo.GetChunk(context.Background(), repoID, chunk.PathHash, chunk.Index)
		require.NoError(t, err)
		record, ok := stored.Get()
		require.True(t, ok)
		assert.Equal(t, chunk.Hash, record.ChunkHash)
		assert.Equal(t, "commit-1", record.CommitSHA)
		assert.Len(t, record.Embedding, 4)
	}
}

func TestEmbeddingIndexer_SecondRunSkipsUnchangedChunks(t *testing.T) {
	repo := newMemoryRepo()
	embedder := &hashEmbedder{}
	indexer := NewEmbeddingIndexer(repo, embedder)
	repoID := uuid.New()

	pending := makePending("main.go", 5)
	_, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)
	require.NoError(t, err)

	callsAfterFirst := embedder.batchCalls

	stats, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.NewChunks)
	assert.Equal(t, 5, stats.UnchangedChunks)
	// 未変更チャンクに対して埋め込みAPIは呼ばれない
	assert.Equal(t, callsAfterFirst, embedder.batchCalls)
}

func TestEmbeddingIndexer_UnchangedChunkRefreshesCommitSHA(t *testing.T) {
	repo := newMemoryRepo()
	indexer := NewEmbeddingIndexer(repo, &hashEmbedder{})
	repoID := uuid.New()

	pending := makePending("main.go", 1)
	_, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)
	require.NoError(t, err)

	_, err = indexer.IndexChunks(context.Background(), repoID, "commit-2", pending)
	require.NoError(t, err)

	stored, err := repo.GetChunk(context.Background(), repoID, pending[0].PathHash, 0)
	require.NoError(t, err)
	record, ok := stored.Get()
	require.True(t, ok)
	assert.Equal(t, "commit-2", record.CommitSHA)
}

func TestEmbeddingIndexer_BatchFailureDoesNotAbortRemainingBatches(t *testing.T) {
	repo := newMemoryRepo()
	embedder := &hashEmbedder{failBatch: 1}
	indexer := NewEmbeddingIndexer(repo, embedder, WithBatchSize(2))
	repoID := uuid.New()

	pending := makePending("main.go", 5)
	stats, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)

	require.NoError(t, err)
	// 最初のバッチ(2件)だけ失敗し、残り3件は成功する
	assert.Equal(t, 3, stats.NewChunks)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "バッチ 1")
}

func TestEmbeddingIndexer_ChangedChunkIsReembedded(t *testing.T) {
	repo := newMemoryRepo()
	embedder := &hashEmbedder{}
	indexer := NewEmbeddingIndexer(repo, embedder)
	repoID := uuid.New()

	pending := makePending("main.go", 2)
	_, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)
	require.NoError(t, err)

	// 1チャンクだけ内容を変える
	pending[1].Content = "updated content"
	pending[1].Hash = HashContent(pending[1].Content)

	stats, err := indexer.IndexChunks(context.Background(), repoID, "commit-2", pending)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewChunks)
	assert.Equal(t, 1, stats.UnchangedChunks)
}

func TestEmbeddingIndexer_DeleteFileChunksRemovesRecords(t *testing.T) {
	repo := newMemoryRepo()
	indexer := NewEmbeddingIndexer(repo, &hashEmbedder{})
	repoID := uuid.New()

	pending := makePending("main.go", 3)
	_, err := indexer.IndexChunks(context.Background(), repoID, "commit-1", pending)
	require.NoError(t, err)

	require.NoError(t, indexer.DeleteFileChunks(context.Background(), repoID, pending[0].PathHash))

	stored, err := repo.GetChunk(context.Background(), repoID, pending[0].PathHash, 0)
	require.NoError(t, err)
	assert.True(t, stored.IsAbsent())
}
