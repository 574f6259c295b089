package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/dev-trace/internal/core/indexing"
	"github.com/jinford/dev-trace/internal/core/indexing/chunk"
	"github.com/jinford/dev-trace/internal/core/trace"
)

const (
	// DefaultWorkers はファイル処理・PR抽出の並行ワーカー数
	// コードホスト側のレート制限を考慮して控えめにする
	DefaultWorkers = 5

	// DefaultFetchTimeout はソース取得段階のタイムアウト
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultPRLimit はトレーサビリティ抽出対象のPR数のデフォルト上限
	DefaultPRLimit = 100

	// DefaultDocFileLimit はドキュメント生成対象ファイル数のデフォルト上限
	DefaultDocFileLimit = 20
)

// Orchestrator はインデックスパイプラインの全段階を順に実行する
// 段階は fetch → chunk → embed → generate_doc → link_doc_code →
// extract_traceability → complete の順で進み、個別アイテムの失敗は
// エラーリストに蓄積して処理を継続する。構造的な失敗(ソースに
// 到達できない等)のみが実行全体をfailedにする
type Orchestrator struct {
	host         CodeHost
	repo         indexing.Repository
	indexer      *indexing.EmbeddingIndexer
	detector     *indexing.ChangeDetector
	chunker      chunk.Chunker
	fallback     chunk.Chunker
	links        *trace.LinkService
	teamKeys     TeamKeyProvider
	docGen       DocGenerator
	docStore     DocStore
	embedder     indexing.Embedder
	workers      int
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// OrchestratorOption はOrchestratorのオプション設定関数
type OrchestratorOption func(*Orchestrator)

// WithChunker は優先的に使用するチャンカーを設定する
func WithChunker(chunker chunk.Chunker) OrchestratorOption {
	return func(o *Orchestrator) {
		if chunker != nil {
			o.chunker = chunker
		}
	}
}

// WithTeamKeyProvider はチームキープロバイダを設定する
func WithTeamKeyProvider(provider TeamKeyProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		o.teamKeys = provider
	}
}

// WithDocGeneration はドキュメント生成に必要な依存を設定する
func WithDocGeneration(generator DocGenerator, store DocStore, embedder indexing.Embedder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.docGen = generator
		o.docStore = store
		o.embedder = embedder
	}
}

// WithWorkers は並行ワーカー数を設定する
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithFetchTimeout はソース取得のタイムアウトを設定する
func WithFetchTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.fetchTimeout = timeout
		}
	}
}

// WithOrchestratorLogger はロガーを設定する
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator はOrchestratorを作成する
// 意味単位チャンカーが設定されていない場合は行ウィンドウチャンカーに
// フォールバックする
func NewOrchestrator(host CodeHost, repo indexing.Repository, indexer *indexing.EmbeddingIndexer, links *trace.LinkService, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		host:         host,
		repo:         repo,
		indexer:      indexer,
		detector:     indexing.NewChangeDetector(),
		fallback:     chunk.NewLineWindowChunker(chunk.DefaultWindowLines),
		links:        links,
		workers:      DefaultWorkers,
		fetchTimeout: DefaultFetchTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chunker == nil {
		o.chunker = o.fallback
	}
	return o
}

// savedDoc はドキュメント生成段階の出力をリンク段階に引き継ぐ
type savedDoc struct {
	id       uuid.UUID
	pathHash string
}

// Run はパイプラインを実行し、集計結果を返す
// 構造的な失敗の場合は success=false の結果とエラーの両方を返す
func (o *Orchestrator) Run(ctx context.Context, workspaceID, repoID uuid.UUID, repoFullName string, opts Options, onProgress ProgressFunc) (*Result, error) {
	if opts.PRLimit <= 0 {
		opts.PRLimit = DefaultPRLimit
	}
	if opts.DocFileLimit <= 0 {
		opts.DocFileLimit = DefaultDocFileLimit
	}

	state := newRunState(onProgress)
	o.logger.Info("pipeline started",
		slog.String("repo", repoFullName),
		slog.String("repoID", repoID.String()),
	)

	// === FETCH ===
	state.setStage(StageFetch)

	commitSHA, toProcess, err := o.fetch(ctx, repoID, repoFullName, opts.Ref, state)
	if err != nil {
		return o.fail(state, repoFullName, commitSHA, err)
	}

	// === CHUNK ===
	state.setStage(StageChunk)

	pending, err := o.chunkFiles(ctx, repoID, toProcess, state)
	if err != nil {
		return o.fail(state, repoFullName, commitSHA, err)
	}

	// === EMBED ===
	state.setStage(StageEmbed)

	stats, err := o.indexer.IndexChunks(ctx, repoID, commitSHA, pending)
	if err != nil {
		return o.fail(state, repoFullName, commitSHA, err)
	}
	state.update(func(p *Progress) {
		p.EmbeddedChunks += stats.NewChunks
		p.UnchangedChunks += stats.UnchangedChunks
		p.Errors = append(p.Errors, stats.Errors...)
	})

	// === GENERATE_DOC / LINK_DOC_CODE ===
	if opts.GenerateDocs && o.docGen != nil && o.docStore != nil {
		state.setStage(StageGenerateDoc)
		docs := o.generateDocs(ctx, repoID, toProcess, opts.DocFileLimit, state)
		if err := ctx.Err(); err != nil {
			return o.fail(state, repoFullName, commitSHA, err)
		}

		state.setStage(StageLinkDocCode)
		o.linkDocs(ctx, repoID, docs, state)
	} else {
		state.markSkipped(StageGenerateDoc, StageLinkDocCode)
	}
	if err := ctx.Err(); err != nil {
		return o.fail(state, repoFullName, commitSHA, err)
	}

	// === EXTRACT_TRACEABILITY ===
	// ドキュメント生成の成否に関わらず実行する
	if opts.ExtractTraceability {
		state.setStage(StageExtractTrace)
		if err := o.extractTraceability(ctx, workspaceID, repoFullName, opts.PRLimit, state); err != nil {
			return o.fail(state, repoFullName, commitSHA, err)
		}
	} else {
		state.markSkipped(StageExtractTrace)
	}

	// === COMPLETE ===
	state.complete()

	progress := state.snapshot()
	o.logger.Info("pipeline completed",
		slog.String("repo", repoFullName),
		slog.Int("files", progress.ProcessedFiles),
		slog.Int("chunks", progress.TotalChunks),
		slog.Int("links", progress.LinksCreated),
		slog.Int("errors", len(progress.Errors)),
	)

	return &Result{
		Success:           true,
		RepoFullName:      repoFullName,
		CommitSHA:         commitSHA,
		FilesProcessed:    progress.ProcessedFiles,
		DocsCreated:       progress.DocsGenerated,
		TraceabilityLinks: progress.LinksCreated,
		Errors:            progress.Errors,
		Progress:          progress,
	}, nil
}

// fetch はソース取得と変更検出を行い、コミットSHAと処理対象ファイルを返す
// ここでの失敗は全て構造的失敗として扱う
func (o *Orchestrator) fetch(ctx context.Context, repoID uuid.UUID, repoFullName, ref string, state *runState) (string, []*indexing.RepoFile, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	commitSHA, err := o.host.LatestCommitSHA(fetchCtx, repoFullName, ref)
	if err != nil {
		return "", nil, fmt.Errorf("コミットSHAの取得に失敗しました: %w", err)
	}

	files, err := o.host.FetchFiles(fetchCtx, repoFullName, commitSHA)
	if err != nil {
		return commitSHA, nil, fmt.Errorf("ファイル一覧の取得に失敗しました: %w", err)
	}
	if len(files) == 0 {
		return commitSHA, nil, fmt.Errorf("リポジトリにインデックス対象のファイルがありません: %s", repoFullName)
	}

	indexed, err := o.repo.ListFileRecords(ctx, repoID)
	if err != nil {
		return commitSHA, nil, fmt.Errorf("インデックス済みファイルの取得に失敗しました: %w", err)
	}

	cls := o.detector.Classify(files, indexed)

	for _, record := range cls.Deleted {
		if err := o.indexer.DeleteFileChunks(ctx, repoID, record.PathHash); err != nil {
			state.addError(fmt.Sprintf("%s: 削除に失敗: %v", record.Path, err))
			continue
		}
		state.update(func(p *Progress) { p.DeletedFiles++ })
	}

	toProcess := cls.ToProcess()
	state.update(func(p *Progress) {
		p.TotalFiles = len(files)
		p.SkippedFiles = len(cls.Unchanged)
	})

	// スキップしたファイルの既存チャンクは未変更として集計する
	// 全ファイル未変更の実行では UnchangedChunks が前回の総チャンク数と一致する
	for _, file := range cls.Unchanged {
		count, err := o.repo.CountFileChunks(ctx, repoID, file.PathHash())
		if err != nil {
			state.addError(fmt.Sprintf("%s: チャンク数の取得に失敗: %v", file.Path, err))
			continue
		}
		state.update(func(p *Progress) { p.UnchangedChunks += count })
	}

	o.logger.Info("change detection completed",
		slog.Int("new", len(cls.New)),
		slog.Int("modified", len(cls.Modified)),
		slog.Int("unchanged", len(cls.Unchanged)),
		slog.Int("deleted", len(cls.Deleted)),
	)

	return commitSHA, toProcess, nil
}

// chunkFiles は対象ファイルを並行してチャンク分割し、埋め込み待ち
// チャンクを集約する。個別ファイルの失敗はエラーリストに記録して続行する
func (o *Orchestrator) chunkFiles(ctx context.Context, repoID uuid.UUID, files []*indexing.RepoFile, state *runState) ([]*indexing.PendingChunk, error) {
	var (
		mu      sync.Mutex
		pending []*indexing.PendingChunk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			chunks, err := o.chunkFile(file)
			if err != nil {
				state.addError(fmt.Sprintf("%s: チャンク分割に失敗: %v", file.Path, err))
				state.update(func(p *Progress) { p.ProcessedFiles++ })
				return nil
			}

			pathHash := file.PathHash()
			record := &indexing.FileRecord{
				RepoID:      repoID,
				PathHash:    pathHash,
				Path:        file.Path,
				ContentHash: file.ContentHash,
				UpdatedAt:   time.Now(),
			}
			if err := o.repo.UpsertFileRecord(gctx, record); err != nil {
				state.addError(fmt.Sprintf("%s: ファイルレコードの保存に失敗: %v", file.Path, err))
				state.update(func(p *Progress) { p.ProcessedFiles++ })
				return nil
			}

			// 再分割でチャンク数が減った場合の末尾の残骸を掃除する
			if err := o.repo.DeleteChunksFrom(gctx, repoID, pathHash, len(chunks)); err != nil {
				state.addError(fmt.Sprintf("%s: 旧チャンクの削除に失敗: %v", file.Path, err))
			}

			language := chunk.DetectLanguage(file.Path, file.Content)

			mu.Lock()
			for _, c := range chunks {
				pending = append(pending, &indexing.PendingChunk{
					Path:      file.Path,
					PathHash:  pathHash,
					Index:     c.Index,
					Hash:      c.Hash,
					StartLine: c.StartLine,
					EndLine:   c.EndLine,
					Language:  language,
					Content:   c.Content,
				})
			}
			mu.Unlock()

			state.update(func(p *Progress) {
				p.ProcessedFiles++
				p.TotalChunks += len(chunks)
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pending, nil
}

// chunkFile は1ファイルをチャンク分割する
// 優先チャンカーがpanicした場合は行ウィンドウ分割にフォールバックする
func (o *Orchestrator) chunkFile(file *indexing.RepoFile) (chunks []*chunk.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunker panic: %v", r)
		}
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Warn("semantic chunker failed, falling back",
					slog.String("path", file.Path),
					slog.Any("reason", r),
				)
				chunks = nil
			}
		}()
		chunks = o.chunker.Chunk(file.Content, file.Path)
	}()

	if chunks == nil && strings.TrimSpace(file.Content) != "" {
		chunks = o.fallback.Chunk(file.Content, file.Path)
	}
	return chunks, nil
}

// generateDocs は処理対象ファイルの先頭から上限数までドキュメントを
// 生成して保存する。個別の失敗は記録して続行する
func (o *Orchestrator) generateDocs(ctx context.Context, repoID uuid.UUID, files []*indexing.RepoFile, limit int, state *runState) []*savedDoc {
	if len(files) > limit {
		files = files[:limit]
	}

	var docs []*savedDoc
	for _, file := range files {
		if ctx.Err() != nil {
			return docs
		}

		language := chunk.DetectLanguage(file.Path, file.Content)
		doc, err := o.docGen.GenerateDoc(ctx, file.Path, language, file.Content)
		if err != nil {
			state.addError(fmt.Sprintf("%s: ドキュメント生成に失敗: %v", file.Path, err))
			continue
		}

		var embedding []float32
		if o.embedder != nil {
			embedding, err = o.embedder.Embed(ctx, doc.Content)
			if err != nil {
				state.addError(fmt.Sprintf("%s: ドキュメント埋め込みに失敗: %v", file.Path, err))
				embedding = nil
			}
		}

		docID, err := o.docStore.SaveDoc(ctx, repoID, file.Path, doc.Title, doc.Content, embedding)
		if err != nil {
			state.addError(fmt.Sprintf("%s: ドキュメント保存に失敗: %v", file.Path, err))
			continue
		}

		docs = append(docs, &savedDoc{id: docID, pathHash: file.PathHash()})
		state.update(func(p *Progress) { p.DocsGenerated++ })
	}
	return docs
}

// linkDocs は保存済みドキュメントを同一ファイルのチャンク群に対応付ける
func (o *Orchestrator) linkDocs(ctx context.Context, repoID uuid.UUID, docs []*savedDoc, state *runState) {
	for _, doc := range docs {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.docStore.LinkDocToChunks(ctx, doc.id, repoID, doc.pathHash); err != nil {
			state.addError(fmt.Sprintf("ドキュメントリンクの作成に失敗: %v", err))
		}
	}
}

// extractTraceability はPRからリンクを抽出して保存する
// PR一覧の取得失敗は構造的失敗ではなく、エラー記録のみで完了に進む
func (o *Orchestrator) extractTraceability(ctx context.Context, workspaceID uuid.UUID, repoFullName string, prLimit int, state *runState) error {
	var keys []string
	if o.teamKeys != nil {
		fetched, err := o.teamKeys.TeamKeys(ctx)
		if err != nil {
			state.addError(fmt.Sprintf("チームキーの取得に失敗: %v", err))
		} else {
			keys = fetched
		}
	}
	extractor := trace.NewExtractor(keys)

	prs, err := o.host.FetchPullRequests(ctx, repoFullName, prLimit)
	if err != nil {
		state.addError(fmt.Sprintf("PR一覧の取得に失敗: %v", err))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, pr := range prs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result := extractor.ExtractFromPR(repoFullName, pr.Number, pr.Title, pr.Body, pr.FilesChanged)
			if len(result.Links) == 0 {
				return nil
			}

			stored, err := o.links.Store(gctx, workspaceID, result.Links)
			if err != nil {
				return err
			}
			state.update(func(p *Progress) { p.LinksCreated += stored })
			return nil
		})
	}

	return g.Wait()
}

// fail はパイプラインを失敗状態で終了させる
func (o *Orchestrator) fail(state *runState, repoFullName, commitSHA string, err error) (*Result, error) {
	state.addError(err.Error())
	state.setStage(StageFailed)
	state.finish()

	progress := state.snapshot()
	o.logger.Error("pipeline failed",
		slog.String("repo", repoFullName),
		slog.String("stage", string(progress.Stage)),
		slog.String("error", err.Error()),
	)

	return &Result{
		Success:           false,
		RepoFullName:      repoFullName,
		CommitSHA:         commitSHA,
		FilesProcessed:    progress.ProcessedFiles,
		DocsCreated:       progress.DocsGenerated,
		TraceabilityLinks: progress.LinksCreated,
		Errors:            progress.Errors,
		Progress:          progress,
	}, err
}

// === runState ===

// runState は進捗カウンタと通知コールバックをまとめる
// 複数ワーカーから並行に更新されるためミューテックスで保護する
type runState struct {
	mu         sync.Mutex
	progress   Progress
	onProgress ProgressFunc
}

func newRunState(onProgress ProgressFunc) *runState {
	return &runState{
		progress:   Progress{Stage: StageFetch, StartedAt: time.Now()},
		onProgress: onProgress,
	}
}

// update は進捗を更新し、スナップショットをコールバックに通知する
func (s *runState) update(fn func(p *Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	snapshot := s.progress.clone()
	s.mu.Unlock()

	s.emit(snapshot)
}

func (s *runState) setStage(stage Stage) {
	s.update(func(p *Progress) { p.Stage = stage })
}

func (s *runState) markSkipped(stages ...Stage) {
	s.update(func(p *Progress) { p.SkippedStages = append(p.SkippedStages, stages...) })
}

func (s *runState) addError(msg string) {
	s.update(func(p *Progress) { p.Errors = append(p.Errors, msg) })
}

func (s *runState) complete() {
	s.update(func(p *Progress) {
		p.Stage = StageComplete
		now := time.Now()
		p.CompletedAt = &now
	})
}

func (s *runState) finish() {
	s.update(func(p *Progress) {
		now := time.Now()
		p.CompletedAt = &now
	})
}

func (s *runState) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress.clone()
}

// emit はコールバックを呼び出す。コールバック側のpanicは握りつぶす
func (s *runState) emit(snapshot Progress) {
	if s.onProgress == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.onProgress(snapshot)
}
