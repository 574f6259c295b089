package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-trace/internal/core/indexing"
	"github.com/jinford/dev-trace/internal/core/indexing/chunk"
	"github.com/jinford/dev-trace/internal/core/pipeline"
	"github.com/jinford/dev-trace/internal/core/trace"
	"github.com/jinford/dev-trace/internal/infra/git"
	"github.com/jinford/dev-trace/internal/infra/github"
	"github.com/jinford/dev-trace/internal/infra/linear"
	"github.com/jinford/dev-trace/internal/infra/openai"
	"github.com/jinford/dev-trace/internal/infra/postgres"
	"github.com/jinford/dev-trace/pkg/config"
)

// DBMigrateAction はスキーマを適用するコマンドのアクション
func DBMigrateAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := postgres.Migrate(ctx, appCtx.Database.Pool); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	appCtx.Logger.Info("migration completed")
	return nil
}

// IndexRunAction はパイプラインを実行するコマンドのアクション
func IndexRunAction(ctx context.Context, cmd *cli.Command) error {
	workspaceID, err := uuid.Parse(cmd.String("workspace"))
	if err != nil {
		return fmt.Errorf("ワークスペースIDが不正です: %w", err)
	}
	repoID, err := uuid.Parse(cmd.String("repo-id"))
	if err != nil {
		return fmt.Errorf("リポジトリIDが不正です: %w", err)
	}
	repoFullName := cmd.String("repo")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config

	host, err := buildHost(cfg, cmd.String("source"), cmd.String("url"))
	if err != nil {
		return err
	}

	embedder := openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
	)

	indexRepo := postgres.NewIndexRepository(appCtx.Database.Pool)
	indexer := indexing.NewEmbeddingIndexer(indexRepo, embedder,
		indexing.WithBatchSize(cfg.Pipeline.EmbeddingBatchSize),
		indexing.WithRateLimit(cfg.Pipeline.EmbeddingRateLimit),
		indexing.WithLogger(appCtx.Logger),
	)

	linkService := trace.NewLinkService(postgres.NewLinkRepository(appCtx.Database.Pool), appCtx.Logger)

	semantic, err := chunk.NewSemanticChunker(chunk.DefaultMaxTokens)
	if err != nil {
		return fmt.Errorf("チャンカーの初期化に失敗: %w", err)
	}

	opts := []pipeline.OrchestratorOption{
		pipeline.WithChunker(semantic),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithOrchestratorLogger(appCtx.Logger),
	}
	if cfg.Linear.APIKey != "" {
		opts = append(opts, pipeline.WithTeamKeyProvider(linear.NewTeamKeyClient(cfg.Linear.APIKey)))
	}
	if cmd.Bool("docs") {
		opts = append(opts, pipeline.WithDocGeneration(
			openai.NewDocGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.DocModel),
			postgres.NewDocRepository(appCtx.Database.Pool),
			embedder,
		))
	}

	orchestrator := pipeline.NewOrchestrator(host, indexRepo, indexer, linkService, opts...)

	// 同じリポジトリへの多重実行を防ぐ
	repoLock := postgres.NewRepoLock(appCtx.Database.Pool, repoID)
	acquired, err := repoLock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("ロックの取得に失敗: %w", err)
	}
	if !acquired {
		return fmt.Errorf("リポジトリ %s は別のプロセスがインデックス中です", repoFullName)
	}
	defer func() {
		if err := repoLock.Release(context.WithoutCancel(ctx)); err != nil {
			appCtx.Logger.Warn("failed to release repo lock", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	result, err := orchestrator.Run(ctx, workspaceID, repoID, repoFullName, pipeline.Options{
		Ref:                 cmd.String("ref"),
		GenerateDocs:        cmd.Bool("docs"),
		ExtractTraceability: cmd.Bool("trace"),
		DocFileLimit:        cfg.Pipeline.DocFileLimit,
		PRLimit:             cfg.Pipeline.PRLimit,
	}, func(p pipeline.Progress) {
		appCtx.Logger.Debug("pipeline progress",
			slog.String("stage", string(p.Stage)),
			slog.Int("processedFiles", p.ProcessedFiles),
			slog.Int("embeddedChunks", p.EmbeddedChunks),
			slog.Int("linksCreated", p.LinksCreated),
		)
	})
	if err != nil {
		return fmt.Errorf("パイプラインの実行に失敗: %w", err)
	}

	fmt.Printf("インデックス完了: %s (%s)\n", result.RepoFullName, time.Since(start).Round(time.Second))
	fmt.Printf("  コミット: %s\n", result.CommitSHA)
	fmt.Printf("  処理ファイル数: %d (スキップ: %d)\n", result.FilesProcessed, result.Progress.SkippedFiles)
	fmt.Printf("  チャンク数: %d (新規埋め込み: %d, 未変更: %d)\n",
		result.Progress.TotalChunks, result.Progress.EmbeddedChunks, result.Progress.UnchangedChunks)
	fmt.Printf("  生成ドキュメント数: %d\n", result.DocsCreated)
	fmt.Printf("  トレーサビリティリンク数: %d\n", result.TraceabilityLinks)
	if len(result.Errors) > 0 {
		fmt.Printf("  エラー: %d件\n", len(result.Errors))
		for _, msg := range result.Errors {
			fmt.Printf("    - %s\n", truncateString(msg, 120))
		}
	}

	return nil
}

// IndexStatsAction はインデックス統計を表示するコマンドのアクション
func IndexStatsAction(ctx context.Context, cmd *cli.Command) error {
	repoID, err := uuid.Parse(cmd.String("repo-id"))
	if err != nil {
		return fmt.Errorf("リポジトリIDが不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := postgres.NewIndexRepository(appCtx.Database.Pool).GetRepoStats(ctx, repoID)
	if err != nil {
		return fmt.Errorf("統計の取得に失敗: %w", err)
	}

	fmt.Printf("ファイル数: %d\n", stats.FileCount)
	fmt.Printf("チャンク数: %d\n", stats.ChunkCount)
	if stats.LastIndexedAt != nil {
		fmt.Printf("最終インデックス: %s\n", stats.LastIndexedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// buildHost はソース種別に応じたCodeHostを構築する
func buildHost(cfg *config.Config, source, url string) (pipeline.CodeHost, error) {
	switch source {
	case "github":
		var opts []github.FetcherOption
		if cfg.GitHub.BaseURL != "" {
			opts = append(opts, github.WithBaseURL(cfg.GitHub.BaseURL))
		}
		return github.NewFetcher(cfg.GitHub.Token, opts...), nil
	case "local":
		return git.NewLocalHost(cfg.Git.CloneDir, url, cfg.Git.SSHKeyPath, cfg.Git.SSHPassword), nil
	default:
		return nil, fmt.Errorf("未知のソース種別です: %s", source)
	}
}
