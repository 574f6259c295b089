package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-trace/internal/core/search"
	"github.com/jinford/dev-trace/internal/infra/openai"
	"github.com/jinford/dev-trace/internal/infra/postgres"
)

// SearchAction はコードチャンクを意味検索するコマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	repoID, err := uuid.Parse(cmd.String("repo-id"))
	if err != nil {
		return fmt.Errorf("リポジトリIDが不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	embedder := openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
	)

	service := search.NewService(embedder, postgres.NewSearchRepository(appCtx.Database.Pool), appCtx.Logger)

	results, err := service.Search(ctx, repoID, cmd.String("query"), int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("検索に失敗: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("該当するチャンクは見つかりませんでした")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Path", "Lines", "Score", "Commit")

	for _, result := range results {
		table.Append(
			truncateString(result.Path, 60),
			fmt.Sprintf("%d-%d", result.StartLine, result.EndLine),
			fmt.Sprintf("%.3f", result.Score),
			truncateString(result.CommitSHA, 10),
		)
	}

	table.Render()
	return nil
}
