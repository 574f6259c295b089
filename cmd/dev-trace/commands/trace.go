package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-trace/internal/core/trace"
	"github.com/jinford/dev-trace/internal/infra/postgres"
)

// TraceChainAction はファイル → PR → チケットの連鎖を表示するコマンドのアクション
func TraceChainAction(ctx context.Context, cmd *cli.Command) error {
	workspaceID, err := uuid.Parse(cmd.String("workspace"))
	if err != nil {
		return fmt.Errorf("ワークスペースIDが不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	service := trace.NewLinkService(postgres.NewLinkRepository(appCtx.Database.Pool), appCtx.Logger)

	entries, err := service.Chain(ctx, workspaceID, cmd.String("repo"), cmd.String("path"))
	if err != nil {
		return fmt.Errorf("連鎖の取得に失敗: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("このファイルを変更したPRは見つかりませんでした")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("PR", "Title", "Ticket", "Link Type", "Evidence")

	for _, entry := range entries {
		title := ""
		if entry.PRTitle != nil {
			title = *entry.PRTitle
		}
		if len(entry.Tickets) == 0 {
			table.Append(entry.PRID, truncateString(title, 40), "-", "-", "-")
			continue
		}
		for _, ticket := range entry.Tickets {
			table.Append(
				entry.PRID,
				truncateString(title, 40),
				ticket.TicketID,
				string(ticket.LinkType),
				truncateString(ticket.Evidence, 50),
			)
		}
	}

	table.Render()
	return nil
}

// TraceLinksAction は成果物に関係するリンクを表示するコマンドのアクション
func TraceLinksAction(ctx context.Context, cmd *cli.Command) error {
	workspaceID, err := uuid.Parse(cmd.String("workspace"))
	if err != nil {
		return fmt.Errorf("ワークスペースIDが不正です: %w", err)
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	service := trace.NewLinkService(postgres.NewLinkRepository(appCtx.Database.Pool), appCtx.Logger)

	links, err := service.LinksFor(ctx, workspaceID, trace.ArtifactType(cmd.String("type")), cmd.String("id"))
	if err != nil {
		return fmt.Errorf("リンクの取得に失敗: %w", err)
	}

	if len(links) == 0 {
		fmt.Println("リンクは見つかりませんでした")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Source", "Link Type", "Target", "Confidence", "Created At")

	for _, link := range links {
		table.Append(
			fmt.Sprintf("%s:%s", link.SourceType, truncateString(link.SourceID, 40)),
			string(link.LinkType),
			fmt.Sprintf("%s:%s", link.TargetType, truncateString(link.TargetID, 40)),
			fmt.Sprintf("%.2f", link.Confidence),
			link.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
	return nil
}
