package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/dev-trace/cmd/dev-trace/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "dev-trace",
		Usage: "コードインデックスとトレーサビリティリンク抽出パイプライン",
		Commands: []*cli.Command{
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "migrate",
						Usage:  "スキーマを適用",
						Flags:  []cli.Flag{envFlag},
						Action: commands.DBMigrateAction,
					},
				},
			},
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "パイプラインを実行",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "workspace",
								Usage:    "ワークスペースID (UUID)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "repo-id",
								Usage:    "リポジトリID (UUID)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "repo",
								Usage:    "リポジトリ名 (owner/name)",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "ref",
								Usage: "ブランチまたはタグ（省略時はデフォルトブランチ）",
							},
							&cli.StringFlag{
								Name:  "source",
								Usage: "ソース種別 (github または local)",
								Value: "github",
							},
							&cli.StringFlag{
								Name:  "url",
								Usage: "ローカルクローン用のリモートURL",
							},
							&cli.BoolFlag{
								Name:  "docs",
								Usage: "ドキュメント生成を有効化",
							},
							&cli.BoolFlag{
								Name:  "trace",
								Usage: "トレーサビリティ抽出を有効化",
								Value: true,
							},
						},
						Action: commands.IndexRunAction,
					},
					{
						Name:  "stats",
						Usage: "インデックス統計を表示",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "repo-id",
								Usage:    "リポジトリID (UUID)",
								Required: true,
							},
						},
						Action: commands.IndexStatsAction,
					},
				},
			},
			{
				Name:  "trace",
				Usage: "トレーサビリティ照会コマンド",
				Commands: []*cli.Command{
					{
						Name:  "chain",
						Usage: "ファイル → PR → チケットの連鎖を表示",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "workspace",
								Usage:    "ワークスペースID (UUID)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "repo",
								Usage:    "リポジトリ名 (owner/name)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "path",
								Usage:    "コードファイルパス",
								Required: true,
							},
						},
						Action: commands.TraceChainAction,
					},
					{
						Name:  "links",
						Usage: "成果物に関係するリンクを表示",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:     "workspace",
								Usage:    "ワークスペースID (UUID)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "type",
								Usage:    "成果物種別 (linear_issue, github_pr, github_commit, slack_message, code_file)",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "成果物ID",
								Required: true,
							},
						},
						Action: commands.TraceLinksAction,
					},
				},
			},
			{
				Name:  "search",
				Usage: "コードチャンクを意味検索",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:     "repo-id",
						Usage:    "リポジトリID (UUID)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "結果件数",
						Value: 10,
					},
				},
				Action: commands.SearchAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
