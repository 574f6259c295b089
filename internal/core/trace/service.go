package trace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// LinkService はリンクの保存と照会を提供する
// トレーサビリティはベストエフォートの付加情報であり、
// 個々のリンク保存の失敗はバッチ全体を止めない
type LinkService struct {
	repo   Repository
	logger *slog.Logger
}

// NewLinkService はLinkServiceを作成する
func NewLinkService(repo Repository, logger *slog.Logger) *LinkService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkService{repo: repo, logger: logger}
}

// Store はリンク群を保存し、保存に成功した件数を返す
// 個々のupsert失敗はログに記録してスキップする
func (s *LinkService) Store(ctx context.Context, workspaceID uuid.UUID, links []*TraceabilityLink) (int, error) {
	stored := 0
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		if err := s.repo.UpsertLink(ctx, workspaceID, link); err != nil {
			s.logger.Warn("link upsert failed",
				slog.String("source", string(link.SourceType)+":"+link.SourceID),
				slog.String("target", string(link.TargetType)+":"+link.TargetID),
				slog.String("linkType", string(link.LinkType)),
				slog.String("error", err.Error()),
			)
			continue
		}
		stored++
	}
	return stored, nil
}

// LinksFor は指定成果物に関係する全リンクを返す
func (s *LinkService) LinksFor(ctx context.Context, workspaceID uuid.UUID, artifactType ArtifactType, artifactID string) ([]*StoredLink, error) {
	links, err := s.repo.ListLinksForArtifact(ctx, workspaceID, artifactType, artifactID)
	if err != nil {
		return nil, fmt.Errorf("リンクの取得に失敗しました: %w", err)
	}
	return links, nil
}

// Chain はコードファイルからPR、PRからチケットへと2ホップで辿った
// 連鎖を返す。1つのPRが複数ファイル・複数チケットに繋がる構造を
// そのまま保持する
func (s *LinkService) Chain(ctx context.Context, workspaceID uuid.UUID, repoFullName, filePath string) ([]*ChainEntry, error) {
	codeFileID := fmt.Sprintf("%s:%s", repoFullName, filePath)

	prs, err := s.repo.ListModifyingPRs(ctx, workspaceID, codeFileID)
	if err != nil {
		return nil, fmt.Errorf("変更PRの取得に失敗しました: %w", err)
	}

	entries := make([]*ChainEntry, 0, len(prs))
	for _, pr := range prs {
		links, err := s.repo.ListTicketLinksForPR(ctx, workspaceID, pr.PRID)
		if err != nil {
			return nil, fmt.Errorf("チケットリンクの取得に失敗しました: %w", err)
		}

		entry := &ChainEntry{PRID: pr.PRID, PRTitle: pr.Title}
		for _, link := range links {
			entry.Tickets = append(entry.Tickets, &ChainTicket{
				TicketID: link.TargetID,
				Title:    link.TargetTitle,
				LinkType: link.LinkType,
				Evidence: link.Evidence,
			})
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
