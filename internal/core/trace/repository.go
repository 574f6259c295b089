package trace

import (
	"context"

	"github.com/google/uuid"
)

// Repository はトレーサビリティリンクの永続化インターフェース
type Repository interface {
	// UpsertLink はリンクを挿入または更新する
	// (workspaceID, sourceType, sourceID, targetType, targetID, linkType) を
	// 一意キーとし、衝突時はconfidence/evidence/タイトルを上書きする
	// 同一キーへの並行呼び出しに対して原子的でなければならない
	UpsertLink(ctx context.Context, workspaceID uuid.UUID, link *TraceabilityLink) error

	// ListLinksForArtifact は指定成果物がソースまたはターゲットとして
	// 現れる全リンクを返す
	ListLinksForArtifact(ctx context.Context, workspaceID uuid.UUID, artifactType ArtifactType, artifactID string) ([]*StoredLink, error)

	// ListModifyingPRs はコードファイルをmodifiesリンクで指すPRの一覧を返す
	ListModifyingPRs(ctx context.Context, workspaceID uuid.UUID, codeFileID string) ([]*PRRef, error)

	// ListTicketLinksForPR はPRをソースとするチケット向けリンク
	// (implements/fixes/closes)の一覧を返す
	ListTicketLinksForPR(ctx context.Context, workspaceID uuid.UUID, prID string) ([]*StoredLink, error)

	// CountLinks はワークスペース内のリンク総数を返す
	CountLinks(ctx context.Context, workspaceID uuid.UUID) (int, error)
}
