package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/dev-trace/internal/core/trace"
)

// LinkRepository はtrace.RepositoryのPostgreSQL実装です
// リンクの一意性はテーブルの一意制約で保証され、upsertは
// 並行呼び出しに対して原子的です
type LinkRepository struct {
	pool *pgxpool.Pool
}

// NewLinkRepository はLinkRepositoryを初期化します
func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

// UpsertLink はリンクを挿入または更新します
func (r *LinkRepository) UpsertLink(ctx context.Context, workspaceID uuid.UUID, link *trace.TraceabilityLink) error {
	query := `
		INSERT INTO traceability_links (
			workspace_id, source_type, source_id, source_title,
			target_type, target_id, target_title,
			link_type, confidence, evidence
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ON CONSTRAINT uq_traceability_links_identity
		DO UPDATE SET
			source_title = COALESCE(EXCLUDED.source_title, traceability_links.source_title),
			target_title = COALESCE(EXCLUDED.target_title, traceability_links.target_title),
			confidence = EXCLUDED.confidence,
			evidence = EXCLUDED.evidence
	`

	_, err := r.pool.Exec(ctx, query,
		workspaceID, link.SourceType, link.SourceID, link.SourceTitle,
		link.TargetType, link.TargetID, link.TargetTitle,
		link.LinkType, link.Confidence, link.Evidence,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert link: %w", err)
	}
	return nil
}

// ListLinksForArtifact は指定成果物がソースまたはターゲットのリンクを返します
func (r *LinkRepository) ListLinksForArtifact(ctx context.Context, workspaceID uuid.UUID, artifactType trace.ArtifactType, artifactID string) ([]*trace.StoredLink, error) {
	query := `
		SELECT id, workspace_id, source_type, source_id, source_title,
		       target_type, target_id, target_title,
		       link_type, confidence, evidence, created_at
		FROM traceability_links
		WHERE workspace_id = $1
		  AND ((source_type = $2 AND source_id = $3) OR (target_type = $2 AND target_id = $3))
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, workspaceID, artifactType, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	return scanStoredLinks(rows)
}

// ListModifyingPRs はコードファイルをmodifiesリンクで指すPRを返します
func (r *LinkRepository) ListModifyingPRs(ctx context.Context, workspaceID uuid.UUID, codeFileID string) ([]*trace.PRRef, error) {
	query := `
		SELECT DISTINCT source_id, source_title
		FROM traceability_links
		WHERE workspace_id = $1
		  AND source_type = $2
		  AND link_type = $3
		  AND target_type = $4
		  AND target_id = $5
		ORDER BY source_id
	`

	rows, err := r.pool.Query(ctx, query, workspaceID, trace.ArtifactGitHubPR, trace.LinkModifies, trace.ArtifactCodeFile, codeFileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modifying prs: %w", err)
	}
	defer rows.Close()

	var prs []*trace.PRRef
	for rows.Next() {
		var pr trace.PRRef
		if err := rows.Scan(&pr.PRID, &pr.Title); err != nil {
			return nil, fmt.Errorf("failed to scan pr ref: %w", err)
		}
		prs = append(prs, &pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pr refs: %w", err)
	}

	return prs, nil
}

// ListTicketLinksForPR はPRからチケットへのリンクを返します
func (r *LinkRepository) ListTicketLinksForPR(ctx context.Context, workspaceID uuid.UUID, prID string) ([]*trace.StoredLink, error) {
	query := `
		SELECT id, workspace_id, source_type, source_id, source_title,
		       target_type, target_id, target_title,
		       link_type, confidence, evidence, created_at
		FROM traceability_links
		WHERE workspace_id = $1
		  AND source_type = $2
		  AND source_id = $3
		  AND target_type = $4
		  AND link_type = ANY($5)
		ORDER BY target_id
	`

	ticketLinkTypes := []string{string(trace.LinkImplements), string(trace.LinkFixes), string(trace.LinkCloses)}

	rows, err := r.pool.Query(ctx, query, workspaceID, trace.ArtifactGitHubPR, prID, trace.ArtifactLinearIssue, ticketLinkTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket links: %w", err)
	}
	defer rows.Close()

	return scanStoredLinks(rows)
}

// CountLinks はワークスペース内のリンク総数を返します
func (r *LinkRepository) CountLinks(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM traceability_links WHERE workspace_id = $1`, workspaceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count links: %w", err)
	}
	return count, nil
}

func scanStoredLinks(rows pgx.Rows) ([]*trace.StoredLink, error) {
	var links []*trace.StoredLink
	for rows.Next() {
		var link trace.StoredLink
		err := rows.Scan(
			&link.ID, &link.WorkspaceID, &link.SourceType, &link.SourceID, &link.SourceTitle,
			&link.TargetType, &link.TargetID, &link.TargetTitle,
			&link.LinkType, &link.Confidence, &link.Evidence, &link.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate links: %w", err)
	}
	return links, nil
}
