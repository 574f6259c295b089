package trace

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLinkRepo はRepositoryのインメモリ実装
// 5つ組キーでupsertの意味論を再現する
type memoryLinkRepo struct {
	links    map[string]*StoredLink
	order    []string
	failKeys map[string]error
}

func newMemoryLinkRepo() *memoryLinkRepo {
	return &memoryLinkRepo{
		links:    make(map[string]*StoredLink),
		failKeys: make(map[string]error),
	}
}

func linkKey(workspaceID uuid.UUID, link *TraceabilityLink) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		workspaceID, link.SourceType, link.SourceID, link.TargetType, link.TargetID, link.LinkType)
}

func (r *memoryLinkRepo) UpsertLink(_ context.Context, workspaceID uuid.UUID, link *TraceabilityLink) error {
	key := linkKey(workspaceID, link)
	if err, ok := r.failKeys[key]; ok {
		return err
	}

	if existing, ok := r.links[key]; ok {
		existing.Confidence = link.Confidence
		existing.Evidence = link.Evidence
		if link.SourceTitle != nil {
			existing.SourceTitle = link.SourceTitle
		}
		if link.TargetTitle != nil {
			existing.TargetTitle = link.TargetTitle
		}
		return nil
	}

	r.links[key] = &StoredLink{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		SourceType:  link.SourceType,
		SourceID:    link.SourceID,
		SourceTitle: link.SourceTitle,
		TargetType:  link.TargetType,
		TargetID:    link.TargetID,
		TargetTitle: link.TargetTitle,
		LinkType:    link.LinkType,
		Confidence:  link.Confidence,
		Evidence:    link.Evidence,
	}
	r.order = append(r.order, key)
	return nil
}

func (r *memoryLinkRepo) ListLinksForArtifact(_ context.Context, workspaceID uuid.UUID, artifactType ArtifactType, artifactID string) ([]*StoredLink, error) {
	var out []*StoredLink
	for _, key := range r.order {
		link := r.links[key]
		if link.WorkspaceID != workspaceID {
			continue
		}
		if (link.SourceType == artifactType && link.SourceID == artifactID) ||
			(link.TargetType == artifactType && link.TargetID == artifactID) {
			out = append(out, link)
		}
	}
	return out, nil
}

func (r *memoryLinkRepo) ListModifyingPRs(_ context.Context, workspaceID uuid.UUID, codeFileID string) ([]*PRRef, error) {
	seen := make(map[string]struct{})
	var out []*PRRef
	for _, key := range r.order {
		link := r.links[key]
		if link.WorkspaceID != workspaceID || link.LinkType != LinkModifies {
			continue
		}
		if link.SourceType != ArtifactGitHubPR || link.TargetType != ArtifactCodeFile || link.TargetID != codeFileID {
			continue
		}
		if _, ok := seen[link.SourceID]; ok {
			continue
		}
		seen[link.SourceID] = struct{}{}
		out = append(out, &PRRef{PRID: link.SourceID, Title: link.SourceTitle})
	}
	return out, nil
}

func (r *memoryLinkRepo) ListTicketLinksForPR(_ context.Context, workspaceID uuid.UUID, prID string) ([]*StoredLink, error) {
	var out []*StoredLink
	for _, key := range r.order {
		link := r.links[key]
		if link.WorkspaceID != workspaceID || link.SourceID != prID {
			continue
		}
		if link.SourceType != ArtifactGitHubPR || link.TargetType != ArtifactLinearIssue {
			continue
		}
		switch link.LinkType {
		case LinkImplements, LinkFixes, LinkCloses:
			out = append(out, link)
		}
	}
	return out, nil
}

func (r *memoryLinkRepo) CountLinks(_ context.Context, workspaceID uuid.UUID) (int, error) {
	count := 0
	for _, link := range r.links {
		if link.WorkspaceID == workspaceID {
			count++
		}
	}
	return count, nil
}

func strPtr(s string) *string { return &s }

func TestLinkService_StoreCountsOnlySuccesses(t *testing.T) {
	repo := newMemoryLinkRepo()
	service := NewLinkService(repo, nil)
	workspaceID := uuid.New()

	links := []*TraceabilityLink{
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#1", TargetType: ArtifactLinearIssue, TargetID: "ENG-1", LinkType: LinkFixes, Confidence: 0.9},
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#1", TargetType: ArtifactLinearIssue, TargetID: "ENG-2", LinkType: LinkImplements, Confidence: 0.7},
	}
	repo.failKeys[linkKey(workspaceID, links[1])] = errors.New("boom")

	stored, err := service.Store(context.Background(), workspaceID, links)

	// 個々の失敗はスキップされ、成功件数のみ返る
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	count, err := repo.CountLinks(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLinkService_StoreIsIdempotent(t *testing.T) {
	repo := newMemoryLinkRepo()
	service := NewLinkService(repo, nil)
	workspaceID := uuid.New()

	link := &TraceabilityLink{
		SourceType: ArtifactGitHubPR, SourceID: "acme/app#1",
		TargetType: ArtifactLinearIssue, TargetID: "ENG-1",
		LinkType: LinkFixes, Confidence: 0.7, Evidence: "first",
	}

	for i := 0; i < 2; i++ {
		stored, err := service.Store(context.Background(), workspaceID, []*TraceabilityLink{link})
		require.NoError(t, err)
		assert.Equal(t, 1, stored)
	}

	count, err := repo.CountLinks(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLinkService_StoreStopsOnCancelledContext(t *testing.T) {
	repo := newMemoryLinkRepo()
	service := NewLinkService(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stored, err := service.Store(ctx, uuid.New(), []*TraceabilityLink{
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#1", TargetType: ArtifactLinearIssue, TargetID: "ENG-1", LinkType: LinkFixes},
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stored)
}

func TestLinkService_ChainPreservesPRTicketNesting(t *testing.T) {
	repo := newMemoryLinkRepo()
	service := NewLinkService(repo, nil)
	workspaceID := uuid.New()

	// PR#7はsrc/auth.pyを変更しENG-10をimplements、
	// PR#9は同じファイルを変更しENG-11をfixes
	links := []*TraceabilityLink{
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#7", SourceTitle: strPtr("Add auth"), TargetType: ArtifactCodeFile, TargetID: "acme/app:src/auth.py", LinkType: LinkModifies, Confidence: 1.0},
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#7", SourceTitle: strPtr("Add auth"), TargetType: ArtifactLinearIssue, TargetID: "ENG-10", LinkType: LinkImplements, Confidence: 0.9},
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#9", SourceTitle: strPtr("Fix token leak"), TargetType: ArtifactCodeFile, TargetID: "acme/app:src/auth.py", LinkType: LinkModifies, Confidence: 1.0},
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#9", SourceTitle: strPtr("Fix token leak"), TargetType: ArtifactLinearIssue, TargetID: "ENG-11", LinkType: LinkFixes, Confidence: 0.7},
	}
	stored, err := service.Store(context.Background(), workspaceID, links)
	require.NoError(t, err)
	require.Equal(t, 4, stored)

	entries, err := service.Chain(context.Background(), workspaceID, "acme/app", "src/auth.py")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byPR := make(map[string]*ChainEntry, len(entries))
	for _, entry := range entries {
		byPR[entry.PRID] = entry
	}

	first := byPR["acme/app#7"]
	require.NotNil(t, first)
	require.Len(t, first.Tickets, 1)
	assert.Equal(t, "ENG-10", first.Tickets[0].TicketID)
	assert.Equal(t, LinkImplements, first.Tickets[0].LinkType)

	second := byPR["acme/app#9"]
	require.NotNil(t, second)
	require.Len(t, second.Tickets, 1)
	assert.Equal(t, "ENG-11", second.Tickets[0].TicketID)
	assert.Equal(t, LinkFixes, second.Tickets[0].LinkType)
}

func TestLinkService_ChainIncludesPRsWithoutTickets(t *testing.T) {
	repo := newMemoryLinkRepo()
	service := NewLinkService(repo, nil)
	workspaceID := uuid.New()

	_, err := service.Store(context.Background(), workspaceID, []*TraceabilityLink{
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#3", SourceTitle: strPtr("chore"), TargetType: ArtifactCodeFile, TargetID: "acme/app:README.md", LinkType: LinkModifies, Confidence: 1.0},
	})
	require.NoError(t, err)

	entries, err := service.Chain(context.Background(), workspaceID, "acme/app", "README.md")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "acme/app#3", entries[0].PRID)
	assert.Empty(t, entries[0].Tickets)
}

func TestLinkService_LinksForMatchesEitherEndpoint(t *testing.T) {
	repo := newMemoryLinkRepo()
	service := NewLinkService(repo, nil)
	workspaceID := uuid.New()

	_, err := service.Store(context.Background(), workspaceID, []*TraceabilityLink{
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#1", TargetType: ArtifactLinearIssue, TargetID: "ENG-1", LinkType: LinkFixes, Confidence: 0.9},
		{SourceType: ArtifactSlackMessage, SourceID: "C1:100.1", TargetType: ArtifactLinearIssue, TargetID: "ENG-1", LinkType: LinkDiscusses, Confidence: 0.7},
		{SourceType: ArtifactGitHubPR, SourceID: "acme/app#1", TargetType: ArtifactLinearIssue, TargetID: "ENG-2", LinkType: LinkImplements, Confidence: 0.7},
	})
	require.NoError(t, err)

	links, err := service.LinksFor(context.Background(), workspaceID, ArtifactLinearIssue, "ENG-1")
	require.NoError(t, err)
	require.Len(t, links, 2)

	asSource, err := service.LinksFor(context.Background(), workspaceID, ArtifactGitHubPR, "acme/app#1")
	require.NoError(t, err)
	assert.Len(t, asSource, 2)
}
