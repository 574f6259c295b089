package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findLink(links []*TraceabilityLink, targetID string, linkType LinkType) *TraceabilityLink {
	for _, link := range links {
		if link.TargetID == targetID && link.LinkType == linkType {
			return link
		}
	}
	return nil
}

func TestExtractor_TitleReferenceScoresHigherThanBody(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromPR("acme/app", 42,
		"ENG-42: fix auth bug",
		"Closes ENG-42\n\nAlso touches ENG-99 for context",
		nil,
	)

	require.Contains(t, result.TicketRefs, "ENG-42")
	require.Contains(t, result.TicketRefs, "ENG-99")

	// タイトルに現れた参照はfixesキーワードと高い確信度を持つ
	titleLink := findLink(result.Links, "ENG-42", LinkFixes)
	require.NotNil(t, titleLink)
	assert.GreaterOrEqual(t, titleLink.Confidence, 0.9)
	assert.Equal(t, ArtifactGitHubPR, titleLink.SourceType)
	assert.Equal(t, "acme/app#42", titleLink.SourceID)
	assert.Equal(t, ArtifactLinearIssue, titleLink.TargetType)

	// 本文のみの参照は低い確信度になる
	bodyLink := findLink(result.Links, "ENG-99", LinkFixes)
	require.NotNil(t, bodyLink)
	assert.Equal(t, ConfidenceBodyRef, bodyLink.Confidence)
}

func TestExtractor_TeamKeysScopeTicketMatching(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromPR("acme/app", 1,
		"OPS-7 and ENG-8 mentioned",
		"",
		nil,
	)

	assert.Equal(t, []string{"ENG-8"}, result.TicketRefs)
}

func TestExtractor_TeamKeysMatchCaseInsensitively(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromPR("acme/app", 1, "eng-15: cleanup", "", nil)

	// 出力は大文字に正規化される
	assert.Equal(t, []string{"ENG-15"}, result.TicketRefs)
}

func TestExtractor_GenericPatternWithoutTeamKeys(t *testing.T) {
	extractor := NewExtractor(nil)

	result := extractor.ExtractFromPR("acme/app", 1,
		"ABC-123 and XY-9",
		"",
		nil,
	)

	assert.ElementsMatch(t, []string{"ABC-123", "XY-9"}, result.TicketRefs)
}

func TestExtractor_LinkTypePriorityOrder(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	// fixesはclosesより優先される
	both := extractor.ExtractFromPR("acme/app", 1, "ENG-1", "fixes and closes this", nil)
	require.Len(t, both.Links, 1)
	assert.Equal(t, LinkFixes, both.Links[0].LinkType)

	closes := extractor.ExtractFromPR("acme/app", 2, "ENG-2", "closes the issue", nil)
	require.Len(t, closes.Links, 1)
	assert.Equal(t, LinkCloses, closes.Links[0].LinkType)

	// どちらのキーワードも無ければimplements
	plain := extractor.ExtractFromPR("acme/app", 3, "ENG-3: add feature", "", nil)
	require.Len(t, plain.Links, 1)
	assert.Equal(t, LinkImplements, plain.Links[0].LinkType)
}

func TestExtractor_FilesChangedProduceModifiesLinks(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromPR("acme/app", 7,
		"refactor",
		"",
		[]string{"src/auth.py", "src/db.py"},
	)

	require.Len(t, result.Links, 2)
	for _, link := range result.Links {
		assert.Equal(t, LinkModifies, link.LinkType)
		// 差分由来のリンクは常に確信度1.0
		assert.Equal(t, ConfidenceFilesChanged, link.Confidence)
		assert.Equal(t, ArtifactCodeFile, link.TargetType)
	}
	assert.Equal(t, "acme/app:src/auth.py", result.Links[0].TargetID)
}

func TestExtractor_BodyFileMentionScoresLower(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromPR("acme/app", 7,
		"docs",
		"See `src/auth.py` for details",
		nil,
	)

	// 自由テキスト中のファイル言及はdiscussesとして低い確信度で記録する
	require.Len(t, result.Links, 1)
	assert.Equal(t, LinkDiscusses, result.Links[0].LinkType)
	assert.Equal(t, ConfidenceFileMention, result.Links[0].Confidence)
	assert.Equal(t, []string{"src/auth.py"}, result.FileRefs)
}

func TestExtractor_ChangedFilesNotDuplicatedAsDiscusses(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromPR("acme/app", 7,
		"fix",
		"Updated src/auth.py to handle tokens",
		[]string{"src/auth.py"},
	)

	// 差分に含まれるファイルはmodifiesのみでdiscussesは作らない
	require.Len(t, result.Links, 1)
	assert.Equal(t, LinkModifies, result.Links[0].LinkType)
}

func TestExtractor_FilePathNotMatchedMidWord(t *testing.T) {
	extractor := NewExtractor(nil)

	result := extractor.ExtractFromMessage("C1:1", "checkmain.gooseberry is not a file")

	assert.Empty(t, result.FileRefs)
}

func TestExtractor_MessageTicketsAreDiscusses(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromMessage("C042:1726000000.000100", "ENG-42のデプロイ、今日中に出せそう？")

	require.Len(t, result.Links, 1)
	link := result.Links[0]
	assert.Equal(t, ArtifactSlackMessage, link.SourceType)
	assert.Equal(t, "C042:1726000000.000100", link.SourceID)
	assert.Equal(t, LinkDiscusses, link.LinkType)
	assert.Equal(t, "ENG-42", link.TargetID)
	assert.Equal(t, ConfidenceBodyRef, link.Confidence)
}

func TestExtractor_CommitMessageLinks(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	result := extractor.ExtractFromCommit("acme/app", "abc1234",
		"Fix token refresh\n\nResolves ENG-77")

	require.Len(t, result.Links, 1)
	link := result.Links[0]
	assert.Equal(t, ArtifactGitHubCommit, link.SourceType)
	assert.Equal(t, "acme/app@abc1234", link.SourceID)
	assert.Equal(t, LinkFixes, link.LinkType)
	assert.Equal(t, "ENG-77", link.TargetID)
	require.NotNil(t, link.SourceTitle)
	assert.Equal(t, "Fix token refresh", *link.SourceTitle)
}

func TestExtractor_DeterministicAcrossCalls(t *testing.T) {
	extractor := NewExtractor([]string{"ENG"})

	first := extractor.ExtractFromPR("acme/app", 42, "ENG-42: fix auth bug", "Closes ENG-42", nil)
	second := extractor.ExtractFromPR("acme/app", 42, "ENG-42: fix auth bug", "Closes ENG-42", nil)

	require.Equal(t, len(first.Links), len(second.Links))
	for i := range first.Links {
		assert.Equal(t, *first.Links[i], *second.Links[i])
	}
}
