package trace

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactType はリンクの端点となる成果物の種別を表す
type ArtifactType string

const (
	ArtifactLinearIssue  ArtifactType = "linear_issue"
	ArtifactGitHubPR     ArtifactType = "github_pr"
	ArtifactGitHubCommit ArtifactType = "github_commit"
	ArtifactSlackMessage ArtifactType = "slack_message"
	ArtifactCodeFile     ArtifactType = "code_file"
)

// LinkType は成果物間の関係の種別を表す
type LinkType string

const (
	LinkImplements LinkType = "implements"
	LinkFixes      LinkType = "fixes"
	LinkCloses     LinkType = "closes"
	LinkModifies   LinkType = "modifies"
	LinkMentions   LinkType = "mentions"
	LinkDiscusses  LinkType = "discusses"
)

// TraceabilityLink は2つの成果物間の有向リンクを表す
// (SourceType, SourceID, TargetType, TargetID, LinkType) の5つ組で
// 一意に識別される。同じ組への再保存は上書きになる
type TraceabilityLink struct {
	SourceType  ArtifactType `json:"sourceType"`
	SourceID    string       `json:"sourceID"`
	SourceTitle *string      `json:"sourceTitle,omitempty"`
	TargetType  ArtifactType `json:"targetType"`
	TargetID    string       `json:"targetID"`
	TargetTitle *string      `json:"targetTitle,omitempty"`
	LinkType    LinkType     `json:"linkType"`
	Confidence  float64      `json:"confidence"`
	Evidence    string       `json:"evidence"`
}

// StoredLink は永続化済みのリンクを表す
type StoredLink struct {
	ID          uuid.UUID    `json:"id"`
	WorkspaceID uuid.UUID    `json:"workspaceID"`
	SourceType  ArtifactType `json:"sourceType"`
	SourceID    string       `json:"sourceID"`
	SourceTitle *string      `json:"sourceTitle,omitempty"`
	TargetType  ArtifactType `json:"targetType"`
	TargetID    string       `json:"targetID"`
	TargetTitle *string      `json:"targetTitle,omitempty"`
	LinkType    LinkType     `json:"linkType"`
	Confidence  float64      `json:"confidence"`
	Evidence    string       `json:"evidence"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// ExtractionResult は1つの成果物からのリンク抽出結果を表す
type ExtractionResult struct {
	Links      []*TraceabilityLink `json:"links"`
	TicketRefs []string            `json:"ticketRefs"`
	FileRefs   []string            `json:"fileRefs"`
}

// ChainTicket はチェーン照会で得られるチケット側の端点を表す
type ChainTicket struct {
	TicketID string   `json:"ticketID"`
	Title    *string  `json:"title,omitempty"`
	LinkType LinkType `json:"linkType"`
	Evidence string   `json:"evidence"`
}

// ChainEntry はコードファイルから辿ったPR→チケットの連鎖1件を表す
type ChainEntry struct {
	PRID    string         `json:"prID"`
	PRTitle *string        `json:"prTitle,omitempty"`
	Tickets []*ChainTicket `json:"tickets"`
}

// PRRef はコードファイルを変更したPRへの参照を表す
type PRRef struct {
	PRID  string  `json:"prID"`
	Title *string `json:"title,omitempty"`
}
