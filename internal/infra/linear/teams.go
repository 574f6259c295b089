package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEndpoint = "https://api.linear.app/graphql"

	requestTimeout = 15 * time.Second
)

const teamsQuery = `query { teams { nodes { key } } }`

// TeamKeyClient はLinear GraphQL APIからチームキーを取得する
// pipeline.TeamKeyProvider実装
// チームキーはチケット参照抽出のスコープ絞り込みに使われる
type TeamKeyClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// TeamKeyClientOption はTeamKeyClientのオプション設定関数
type TeamKeyClientOption func(*TeamKeyClient)

// WithEndpoint はGraphQLエンドポイントを上書きします
func WithEndpoint(endpoint string) TeamKeyClientOption {
	return func(c *TeamKeyClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// NewTeamKeyClient はTeamKeyClientを作成する
func NewTeamKeyClient(apiKey string, opts ...TeamKeyClientOption) *TeamKeyClient {
	c := &TeamKeyClient{
		httpClient: &http.Client{Timeout: requestTimeout},
		endpoint:   defaultEndpoint,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TeamKeys はワークスペース内の全チームのキー一覧を返す
func (c *TeamKeyClient) TeamKeys(ctx context.Context) ([]string, error) {
	payload, err := json.Marshal(map[string]string{"query": teamsQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Data struct {
			Teams struct {
				Nodes []struct {
					Key string `json:"key"`
				} `json:"nodes"`
			} `json:"teams"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", decoded.Errors[0].Message)
	}

	keys := make([]string, 0, len(decoded.Data.Teams.Nodes))
	for _, node := range decoded.Data.Teams.Nodes {
		if node.Key != "" {
			keys = append(keys, strings.ToUpper(node.Key))
		}
	}
	return keys, nil
}
