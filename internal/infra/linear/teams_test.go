package linear

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamKeys_ReturnsUppercasedKeys(t *testing.T) {
	var gotAuth string
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotQuery = body.Query

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"teams":{"nodes":[{"key":"eng"},{"key":"OPS"},{"key":""}]}}}`))
	}))
	defer server.Close()

	client := NewTeamKeyClient("lin_api_test", WithEndpoint(server.URL))

	keys, err := client.TeamKeys(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"ENG", "OPS"}, keys)
	assert.Equal(t, "lin_api_test", gotAuth)
	assert.Contains(t, gotQuery, "teams")
}

func TestTeamKeys_SurfacesGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"認証に失敗しました"}]}`))
	}))
	defer server.Close()

	client := NewTeamKeyClient("bad-key", WithEndpoint(server.URL))

	_, err := client.TeamKeys(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "認証に失敗しました")
}

func TestTeamKeys_SurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewTeamKeyClient("key", WithEndpoint(server.URL))

	_, err := client.TeamKeys(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
