package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])

		w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer server.Close()

	client := NewClient(2 * time.Second)
	var out struct {
		ID string `json:"id"`
	}
	err := client.PostJSON(context.Background(), server.URL, map[string]string{"Authorization": "Bearer token"},
		map[string]string{"text": "hello"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "msg-1", out.ID)
}

func TestClient_PostJSON_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid template"}`))
	}))
	defer server.Close()

	err := NewClient(time.Second).PostJSON(context.Background(), server.URL, nil, map[string]string{}, nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "invalid template")
}
