package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/models"
)

func newTestIndex(t *testing.T, h http.HandlerFunc) *CollegeIndex {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewCollegeIndex(es, "colleges")
}

func TestIndexCollege(t *testing.T) {
	var path string
	var doc map[string]interface{}
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})

	err := idx.IndexCollege(context.Background(), &models.College{
		ID:        "c-1",
		Name:      "  Green Valley   College ",
		Status:    models.CollegeStatusProspective,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "/colleges/_doc/c-1", path)
	assert.Equal(t, "green valley college", doc["name_normalized"])
	assert.Equal(t, "green valley", doc["name_stripped"])
	assert.Equal(t, "PROSPECTIVE", doc["status"])
}

func TestIndexCollege_ErrorStatus(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{}`)
	})

	err := idx.IndexCollege(context.Background(), &models.College{ID: "c-1", Name: "X"})
	std, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSearchQueryFailed, std.Code)
}

func TestFindCollegeCandidates(t *testing.T) {
	var body string
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/colleges/_search"))
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_source":{"id":"c-1","name":"Green Valley College","status":"ACTIVE","created_at":"2026-01-01T00:00:00Z"}},
			{"_source":{"id":"c-2","name":"Green Valley Institute","status":"PROSPECTIVE","created_at":"2026-02-01T00:00:00Z"}}
		]}}`)
	})

	got, err := idx.FindCollegeCandidates(context.Background(), "green valley college", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, models.CollegeStatusActive, got[0].Status)
	assert.Contains(t, body, `"name_normalized.keyword":"green valley college"`)
	assert.Contains(t, body, `"size":10`)
}

func TestFindCollegeCandidates_RanksEveryTier(t *testing.T) {
	var query map[string]interface{}
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		_, _ = io.WriteString(w, `{"hits":{"hits":[]}}`)
	})

	_, err := idx.FindCollegeCandidates(context.Background(), "hitech academy", 50)
	require.NoError(t, err)

	raw, err := json.Marshal(query)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `"name_normalized.keyword":"hitech academy"`)
	assert.Contains(t, body, `"name_stripped":"hitech"`)
	assert.Contains(t, body, `"value":"*hitech*"`)
	// a stored "tech" is a substring of the query and must be reachable
	assert.Contains(t, body, `"tech"`)
	assert.Contains(t, body, `"itech"`)

	sort := query["sort"].([]interface{})
	require.Len(t, sort, 3)
	assert.Equal(t, map[string]interface{}{"_score": "desc"}, sort[0])
	assert.Equal(t, map[string]interface{}{"created_at": "asc"}, sort[1])
}

func TestFindCollegeCandidates_ShortNameSkipsSubstringClauses(t *testing.T) {
	var body string
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		_, _ = io.WriteString(w, `{"hits":{"hits":[]}}`)
	})

	_, err := idx.FindCollegeCandidates(context.Background(), "mit", 50)
	require.NoError(t, err)
	assert.NotContains(t, body, "wildcard")
	assert.NotContains(t, body, `"terms"`)
}

func TestFindCollegeCandidates_BlankSkipsSearch(t *testing.T) {
	called := false
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	got, err := idx.FindCollegeCandidates(context.Background(), "", 10)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, called)
}

func TestFindCollegeCandidates_MissingIndex(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception"}}`)
	})

	_, err := idx.FindCollegeCandidates(context.Background(), "green valley", 10)
	std, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeIndexNotFound, std.Code)
}
