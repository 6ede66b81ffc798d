package collegematch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/matching"
	"crm-lead-workers/internal/models"
	"crm-lead-workers/internal/store/inmem"
)

// ==========================
// Test Helpers
// ==========================

type fakeSource struct {
	colleges []models.College
	err      error
	calls    int
}

func (f *fakeSource) FindCollegeCandidates(_ context.Context, _ string, limit int) ([]models.College, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.colleges) > limit {
		return f.colleges[:limit], nil
	}
	return f.colleges, nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.CacheTTL = 5 * time.Minute
	return cfg
}

func cached(t *testing.T, id, name, tier string) []byte {
	data, err := json.Marshal(cachedMatch{CollegeID: id, CollegeName: name, Tier: tier})
	require.NoError(t, err)
	return data
}

// ==========================
// Execute
// ==========================

func TestExecute_CachesOnlyExactMatches(t *testing.T) {
	tests := []struct {
		name         string
		organization string
		colleges     []models.College
		wantID       string
		wantTier     string
		wantCached   bool
	}{
		{
			name:         "exact",
			organization: "  St. Mary's   COLLEGE ",
			colleges:     []models.College{{ID: "c-1", Name: "St. Mary's College"}},
			wantID:       "c-1",
			wantTier:     "exact",
			wantCached:   true,
		},
		{
			name:         "stripped suffix",
			organization: "Acme University",
			colleges:     []models.College{{ID: "c-2", Name: "Acme"}},
			wantID:       "c-2",
			wantTier:     "stripped",
		},
		{
			name:         "substring",
			organization: "Northfield Technical",
			colleges:     []models.College{{ID: "c-3", Name: "Northfield Technical Institute of Design"}},
			wantID:       "c-3",
			wantTier:     "substring",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			source := &fakeSource{colleges: tt.colleges}
			svc := NewService(ServiceDependencies{Source: source, Cache: client, Logger: logger.NewTestLogger(t)}, testConfig())

			key := "college:match:" + matching.Normalize(tt.organization)
			mock.ExpectGet(key).RedisNil()
			if tt.wantCached {
				mock.ExpectSet(key, cached(t, tt.wantID, tt.colleges[0].Name, tt.wantTier), 5*time.Minute).SetVal("OK")
			}

			out, err := svc.Execute(context.Background(), &Input{Organization: tt.organization})
			require.NoError(t, err)

			assert.True(t, out.Matched)
			assert.Equal(t, tt.wantID, out.CollegeID)
			assert.Equal(t, tt.wantTier, out.Tier)
			assert.Equal(t, 1, source.calls)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecute_BetterCollegeCreatedAfterStrippedMatch(t *testing.T) {
	client, mock := redismock.NewClientMock()
	db := inmem.Open()
	db.PutCollege(&models.College{ID: "c-acme", Name: "Acme", CreatedAt: time.Now().Add(-time.Hour)})
	svc := NewService(ServiceDependencies{Source: db, Cache: client, Logger: logger.NewTestLogger(t)}, testConfig())

	mock.ExpectGet("college:match:acme university").RedisNil()

	out, err := svc.Execute(context.Background(), &Input{Organization: "Acme University"})
	require.NoError(t, err)
	assert.Equal(t, "c-acme", out.CollegeID)
	assert.Equal(t, "stripped", out.Tier)

	db.PutCollege(&models.College{ID: "c-acme-u", Name: "Acme University", CreatedAt: time.Now()})
	mock.ExpectGet("college:match:acme university").RedisNil()
	mock.ExpectSet("college:match:acme university", cached(t, "c-acme-u", "Acme University", "exact"), 5*time.Minute).SetVal("OK")

	out, err = svc.Execute(context.Background(), &Input{Organization: "Acme University"})
	require.NoError(t, err)
	assert.Equal(t, "c-acme-u", out.CollegeID)
	assert.Equal(t, "exact", out.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_NonExactCacheEntryFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	db := inmem.Open()
	db.PutCollege(&models.College{ID: "c-acme", Name: "Acme", CreatedAt: time.Now().Add(-time.Hour)})
	db.PutCollege(&models.College{ID: "c-acme-u", Name: "Acme University", CreatedAt: time.Now()})
	svc := NewService(ServiceDependencies{Source: db, Cache: client, Logger: logger.NewTestLogger(t)}, testConfig())

	mock.ExpectGet("college:match:acme university").SetVal(string(cached(t, "c-acme", "Acme", "stripped")))
	mock.ExpectSet("college:match:acme university", cached(t, "c-acme-u", "Acme University", "exact"), 5*time.Minute).SetVal("OK")

	out, err := svc.Execute(context.Background(), &Input{Organization: "Acme University"})
	require.NoError(t, err)

	assert.Equal(t, "c-acme-u", out.CollegeID)
	assert.Equal(t, "exact", out.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_CacheHitSkipsSource(t *testing.T) {
	client, mock := redismock.NewClientMock()
	source := &fakeSource{}
	svc := NewService(ServiceDependencies{Source: source, Cache: client, Logger: logger.NewTestLogger(t)}, testConfig())

	mock.ExpectGet("college:match:green valley college").SetVal(string(cached(t, "c-9", "Green Valley College", "exact")))

	out, err := svc.Execute(context.Background(), &Input{Organization: "Green Valley College"})
	require.NoError(t, err)

	assert.Equal(t, &Output{Matched: true, CollegeID: "c-9", CollegeName: "Green Valley College", Tier: "exact"}, out)
	assert.Zero(t, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_NoMatchIsNotCached(t *testing.T) {
	client, mock := redismock.NewClientMock()
	source := &fakeSource{colleges: []models.College{{ID: "c-1", Name: "Riverside Institute"}}}
	svc := NewService(ServiceDependencies{Source: source, Cache: client, Logger: logger.NewTestLogger(t)}, testConfig())

	mock.ExpectGet("college:match:bright minds academy").RedisNil()

	out, err := svc.Execute(context.Background(), &Input{Organization: "Bright Minds Academy"})
	require.NoError(t, err)

	assert.False(t, out.Matched)
	assert.Equal(t, "none", out.Tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_CacheFailuresAreIgnored(t *testing.T) {
	client, mock := redismock.NewClientMock()
	source := &fakeSource{colleges: []models.College{{ID: "c-1", Name: "Hill School"}}}
	svc := NewService(ServiceDependencies{Source: source, Cache: client, Logger: logger.NewTestLogger(t)}, testConfig())

	mock.ExpectGet("college:match:hill school").SetErr(errors.New("connection refused"))
	mock.ExpectSet("college:match:hill school", cached(t, "c-1", "Hill School", "exact"), 5*time.Minute).
		SetErr(errors.New("connection refused"))

	out, err := svc.Execute(context.Background(), &Input{Organization: "Hill School"})
	require.NoError(t, err)

	assert.Equal(t, "c-1", out.CollegeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_MalformedCacheEntryFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	source := &fakeSource{colleges: []models.College{{ID: "c-1", Name: "Hill School"}}}
	cfg := testConfig()
	cfg.CacheTTL = 0
	svc := NewService(ServiceDependencies{Source: source, Cache: client, Logger: logger.NewTestLogger(t)}, cfg)

	mock.ExpectGet("college:match:hill school").SetVal("{")

	out, err := svc.Execute(context.Background(), &Input{Organization: "Hill School"})
	require.NoError(t, err)

	assert.Equal(t, "c-1", out.CollegeID)
	assert.Equal(t, 1, source.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_BlankOrganization(t *testing.T) {
	source := &fakeSource{}
	svc := NewService(ServiceDependencies{Source: source, Logger: logger.NewTestLogger(t)}, testConfig())

	out, err := svc.Execute(context.Background(), &Input{Organization: " \t "})
	require.NoError(t, err)

	assert.False(t, out.Matched)
	assert.Zero(t, source.calls)
}

func TestExecute_SourceFailure(t *testing.T) {
	svc := NewService(ServiceDependencies{
		Source: &fakeSource{err: errors.New("statement timeout")},
		Logger: logger.NewTestLogger(t),
	}, testConfig())

	_, err := svc.Execute(context.Background(), &Input{Organization: "Hill School"})

	std, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDatabaseQueryFailed, std.Code)
	assert.True(t, std.Retryable)
}

func TestExecute_SearchErrorsPassThrough(t *testing.T) {
	svc := NewService(ServiceDependencies{
		Source: &fakeSource{err: apperrors.NewIndexNotFoundError("colleges")},
		Logger: logger.NewTestLogger(t),
	}, testConfig())

	_, err := svc.Execute(context.Background(), &Input{Organization: "Hill School"})

	std, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeIndexNotFound, std.Code)
}

func TestExecute_InMemoryStoreSource(t *testing.T) {
	db := inmem.Open()
	db.PutCollege(&models.College{ID: "c-1", Name: "Acme", CreatedAt: time.Now()})
	svc := NewService(ServiceDependencies{Source: db, Logger: logger.NewTestLogger(t)}, testConfig())

	out, err := svc.Execute(context.Background(), &Input{Organization: "ACME Corporation"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", out.CollegeID)
	assert.Equal(t, "stripped", out.Tier)
}
