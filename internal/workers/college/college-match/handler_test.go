package collegematch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-lead-workers/internal/common/config"
	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/logger"
)

func TestHandler_NewHandler(t *testing.T) {
	_, err := NewHandler(HandlerOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "candidate source")

	_, err = NewHandler(HandlerOptions{Source: &fakeSource{}, CustomConfig: &Config{Enabled: true, MaxJobsActive: 1, Timeout: time.Second}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_candidates")

	h, err := NewHandler(HandlerOptions{Source: &fakeSource{}, Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)
	assert.Equal(t, "college.match", h.GetTaskType())
}

func TestCreateConfigFromAppConfig(t *testing.T) {
	cfg := createConfigFromAppConfig(&config.Config{
		Workers: map[string]config.WorkerConfig{
			"college-match": {Enabled: true, MaxJobsActive: 3, Timeout: 2000},
		},
		Search: config.SearchConfig{MaxCandidates: 25, MatchCacheTTL: 60000},
	}, nil)

	assert.Equal(t, &Config{
		Enabled:       true,
		MaxJobsActive: 3,
		Timeout:       2 * time.Second,
		MaxCandidates: 25,
		CacheTTL:      time.Minute,
	}, cfg)
}

func TestHandler_ParseInput(t *testing.T) {
	h, err := NewHandler(HandlerOptions{Source: &fakeSource{}, Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)

	tests := []struct {
		name      string
		variables map[string]interface{}
		want      string
		wantErr   bool
	}{
		{name: "organization", variables: map[string]interface{}{"organization": "Acme"}, want: "Acme"},
		{name: "blank organization", variables: map[string]interface{}{"organization": ""}, want: ""},
		{name: "missing", variables: map[string]interface{}{"leadId": "x"}, wantErr: true},
		{name: "wrong type", variables: map[string]interface{}{"organization": 12}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars, _ := json.Marshal(tt.variables)
			input, err := h.parseInput(entities.Job{ActivatedJob: &pb.ActivatedJob{Key: 1, Variables: string(vars)}})
			if tt.wantErr {
				assert.True(t, errors.IsBadRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, input.Organization)
		})
	}
}
