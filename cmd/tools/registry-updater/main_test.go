package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-lead-workers/pkg/registry"
)

var now = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

func TestGenerateThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity-registry.json")
	var out bytes.Buffer

	require.NoError(t, run("generate", []string{"-path", path}, &out, now))
	assert.Contains(t, out.String(), "Wrote 5 activities")

	reg, err := registry.LoadRegistry(path)
	require.NoError(t, err)
	a, ok := reg.Find("lead-update-stage")
	require.True(t, ok)
	assert.Equal(t, "lead.stage.update", a.TaskType)
	assert.Equal(t, "30s", a.Timeout)
	assert.Contains(t, a.ErrorCodes, "LEAD_NOT_FOUND")

	out.Reset()
	require.NoError(t, run("validate", []string{"-path", path}, &out, now))
	assert.Contains(t, out.String(), "Found 5 activities")
}

func TestGenerate_KeepsHandAddedActivitiesAndVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity-registry.json")
	require.NoError(t, registry.SaveRegistry(&registry.ActivityRegistry{
		Version: "1.0.0",
		Activities: []registry.Activity{
			{ID: "manual-review", DisplayName: "Manual Review", Category: "lead", TaskType: "lead.review"},
			{ID: "lead-assign", DisplayName: "old", Category: "lead", TaskType: "lead.assign", Version: "2.1.0"},
		},
	}, path))

	require.NoError(t, run("generate", []string{"-path", path}, &bytes.Buffer{}, now))

	reg, err := registry.LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, reg.Activities, 6)

	a, _ := reg.Find("lead-assign")
	assert.Equal(t, "2.1.0", a.Version)
	assert.Equal(t, "Assign Lead", a.DisplayName)
	_, ok := reg.Find("manual-review")
	assert.True(t, ok)
}

func TestValidate_DetectsDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity-registry.json")
	require.NoError(t, run("generate", []string{"-path", path}, &bytes.Buffer{}, now))

	reg, err := registry.LoadRegistry(path)
	require.NoError(t, err)
	a, _ := reg.Find("college-match")
	a.InputSchema = map[string]interface{}{"type": "object"}
	require.NoError(t, registry.SaveRegistry(reg, path))

	err = run("validate", []string{"-path", path}, &bytes.Buffer{}, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "college-match input schema is out of date")
}

func TestUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity-registry.json")
	require.NoError(t, run("generate", []string{"-path", path}, &bytes.Buffer{}, now))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "timeout", args: []string{"-path", path, "-id", "lead-assign", "-field", "timeout", "-value", "20s"}},
		{name: "bad timeout", args: []string{"-path", path, "-id", "lead-assign", "-field", "timeout", "-value", "later"}, wantErr: "invalid timeout"},
		{name: "unknown activity", args: []string{"-path", path, "-id", "nope", "-field", "version", "-value", "2"}, wantErr: "not found"},
		{name: "unknown field", args: []string{"-path", path, "-id", "lead-assign", "-field", "taskType", "-value", "x"}, wantErr: "unknown field"},
		{name: "missing value", args: []string{"-path", path, "-id", "lead-assign"}, wantErr: "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run("update", tt.args, &bytes.Buffer{}, now)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	reg, err := registry.LoadRegistry(path)
	require.NoError(t, err)
	a, _ := reg.Find("lead-assign")
	assert.Equal(t, "20s", a.Timeout)
}
