package camunda

import (
	stderrors "errors"
	"testing"

	"crm-lead-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableZeebeError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"rpc error: code = Unavailable desc = connection refused", true},
		{"context deadline exceeded", true},
		{"rpc error: code = NotFound desc = no such message", false},
		{"invalid argument", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableZeebeError(stderrors.New(tt.msg)))
		})
	}
}

func TestMapZeebeError(t *testing.T) {
	c := &Client{config: &ClientConfig{RetryConfig: DefaultRetryConfig}}

	err := c.mapZeebeError(stderrors.New("deadline exceeded"), "publish-message:lead-event", 2)
	std, ok := errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorCode("TIMEOUT_ERROR"), std.Code)
	assert.Contains(t, std.Details, "after 2 attempts")

	err = c.mapZeebeError(stderrors.New("connection reset by peer"), "topology", 0)
	std, ok = errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorCode("EXTERNAL_SERVICE_ERROR"), std.Code)
	assert.True(t, std.Retryable)
}
