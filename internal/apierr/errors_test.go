package apierr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
)

func TestSentinelErrorIdentity(t *testing.T) {
	t.Parallel()

	sentinels := []error{
		apierr.ErrRateLimit,
		apierr.ErrQuotaExceeded,
		apierr.ErrTimeout,
		apierr.ErrNetwork,
		apierr.ErrServer,
		apierr.ErrAuthFailed,
		apierr.ErrBadRequest,
		apierr.ErrUnsupportedMedia,
		apierr.ErrChunkCorruption,
	}

	for _, s := range sentinels {
		wrapped := fmt.Errorf("context: %w", s)
		assert.True(t, errors.Is(wrapped, s), "wrapped error should match sentinel %v", s)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want apierr.Kind
	}{
		{"rate limit", fmt.Errorf("429: %w", apierr.ErrRateLimit), apierr.KindRateLimit},
		{"auth", fmt.Errorf("401: %w", apierr.ErrAuthFailed), apierr.KindAuth},
		{"bad request", fmt.Errorf("400: %w", apierr.ErrBadRequest), apierr.KindBadRequest},
		{"quota classified as bad request", fmt.Errorf("quota: %w", apierr.ErrQuotaExceeded), apierr.KindBadRequest},
		{"server", fmt.Errorf("500: %w", apierr.ErrServer), apierr.KindServer},
		{"timeout", fmt.Errorf("timeout: %w", apierr.ErrTimeout), apierr.KindTimeout},
		{"network", fmt.Errorf("dial: %w", apierr.ErrNetwork), apierr.KindNetwork},
		{"unsupported media", fmt.Errorf("415: %w", apierr.ErrUnsupportedMedia), apierr.KindUnsupportedMedia},
		{"chunk corruption", fmt.Errorf("extract: %w", apierr.ErrChunkCorruption), apierr.KindChunkCorruption},
		{"unknown", errors.New("boom"), apierr.KindUnknown},
		{"nil", nil, apierr.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, apierr.Classify(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "rate_limit", apierr.KindRateLimit.String())
	assert.Equal(t, "unknown", apierr.Kind(99).String())
}
