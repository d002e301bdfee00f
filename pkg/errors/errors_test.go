package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"threshold", fmt.Errorf("config: %w", ErrInvalidThreshold), ExitConfig},
		{"similarity", ErrUnknownSimilarity, ExitConfig},
		{"input", fmt.Errorf("line 3: %w", ErrInvalidInput), ExitInput},
		{"snapshot", ErrSnapshotCorrupt, ExitInput},
		{"sink", fmt.Errorf("kafka: %w", ErrSinkFailed), ExitOutput},
		{"other", fmt.Errorf("boom"), ExitInternal},
		{"app error wins", New(ErrSinkFailed, ExitConfig, "forced"), ExitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, ExitInput, "line %d", 7)
	assert.True(t, Is(err, ErrInvalidInput))
	assert.Equal(t, "invalid input: line 7", err.Error())
}
