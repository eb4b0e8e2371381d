package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/watch-wrapped/internal/wrapped"
)

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current wrapped.JobStatus
		next    wrapped.JobStatus
		wantErr error
	}{
		{name: "fresh job", current: "", next: wrapped.StatusInitiated},
		{name: "forward", current: wrapped.StatusInitiated, next: wrapped.StatusProcessing},
		{name: "skip ahead", current: wrapped.StatusInitiated, next: wrapped.StatusCompleted},
		{name: "repeat", current: wrapped.StatusProcessing, next: wrapped.StatusProcessing},
		{name: "backwards", current: wrapped.StatusCompleted, next: wrapped.StatusInitiated, wantErr: ErrStatusRegression},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckTransition(tt.current, tt.next)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr))
		})
	}

	require.Error(t, CheckTransition("", "bogus"))
}
