package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitKindCodes(t *testing.T) {
	assert.Equal(t, 0, ExitSuccess.Code())
	assert.Equal(t, 1, ExitFailure.Code())
	assert.Equal(t, 2, ExitRunnerFailed.Code())
	assert.Equal(t, 255, ExitUnknown.Code())
}

func TestExitKindIsFailure(t *testing.T) {
	assert.False(t, ExitSuccess.IsFailure())
	assert.True(t, ExitFailure.IsFailure())
	assert.True(t, ExitRunnerFailed.IsFailure())
	assert.True(t, ExitUnknown.IsFailure())
}

func TestFoldIsMonotoneMax(t *testing.T) {
	cases := []struct {
		a, b, want ExitKind
	}{
		{ExitSuccess, ExitSuccess, ExitSuccess},
		{ExitSuccess, ExitFailure, ExitFailure},
		{ExitFailure, ExitSuccess, ExitFailure},
		{ExitRunnerFailed, ExitFailure, ExitRunnerFailed},
		{ExitFailure, ExitRunnerFailed, ExitRunnerFailed},
		{ExitRunnerFailed, ExitSuccess, ExitRunnerFailed},
		{ExitUnknown, ExitRunnerFailed, ExitUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Fold(tc.a, tc.b), "Fold(%v, %v)", tc.a, tc.b)
	}
}
