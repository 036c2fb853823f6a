package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certifier/pkg/domain-errors"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole("reviewer")
	require.NoError(t, err)
	assert.True(t, r.IsReviewer())

	r, err = ParseRole("applicant")
	require.NoError(t, err)
	assert.False(t, r.IsReviewer())

	for _, bad := range []string{"", "admin", "Reviewer"} {
		_, err := ParseRole(bad)
		require.Error(t, err, bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	}
}
