package accesscontrol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"wesgateway/internal/apierr"
)

func ptr(s string) *string { return &s }

func TestCheck_UnownedRunAlwaysPasses(t *testing.T) {
	assert.NoError(t, Check(nil, ptr("alice")))
	assert.NoError(t, Check(nil, nil))
}

func TestCheck_NoRequesterContextPasses(t *testing.T) {
	assert.NoError(t, Check(ptr("alice"), nil))
}

func TestCheck_MatchingOwnerPasses(t *testing.T) {
	assert.NoError(t, Check(ptr("alice"), ptr("alice")))
}

func TestCheck_MismatchedOwnerForbidden(t *testing.T) {
	err := Check(ptr("alice"), ptr("bob"))
	assert.Error(t, err)
	assert.True(t, apierr.IsForbidden(err))
}
