package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	for _, p := range AllPlatforms {
		got, err := ParsePlatform(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
		assert.True(t, p.Valid())
	}

	_, err := ParsePlatform("myspace")
	assert.Error(t, err)
	assert.False(t, Platform("").Valid())
}

func TestPostTerminal(t *testing.T) {
	assert.True(t, (&Post{Status: PostStatusPosted}).Terminal())
	assert.True(t, (&Post{Status: PostStatusFailed}).Terminal())
	assert.False(t, (&Post{Status: PostStatusScheduled}).Terminal())
	assert.False(t, (&Post{Status: PostStatusPublishing}).Terminal())
	assert.False(t, (&Post{Status: PostStatusDraft}).Terminal())
}

func TestAccountDegraded(t *testing.T) {
	assert.True(t, (&SocialAccount{Status: AccountStatusDegraded}).Degraded())
	assert.False(t, (&SocialAccount{Status: AccountStatusActive}).Degraded())
}
