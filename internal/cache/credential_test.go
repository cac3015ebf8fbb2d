package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredentialCache_L1OnlyRoundTrip(t *testing.T) {
	c := NewCredentialCache(nil, 16, time.Minute)
	ctx := context.Background()

	assert.False(t, c.IsValid(ctx, "abc"))

	c.MarkValid(ctx, "abc")
	assert.True(t, c.IsValid(ctx, "abc"))
	assert.False(t, c.IsValid(ctx, "other"))
}
