package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron_RejectsMalformedExpression(t *testing.T) {
	_, err := ParseCron("not a cron expression")

	require.Error(t, err)
}

func TestParseCron_AcceptsStandardExpression(t *testing.T) {
	_, err := ParseCron("*/5 * * * *")

	require.NoError(t, err)
}

func TestPreviewCron_ReturnsNFiringsStrictlyAfterFrom(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	firings, err := PreviewCron("0 * * * *", from, 3)

	require.NoError(t, err)
	require.Len(t, firings, 3)

	for _, f := range firings {
		assert.True(t, f.After(from))
	}

	assert.True(t, firings[1].After(firings[0]))
	assert.True(t, firings[2].After(firings[1]))
}
