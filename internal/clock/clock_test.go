package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsUTCNow(t *testing.T) {
	c := New()

	now := c.Now()

	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now().UTC(), now, time.Second)
}

func TestNewID_IsLexicallySortableByCreationOrder(t *testing.T) {
	first, err := NewID()
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	second, err := NewID()
	require.NoError(t, err)

	assert.Less(t, first, second)
	assert.Len(t, first, 36)
}

func TestMustNewID_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = MustNewID()
	})
}

// fixedClock is a deterministic Clock for this package's tests.
type fixedClock struct {
	at time.Time
}

func (f fixedClock) Now() time.Time { return f.at }

func TestFixedClock_ImplementsClock(t *testing.T) {
	var c Clock = fixedClock{at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, 2026, c.Now().Year())
}
