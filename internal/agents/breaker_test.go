package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyBreakerWindow(t *testing.T) {
	now := officeHours
	b := NewDailyBreaker(2, func() time.Time { return now })

	window, ok := b.Take()
	assert.True(t, ok)
	assert.Equal(t, officeHours, window)
	_, ok = b.Take()
	assert.True(t, ok)
	_, ok = b.Take()
	assert.False(t, ok)
	assert.Equal(t, 2, b.Used())
	assert.Equal(t, officeHours.Add(24*time.Hour), b.ResetsAt())

	b.Refund(window)
	_, ok = b.Take()
	assert.True(t, ok)
	_, ok = b.Take()
	assert.False(t, ok)

	now = officeHours.Add(23 * time.Hour)
	_, ok = b.Take()
	assert.False(t, ok, "the window is fixed from its first use")

	now = officeHours.Add(24 * time.Hour)
	_, ok = b.Take()
	assert.True(t, ok)
	assert.Equal(t, 1, b.Used())
}

func TestDailyBreakerDropsRefundFromExpiredWindow(t *testing.T) {
	now := officeHours
	b := NewDailyBreaker(2, func() time.Time { return now })

	stale, ok := b.Take()
	assert.True(t, ok)

	now = officeHours.Add(25 * time.Hour)
	_, ok = b.Take()
	assert.True(t, ok)
	b.Refund(stale)
	assert.Equal(t, 1, b.Used(), "a unit from the previous window does not free the current one")

	current, ok := b.Take()
	assert.True(t, ok)
	b.Refund(current)
	assert.Equal(t, 1, b.Used())
}

func TestLatchReportsTransitionOnce(t *testing.T) {
	var l latch
	assert.True(t, l.trip())
	assert.False(t, l.trip())
	assert.True(t, l.isOpen())
	l.reset()
	assert.False(t, l.isOpen())
	assert.True(t, l.trip())
}
