package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkAsReadRequiresSent(t *testing.T) {
	h := newHarness(t)
	r := NewReader(h.store, h.clock)
	ctx := context.Background()

	a := h.store.addUser("a@example.com", day(0))
	subA := h.store.subscribe(a, h.career)
	p := h.publishedPost(day(5), h.career)

	_, err := h.store.EnsureEntries(ctx, p.ID, []uuid.UUID{subA.ID})
	require.NoError(t, err)

	changed, err := r.MarkAsRead(ctx, p, a.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, h.store.entryFor(subA.ID, p.ID).Read)
}

func TestMarkAsReadIdempotent(t *testing.T) {
	h := newHarness(t)
	r := NewReader(h.store, h.clock)
	ctx := context.Background()

	a := h.store.addUser("a@example.com", day(0))
	subA := h.store.subscribe(a, h.career)
	p := h.publishedPost(day(5), h.career)
	h.clock.Set(day(5))
	h.run(t)

	h.clock.Set(day(6))
	changed, err := r.MarkAsRead(ctx, p, a.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	h.clock.Set(day(7))
	changed, err = r.MarkAsRead(ctx, p, a.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	entry := h.store.entryFor(subA.ID, p.ID)
	require.NotNil(t, entry.Read)
	assert.True(t, entry.Read.Equal(day(6)))
}

func TestMarkAsReadNoEntry(t *testing.T) {
	h := newHarness(t)
	r := NewReader(h.store, h.clock)

	p := h.publishedPost(day(5), h.career)
	changed, err := r.MarkAsRead(context.Background(), p, uuid.New())
	require.NoError(t, err)
	assert.False(t, changed)
}

type failingReadLedger struct{}

func (failingReadLedger) MarkRead(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return false, errors.New("db down")
}

func TestMarkAsReadWrapsError(t *testing.T) {
	r := NewReader(failingReadLedger{}, SystemClock{})
	p := newHarness(t).publishedPost(day(5))
	_, err := r.MarkAsRead(context.Background(), p, uuid.New())
	assert.ErrorContains(t, err, "mark as read")
}
