package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
)

func waitEntry(id, eventID, userID string) model.WaitlistEntry {
	return model.WaitlistEntry{ID: id, EventID: eventID, UserID: userID, SeatCount: 1, Status: model.WaitlistWaiting,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryWaitlist(t *testing.T) {
	w := NewMemoryWaitlist()
	ctx := context.Background()

	for _, e := range []model.WaitlistEntry{waitEntry("W1", "E1", "U1"), waitEntry("W2", "E1", "U2"), waitEntry("W3", "E2", "U1")} {
		_, created, err := w.Join(ctx, e)
		require.NoError(t, err)
		require.True(t, created)
	}
	got, created, err := w.Join(ctx, waitEntry("W9", "E1", "U1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "W1", got.ID)

	pos, err := w.Position(ctx, "E1", "U2")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	ok, err := w.MarkNotified(ctx, "W1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.MarkNotified(ctx, "W1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	pos, err = w.Position(ctx, "E1", "U1")
	require.NoError(t, err)
	assert.Zero(t, pos)
	pos, err = w.Position(ctx, "E1", "U2")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	waiting, err := w.Waiting(ctx, "E1", 10)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "W2", waiting[0].ID)

	mine, err := w.ByUser(ctx, "U1", 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "W3", mine[0].ID)
	require.NotNil(t, mine[1].NotifiedAt)

	left, err := w.Leave(ctx, "E1", "U2")
	require.NoError(t, err)
	assert.True(t, left)
	_, err = w.Entry(ctx, "E1", "U2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = w.Position(ctx, "E1", "U2")
	assert.ErrorIs(t, err, ErrNotFound)
}
