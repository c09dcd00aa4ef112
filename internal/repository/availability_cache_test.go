package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
)

func TestAvailabilityCache_MissThenSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewAvailabilityCache(db, 30*time.Second)
	ctx := context.Background()

	mock.ExpectGet("seat:avail:E1").RedisNil()
	got, ok, err := cache.Get(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)

	a := model.Availability{
		EventID:     "E1",
		Sections:    []model.SectionAvailability{{SectionID: "A", Available: 2, Total: 3, Price: 5000, Currency: "USD"}},
		TotalSeats:  3,
		LastUpdated: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := json.Marshal(a)
	require.NoError(t, err)
	mock.ExpectGet("seat:avail:gen:E1").RedisNil()
	gen, err := cache.Generation(ctx, "E1")
	require.NoError(t, err)
	assert.Zero(t, gen)

	mock.ExpectEvalSha(fillScript.Hash(), []string{"seat:avail:E1", "seat:avail:gen:E1"}, "0", string(payload), int64(30000)).SetVal(int64(1))
	stored, err := cache.Set(ctx, a, gen)
	require.NoError(t, err)
	assert.True(t, stored)

	mock.ExpectGet("seat:avail:E1").SetVal(string(payload))
	got, ok, err = cache.Get(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got.Sections[0].Available)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityCache_Invalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewAvailabilityCache(db, time.Minute)

	mock.ExpectEvalSha(invalidateScript.Hash(), []string{"seat:avail:E1", "seat:avail:gen:E1"}).SetVal(int64(1))
	require.NoError(t, cache.Invalidate(context.Background(), "E1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityCache_FillAfterInvalidateIsDropped(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewAvailabilityCache(db, time.Minute)
	ctx := context.Background()
	a := model.Availability{EventID: "E1", Sections: []model.SectionAvailability{}, TotalSeats: 1, AvailableSeats: 1}
	payload, err := json.Marshal(a)
	require.NoError(t, err)
	keys := []string{"seat:avail:E1", "seat:avail:gen:E1"}

	mock.ExpectGet("seat:avail:gen:E1").SetVal("4")
	gen, err := cache.Generation(ctx, "E1")
	require.NoError(t, err)
	require.Equal(t, int64(4), gen)

	// A commit lands between the seat read and the fill.
	mock.ExpectEvalSha(invalidateScript.Hash(), keys).SetVal(int64(1))
	require.NoError(t, cache.Invalidate(ctx, "E1"))

	mock.ExpectEvalSha(fillScript.Hash(), keys, "4", string(payload), int64(60000)).SetVal(int64(0))
	stored, err := cache.Set(ctx, a, gen)
	require.NoError(t, err)
	assert.False(t, stored)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityCache_NilClientIsNoop(t *testing.T) {
	cache := NewAvailabilityCache(nil, 0)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "E1")
	assert.NoError(t, err)
	assert.False(t, ok)
	gen, err := cache.Generation(ctx, "E1")
	assert.NoError(t, err)
	stored, err := cache.Set(ctx, model.Availability{EventID: "E1"}, gen)
	assert.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, cache.Invalidate(ctx, "E1"))
}
