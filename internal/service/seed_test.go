package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
)

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seats.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"events":[{"eventId":"E1","sections":[
		{"id":"A","rows":["1","2"],"seatsPerRow":2,"priceCents":5000},
		{"id":"B","rows":["1"],"seatsPerRow":1,"priceCents":2500}]}]}`), 0o600))

	seats, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seats, 5)
	assert.Equal(t, model.Seat{
		ID: "A-2-1", EventID: "E1", Section: "A", Row: "2", Number: 1,
		PriceCents: 5000, Currency: "USD", Status: model.SeatAvailable,
	}, seats[2])
	assert.Equal(t, "B-1-1", seats[4].ID)
}

func TestLoadSeedFile_RejectsBadLayout(t *testing.T) {
	_, err := SeedFile{Events: []SeedEvent{{EventID: "E1", Sections: []SeedSection{{ID: "A", Rows: []string{"1"}}}}}}.Seats()
	assert.Error(t, err)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
