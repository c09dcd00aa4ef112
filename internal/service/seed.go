package service

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// SeedFile describes event seating layouts loaded at startup, e.g.
//
//	{"events": [{"eventId": "E1", "currency": "USD", "sections": [
//	    {"id": "A", "rows": ["1", "2"], "seatsPerRow": 10, "priceCents": 5000}]}]}
type SeedFile struct {
	Events []SeedEvent `json:"events"`
}

type SeedEvent struct {
	EventID  string        `json:"eventId"`
	Currency string        `json:"currency"`
	Sections []SeedSection `json:"sections"`
}

type SeedSection struct {
	ID          string   `json:"id"`
	Rows        []string `json:"rows"`
	SeatsPerRow int      `json:"seatsPerRow"`
	PriceCents  int64    `json:"priceCents"`
}

// LoadSeedFile reads a layout file and expands it into seats.  Seat ids
// take the form <section>-<row>-<number>.
func LoadSeedFile(path string) ([]model.Seat, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f SeedFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return f.Seats()
}

// Seats expands the layout.
func (f SeedFile) Seats() ([]model.Seat, error) {
	var seats []model.Seat
	for _, ev := range f.Events {
		if ev.EventID == "" {
			return nil, fmt.Errorf("seed: event without eventId")
		}
		currency := ev.Currency
		if currency == "" {
			currency = "USD"
		}
		for _, sec := range ev.Sections {
			if sec.ID == "" || sec.SeatsPerRow <= 0 || sec.PriceCents < 0 {
				return nil, fmt.Errorf("seed: invalid section %q in event %s", sec.ID, ev.EventID)
			}
			for _, row := range sec.Rows {
				for n := 1; n <= sec.SeatsPerRow; n++ {
					seats = append(seats, model.Seat{
						ID:         sec.ID + "-" + row + "-" + strconv.Itoa(n),
						EventID:    ev.EventID,
						Section:    sec.ID,
						Row:        row,
						Number:     n,
						PriceCents: sec.PriceCents,
						Currency:   currency,
						Status:     model.SeatAvailable,
					})
				}
			}
		}
	}
	return seats, nil
}
