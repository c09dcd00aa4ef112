package model

import (
	"sort"
	"time"
)

// SectionAvailability summarises one section of an event.  Price is the
// lowest seat price in the section.
type SectionAvailability struct {
	SectionID string `json:"sectionId"`
	Available int    `json:"available"`
	Total     int    `json:"total"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
}

// Availability is the derived, non-authoritative view of an event's seat
// counts.  It is recomputed from seat states and may be served from cache.
type Availability struct {
	EventID        string                `json:"eventId"`
	Sections       []SectionAvailability `json:"sections"`
	TotalSeats     int                   `json:"totalSeats"`
	AvailableSeats int                   `json:"availableSeats"`
	LastUpdated    time.Time             `json:"lastUpdated"`
}

// ComputeAvailability aggregates seats into per-section counts ordered by
// section id.
func ComputeAvailability(eventID string, seats []Seat, now time.Time) Availability {
	bySection := make(map[string]*SectionAvailability)
	out := Availability{EventID: eventID, Sections: []SectionAvailability{}, LastUpdated: now}
	for _, s := range seats {
		sec, ok := bySection[s.Section]
		if !ok {
			sec = &SectionAvailability{SectionID: s.Section, Price: s.PriceCents, Currency: s.Currency}
			bySection[s.Section] = sec
		}
		sec.Total++
		out.TotalSeats++
		if s.Status == SeatAvailable {
			sec.Available++
			out.AvailableSeats++
		}
		if s.PriceCents < sec.Price {
			sec.Price = s.PriceCents
		}
	}
	for _, sec := range bySection {
		out.Sections = append(out.Sections, *sec)
	}
	sort.Slice(out.Sections, func(i, j int) bool { return out.Sections[i].SectionID < out.Sections[j].SectionID })
	return out
}
