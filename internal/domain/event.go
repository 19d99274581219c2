package domain

import "time"

// CivilTimeLayout renders an earthquake time as ISO-8601 without an offset,
// since bulletin times carry no timezone.
const CivilTimeLayout = "2006-01-02T15:04:05"

// Earthquake is one parsed bulletin row.
type Earthquake struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Depth     float64   `json:"depth"`
	Magnitude float64   `json:"magnitude"`
	Location  string    `json:"location"`
}

// Record is the persisted form of an earthquake that has been published.
type Record struct {
	ID        string    `json:"id"`
	Magnitude float64   `json:"magnitude"`
	Depth     float64   `json:"depth"`
	Location  string    `json:"location"`
	EventTime string    `json:"event_time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Posted    bool      `json:"posted"`
	PostedAt  time.Time `json:"posted_at"`
}

// EventAt parses EventTime back into a UTC time.
func (r Record) EventAt() (time.Time, error) {
	return time.ParseInLocation(CivilTimeLayout, r.EventTime, time.UTC)
}

// NewRecord stamps an earthquake as posted now. Build it once per publish so
// every sink sees the same PostedAt.
func NewRecord(q Earthquake) Record {
	return Record{
		ID:        q.ID,
		Magnitude: q.Magnitude,
		Depth:     q.Depth,
		Location:  q.Location,
		EventTime: q.Time.Format(CivilTimeLayout),
		Latitude:  q.Latitude,
		Longitude: q.Longitude,
		Posted:    true,
		PostedAt:  clock.Now(),
	}
}
