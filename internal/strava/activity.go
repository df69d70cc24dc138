package strava

import (
	"encoding/json"
	"time"
)

// ActivitySummary is one entry from the athlete activity feed. Raw keeps the
// full API payload so the database row preserves fields we do not model.
type ActivitySummary struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Distance       float64   `json:"distance"`
	MovingTime     int64     `json:"moving_time"`
	ElapsedTime    int64     `json:"elapsed_time"`
	ElevationGain  float64   `json:"total_elevation_gain"`
	StartDate      time.Time `json:"start_date"`
	StartDateLocal string    `json:"start_date_local"`
	StartLatLng    []float64 `json:"start_latlng"`

	Raw json.RawMessage `json:"-"`
}

// HasTrack reports whether the activity carries GPS data and therefore has a
// GPX export worth requesting.
func (a ActivitySummary) HasTrack() bool {
	return len(a.StartLatLng) == 2
}
