package domain

import "time"

// GeocodeCache stores a resolved lat/long for a normalized location
// string so the 1-req/sec Nominatim budget is spent once per distinct
// facility/city/state/country combination, not once per trial that
// mentions it.
type GeocodeCache struct {
	LocationKey string    `gorm:"column:location_key;primaryKey" json:"location_key"`
	Query       string    `gorm:"column:query" json:"query"`
	Latitude    *float64  `gorm:"column:latitude" json:"latitude"`
	Longitude   *float64  `gorm:"column:longitude" json:"longitude"`
	Resolved    bool      `gorm:"column:resolved" json:"resolved"`
	ResolvedAt  time.Time `gorm:"column:resolved_at" json:"resolved_at"`
}

func (GeocodeCache) TableName() string { return "geocode_cache" }
