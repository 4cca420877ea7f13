package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	PlaceName        string  `json:"place_name,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"` // 0.0–1.0 provider confidence score
}

// Found reports whether the provider matched the query.
func (r GeocodingResult) Found() bool {
	return r.Lat != 0 || r.Lon != 0
}

// Geocoder resolves free-text place descriptions to coordinates.
type Geocoder interface {
	// ForwardGeocode returns the first match for query. A query with no match
	// yields a zero GeocodingResult and a nil error.
	ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error)
}

// Gate admits one caller at a time at a fixed minimum interval.
// *rate.Limiter satisfies it.
type Gate interface {
	Wait(ctx context.Context) error
}
