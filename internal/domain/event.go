package domain

import "time"

// Unknown is recorded for text fields the detail page did not provide.
const Unknown = "Unknown"

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Forecast is the nearest-term forecast period for an event's location.
type Forecast struct {
	Condition       string  `json:"condition"`
	Temperature     float64 `json:"temperature"`
	TemperatureUnit string  `json:"unit"`
	Detail          string  `json:"detail,omitempty"`
	PeriodName      string  `json:"period,omitempty"`
}

// EventRecord is one harvested event, keyed by its detail page URL.
type EventRecord struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	OccursAt time.Time `json:"occurs_at"` // UTC; zero when the page had no date
	Venue    string    `json:"venue"`
	Category string    `json:"category"`
	Location string    `json:"location"`

	// Enrichment fields. Forecast is only ever set together with Coordinates.
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Forecast    *Forecast    `json:"forecast,omitempty"`

	HarvestedAt time.Time `json:"harvested_at"`
}

// HasDate reports whether the detail page yielded an event date.
func (r EventRecord) HasDate() bool {
	return !r.OccursAt.IsZero()
}

// Listing is the result of walking every listing page.
type Listing struct {
	URLs        []string // page order, then in-page order; may contain duplicates
	Pages       int
	FailedPages []int
}

// UpsertOutcome is the result of handing a record to the store.
type UpsertOutcome string

const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeDuplicate UpsertOutcome = "duplicate"
)

// Persisted reports whether the outcome changed the stored row set.
func (o UpsertOutcome) Persisted() bool {
	return o == OutcomeInserted || o == OutcomeUpdated
}

// UpsertPolicy selects what happens when a record's URL is already stored.
type UpsertPolicy string

const (
	// PolicyKeepFirst leaves the existing row untouched (insert-if-absent).
	PolicyKeepFirst UpsertPolicy = "keep-first"
	// PolicyOverwrite replaces the existing row with the new harvest.
	PolicyOverwrite UpsertPolicy = "overwrite"
	// PolicyMerge keeps existing values wherever the new harvest has none.
	PolicyMerge UpsertPolicy = "merge"
)

// ParseUpsertPolicy validates a policy name.
func ParseUpsertPolicy(s string) (UpsertPolicy, bool) {
	switch p := UpsertPolicy(s); p {
	case PolicyKeepFirst, PolicyOverwrite, PolicyMerge:
		return p, true
	default:
		return "", false
	}
}
