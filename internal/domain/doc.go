// Package domain models events harvested from a city-tourism listing site.
//
// # Records
//
// An [EventRecord] is keyed by the absolute URL of its detail page. The URL is
// the only identity an event has: the site exposes no stable numeric ID, and
// the same event is reachable from several listing pages. Persistence
// deduplicates on it.
//
// Dates on the site carry no time of day and no zone ("10/19/2024"). They are
// read as midnight in the site's own timezone and stored as the equivalent UTC
// instant, so an event on 10/19/2024 in Seattle is 2024-10-19T07:00:00Z.
//
// Text fields the page does not provide are recorded as [Unknown] rather than
// failing the record.
//
// # Enrichment
//
// Enrichment never fails a record. [GeoEnricher] returns nil coordinates when
// the geocoder has no match or is unavailable, and [WeatherEnricher] returns a
// nil forecast in the same cases. A forecast is only looked up for records
// that have coordinates, so Forecast != nil implies Coordinates != nil.
//
// Geocoding providers publish usage policies (Nominatim: at most one request
// per second, identifying User-Agent). [ThrottledGeocoder] enforces the rate
// with a [Gate] shared by every worker in the process.
//
// # Errors
//
// [FetchError] is transient for timeouts, 5xx and 429 responses and permanent
// otherwise. [ParseError] means the page did not match the expected layout.
// [StorageError] wraps store failures. See [IsTransient].
package domain
