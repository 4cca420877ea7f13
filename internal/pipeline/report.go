package pipeline

import "time"

// Failure stages.
const (
	StageFetch   = "fetch"
	StageParse   = "parse"
	StagePersist = "persist"
)

// Failure is one URL that did not make it into the store.
type Failure struct {
	URL    string `json:"url"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Report summarizes a harvest run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled,omitempty"`

	Pages       int `json:"pages"`
	PagesFailed int `json:"pages_failed"`
	Discovered  int `json:"discovered"` // raw link count, duplicates included
	Unique      int `json:"unique"`
	Known       int `json:"known"` // skipped because already stored

	Parsed    int `json:"parsed"`
	Geocoded  int `json:"geocoded"`
	Weather   int `json:"weather"`
	Persisted int `json:"persisted"` // inserted + updated
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`

	Duplicates int `json:"duplicates"`
	Published  int `json:"published"`
	Failed     int `json:"failed"`

	Failures []Failure `json:"failures,omitempty"`
}

// Duration is the wall-clock time the run took.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome classifies the run for metrics: success, partial, or cancelled.
func (r Report) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Failed > 0 || r.PagesFailed > 0:
		return "partial"
	default:
		return "success"
	}
}

func (r *Report) fail(url, stage string, err error) {
	r.Failures = append(r.Failures, Failure{URL: url, Stage: stage, Reason: err.Error()})
	r.Failed++
}
