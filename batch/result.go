// Package batch implements the automatic coding pipeline that codes
// uploaded responses against their coding schemes in the background.
package batch

// Result summarizes one coding run: how many responses were considered
// and how many ended up in each status.
type Result struct {
	TotalResponses int            `json:"totalResponses"`
	StatusCounts   map[string]int `json:"statusCounts"`
}

// NewResult returns an empty result.
func NewResult() *Result {
	return &Result{StatusCounts: make(map[string]int)}
}

// Count records one coded response with its resulting status.
func (r *Result) Count(status string) {
	r.TotalResponses++
	r.StatusCounts[status]++
}

// Merge folds another result into this one. Used when a run spans
// multiple person chunks.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.TotalResponses += other.TotalResponses
	for status, n := range other.StatusCounts {
		r.StatusCounts[status] += n
	}
}
