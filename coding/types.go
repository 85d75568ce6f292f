// Package coding implements the distribution of manual coding work:
// grouping responses into unique cases, splitting cases between coders
// under a double-coding quota and a shared case budget, and
// materializing the resulting plan into persisted coding jobs.
package coding

import (
	"time"
)

// VariableReference identifies the atomic unit of codeable work.
// Equality is by both fields.
type VariableReference struct {
	UnitName   string `json:"unitName"`
	VariableID string `json:"variableId"`
}

// BundleItem is a named, ordered group of variables assigned as one unit.
// Distribution treats a bundle as a single item whose unique cases are
// the union of its variables' responses.
type BundleItem struct {
	ID        int64               `json:"id"`
	Name      string              `json:"name"`
	Variables []VariableReference `json:"variables"`
}

// ResponseRecord is one coder-visible answer instance. Records are
// immutable once fetched for a distribution run.
type ResponseRecord struct {
	ID          int64  `json:"id"`
	UnitName    string `json:"unitName"`
	VariableID  string `json:"variableId"`
	Value       string `json:"value"`
	PersonLogin string `json:"personLogin"`
	PersonCode  string `json:"personCode"`
	PersonGroup string `json:"personGroup"`
	BookletName string `json:"bookletName"`
}

// Coder is a person eligible to receive assignments. Distribution always
// operates on coders sorted by Name ascending for determinism.
type Coder struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// MatchingFlag controls how response values are normalized before
// aggregation into unique cases.
type MatchingFlag string

const (
	// MatchNoAggregation disables deduplication: every response is its
	// own singleton case
	MatchNoAggregation MatchingFlag = "no_aggregation"
	// MatchIgnoreCase lower-cases values before comparison
	MatchIgnoreCase MatchingFlag = "ignore_case"
	// MatchIgnoreWhitespace strips all whitespace before comparison
	MatchIgnoreWhitespace MatchingFlag = "ignore_whitespace"
)

// MatchingMode is the workspace-level set of matching flags.
type MatchingMode []MatchingFlag

// Has reports whether flag is part of the mode.
func (m MatchingMode) Has(flag MatchingFlag) bool {
	for _, f := range m {
		if f == flag {
			return true
		}
	}
	return false
}

// CaseOrderingMode determines which cases are selected first for
// double coding and where the single-coding split boundaries fall.
type CaseOrderingMode string

const (
	// OrderingContinuous sorts cases primarily by variable
	OrderingContinuous CaseOrderingMode = "continuous"
	// OrderingAlternating sorts cases primarily by person
	OrderingAlternating CaseOrderingMode = "alternating"
)

// CodingJobStatus is the lifecycle status of a persisted coding job.
type CodingJobStatus string

const (
	CodingJobPending   CodingJobStatus = "pending"
	CodingJobOpen      CodingJobStatus = "open"
	CodingJobCompleted CodingJobStatus = "completed"
	CodingJobCancelled CodingJobStatus = "cancelled"
	CodingJobPaused    CodingJobStatus = "paused"
)

// CodingJob is a persisted unit of manual coding work for one coder.
type CodingJob struct {
	ID               string              `json:"id"`
	WorkspaceID      int64               `json:"workspaceId"`
	Name             string              `json:"name"`
	Status           CodingJobStatus     `json:"status"`
	CoderID          int64               `json:"coderId"`
	Variables        []VariableReference `json:"variables,omitempty"`
	BundleID         *int64              `json:"variableBundleId,omitempty"`
	CaseOrderingMode CaseOrderingMode    `json:"caseOrderingMode"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// CodingJobUnit is one (coding job, response) pairing a coder must code.
// A double-coded response produces two units in two different jobs,
// never two units in the same job.
type CodingJobUnit struct {
	CodingJobID string `json:"codingJobId"`
	ResponseID  int64  `json:"responseId"`
	UnitName    string `json:"unitName"`
	VariableID  string `json:"variableId"`
	PersonLogin string `json:"personLogin"`
	PersonCode  string `json:"personCode"`
	PersonGroup string `json:"personGroup"`
	BookletName string `json:"bookletName"`
	Code        *int   `json:"code,omitempty"`
	Score       *int   `json:"score,omitempty"`
	IsOpen      bool   `json:"isOpen"`
	Notes       string `json:"notes,omitempty"`
}

// Item is one unit of distribution: either a bundle or a bare variable.
// Bundles come first, then variables, in the caller's given order.
type Item struct {
	Label     string
	BundleID  *int64
	Variables []VariableReference
}

// DistributionRequest describes one distribution run over a workspace.
type DistributionRequest struct {
	Bundles   []BundleItem        `json:"bundles,omitempty"`
	Variables []VariableReference `json:"variables,omitempty"`
	CoderIDs  []int64             `json:"coderIds"`

	// DoubleCodingAbsolute and DoubleCodingPercent set the quality
	// control quota. Absolute wins when both are set.
	DoubleCodingAbsolute *int     `json:"doubleCodingAbsolute,omitempty"`
	DoubleCodingPercent  *float64 `json:"doubleCodingPercent,omitempty"`

	CaseOrderingMode CaseOrderingMode `json:"caseOrderingMode"`

	// MaxCodingCases is an optional global budget shared across all
	// items of this request, depleted in item order.
	MaxCodingCases *int `json:"maxCodingCases,omitempty"`
}

// Items flattens the request into distribution items, bundles first.
func (r DistributionRequest) Items() []Item {
	items := make([]Item, 0, len(r.Bundles)+len(r.Variables))
	for _, b := range r.Bundles {
		id := b.ID
		items = append(items, Item{Label: b.Name, BundleID: &id, Variables: b.Variables})
	}
	for _, v := range r.Variables {
		items = append(items, Item{Label: v.UnitName + ":" + v.VariableID, Variables: []VariableReference{v}})
	}
	return items
}

// ItemAllocation is the per-item slice of an allocation plan.
type ItemAllocation struct {
	ItemLabel        string        `json:"itemLabel"`
	BundleID         *int64        `json:"bundleId,omitempty"`
	UniqueCases      int           `json:"uniqueCases"`
	TotalResponses   int           `json:"totalResponses"`
	DoubleCodedCases int           `json:"doubleCodedCases"`
	SingleCodedCases int           `json:"singleCodedCasesAssigned"`
	PerCoderCases    map[int64]int `json:"perCoderCaseCounts"`
	PerCoderDouble   map[int64]int `json:"perCoderDoubleCodedCounts"`

	// Assignments maps coder id to the responses of the cases assigned
	// to that coder, in deterministic case order. Used by the
	// materializer; never persisted as-is.
	Assignments map[int64][]ResponseRecord `json:"-"`

	// Workload counts the cases each coder will actually code for this
	// item. Unlike PerCoderCases, a double-coded case counts once for
	// each of its two coders.
	Workload map[int64]int `json:"-"`
}

// AllocationPlan is the ephemeral result of one allocation run. It is
// produced fresh per request and only ever persisted by materializing
// it into coding jobs.
type AllocationPlan struct {
	Items           []ItemAllocation `json:"items"`
	Warnings        []string         `json:"warnings,omitempty"`
	AssignedCases   int              `json:"assignedCases"`
	RemainingBudget *int             `json:"remainingBudget,omitempty"`
}
