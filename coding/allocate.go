package coding

import (
	"fmt"
	"sort"

	"github.com/assessly/codermill/errors"
)

// ItemResponses carries the fetched responses for one distribution item.
// Responses already consumed by prior coding jobs are filtered out before
// allocation; PriorAssignedCases records how many unique cases those
// prior assignments covered, for partial re-use warnings.
type ItemResponses struct {
	Responses          []ResponseRecord
	PriorAssignedCases int
}

// Allocate splits the unique cases of each item between the selected
// coders under the request's double-coding quota, ordering mode and
// optional global case budget. The result is deterministic: identical
// input always yields identical per-coder assignments.
//
// Allocation runs synchronously over in-memory collections and never
// spawns parallel work; the shared running counters make determinism
// and fairness trivial to reason about single-threaded.
func Allocate(req DistributionRequest, coders []Coder, itemResponses []ItemResponses, mode MatchingMode) (*AllocationPlan, error) {
	if len(coders) == 0 {
		return nil, errors.NewInvalidRequestError("distribution requires at least one coder")
	}

	items := req.Items()
	if len(itemResponses) != len(items) {
		return nil, errors.NewInvalidRequestError("item responses do not match items: %d != %d",
			len(itemResponses), len(items))
	}

	// Coders sorted by name ascending for deterministic tie-breaks
	sorted := make([]Coder, len(coders))
	copy(sorted, coders)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	var remainingBudget *int
	if req.MaxCodingCases != nil {
		b := *req.MaxCodingCases
		remainingBudget = &b
	}

	plan := &AllocationPlan{}

	for i, item := range items {
		ir := itemResponses[i]
		alloc := allocateItem(item, ir, sorted, req, mode, remainingBudget)
		plan.AssignedCases += sumCounts(alloc.PerCoderCases)
		plan.Items = append(plan.Items, alloc)

		if ir.PriorAssignedCases > 0 && alloc.UniqueCases > 0 {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"item %q: %d unique cases already assigned in prior coding jobs, %d remain available",
				item.Label, ir.PriorAssignedCases, alloc.UniqueCases))
		}
	}

	plan.RemainingBudget = remainingBudget
	return plan, nil
}

// allocateItem runs the per-item steps. remainingBudget is depleted in
// place as cases are assigned.
func allocateItem(item Item, ir ItemResponses, coders []Coder, req DistributionRequest, mode MatchingMode, remainingBudget *int) ItemAllocation {
	alloc := ItemAllocation{
		ItemLabel:      item.Label,
		BundleID:       item.BundleID,
		TotalResponses: len(ir.Responses),
		PerCoderCases:  zeroCounts(coders),
		PerCoderDouble: zeroCounts(coders),
		Workload:       zeroCounts(coders),
		Assignments:    make(map[int64][]ResponseRecord),
	}

	groups := Aggregate(ir.Responses, mode)
	alloc.UniqueCases = len(groups)
	if alloc.UniqueCases == 0 {
		return alloc
	}

	// Which cases are double-coded is decided by a deterministic sort of
	// the cases, keyed by each group's smallest response
	sortGroups(groups, req.CaseOrderingMode)

	doubleCount := doubleCodingCount(alloc.UniqueCases, req)
	if len(coders) < 2 {
		// Double coding needs two distinct coders; with one coder the
		// quota degrades to single coding only
		doubleCount = 0
	}
	if remainingBudget != nil && doubleCount > *remainingBudget {
		doubleCount = *remainingBudget
	}
	if remainingBudget != nil {
		*remainingBudget -= doubleCount
	}

	// Double-coded subset: exactly two coders per case, always the two
	// with the lowest running double-coding counts (ties by name order,
	// which is the slice order). The case itself is attributed to the
	// pair member with the lower case count so that case totals
	// reconcile to unique cases.
	for _, g := range groups[:doubleCount] {
		first, second := lowestTwo(coders, alloc.PerCoderDouble)
		primary := first
		if alloc.PerCoderCases[second.ID] < alloc.PerCoderCases[first.ID] {
			primary = second
		}
		alloc.PerCoderDouble[first.ID]++
		alloc.PerCoderDouble[second.ID]++
		alloc.PerCoderCases[primary.ID]++
		alloc.Workload[first.ID]++
		alloc.Workload[second.ID]++
		alloc.Assignments[first.ID] = append(alloc.Assignments[first.ID], g.Responses...)
		alloc.Assignments[second.ID] = append(alloc.Assignments[second.ID], g.Responses...)
	}
	alloc.DoubleCodedCases = doubleCount

	// Single-coding split: remaining cases divided as evenly as
	// possible, first (remaining mod numCoders) coders get one extra
	singles := groups[doubleCount:]
	base := len(singles) / len(coders)
	extra := len(singles) % len(coders)

	next := 0
	for ci, coder := range coders {
		want := base
		if ci < extra {
			want++
		}
		if remainingBudget != nil && want > *remainingBudget {
			want = *remainingBudget
		}
		for _, g := range singles[next : next+want] {
			alloc.Assignments[coder.ID] = append(alloc.Assignments[coder.ID], g.Responses...)
		}
		alloc.PerCoderCases[coder.ID] += want
		alloc.Workload[coder.ID] += want
		alloc.SingleCodedCases += want
		next += want
		if remainingBudget != nil {
			*remainingBudget -= want
		}
	}

	return alloc
}

// doubleCodingCount resolves the quota for an item: an absolute count
// wins over a percentage of unique cases; both clamp to the case total.
func doubleCodingCount(totalCases int, req DistributionRequest) int {
	switch {
	case req.DoubleCodingAbsolute != nil:
		if *req.DoubleCodingAbsolute > totalCases {
			return totalCases
		}
		if *req.DoubleCodingAbsolute < 0 {
			return 0
		}
		return *req.DoubleCodingAbsolute
	case req.DoubleCodingPercent != nil:
		n := int(*req.DoubleCodingPercent / 100 * float64(totalCases))
		if n > totalCases {
			return totalCases
		}
		if n < 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}

// lowestTwo returns the two coders with the lowest counts. Ties fall
// back to slice order, which is name ascending.
func lowestTwo(coders []Coder, counts map[int64]int) (Coder, Coder) {
	first, second := coders[0], coders[1]
	if counts[second.ID] < counts[first.ID] {
		first, second = second, first
	}
	for _, c := range coders[2:] {
		switch {
		case counts[c.ID] < counts[first.ID]:
			second = first
			first = c
		case counts[c.ID] < counts[second.ID]:
			second = c
		}
	}
	return first, second
}

// sortGroups orders case groups by their smallest member response under
// the ordering mode's key sequence.
func sortGroups(groups []CaseGroup, mode CaseOrderingMode) {
	type ranked struct {
		rep   ResponseRecord
		group CaseGroup
	}
	rs := make([]ranked, len(groups))
	for i, g := range groups {
		rep := g.Responses[0]
		for _, r := range g.Responses[1:] {
			if compareResponses(r, rep, mode) < 0 {
				rep = r
			}
		}
		rs[i] = ranked{rep: rep, group: g}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return compareResponses(rs[i].rep, rs[j].rep, mode) < 0
	})
	for i := range rs {
		groups[i] = rs[i].group
	}
}

// compareResponses orders responses by the ordering mode's primary key
// (variable for continuous, person for alternating), then unit name,
// person login, person code, person group, booklet name, and finally
// the numeric response id as an always-unique tie-break.
func compareResponses(a, b ResponseRecord, mode CaseOrderingMode) int {
	primaryA, primaryB := a.VariableID, b.VariableID
	if mode == OrderingAlternating {
		primaryA, primaryB = a.PersonLogin, b.PersonLogin
	}
	keys := [][2]string{
		{primaryA, primaryB},
		{a.UnitName, b.UnitName},
		{a.PersonLogin, b.PersonLogin},
		{a.PersonCode, b.PersonCode},
		{a.PersonGroup, b.PersonGroup},
		{a.BookletName, b.BookletName},
	}
	for _, k := range keys {
		if k[0] != k[1] {
			if k[0] < k[1] {
				return -1
			}
			return 1
		}
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

func zeroCounts(coders []Coder) map[int64]int {
	counts := make(map[int64]int, len(coders))
	for _, c := range coders {
		counts[c.ID] = 0
	}
	return counts
}

func sumCounts(counts map[int64]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
