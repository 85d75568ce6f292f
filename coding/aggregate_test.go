package coding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdempotent(t *testing.T) {
	modes := []MatchingMode{
		nil,
		{MatchIgnoreCase},
		{MatchIgnoreWhitespace},
		{MatchIgnoreCase, MatchIgnoreWhitespace},
		{MatchNoAggregation},
		{MatchNoAggregation, MatchIgnoreCase},
	}
	values := []string{"Paris ", "  New\tYork  ", "ROME", "", "a b c"}

	for _, mode := range modes {
		for _, v := range values {
			once := Normalize(v, mode)
			twice := Normalize(once, mode)
			assert.Equal(t, once, twice, "Normalization should be idempotent for %v / %q", mode, v)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	assert.Equal(t, "paris ", Normalize("Paris ", MatchingMode{MatchIgnoreCase}))
	assert.Equal(t, "Paris", Normalize("Paris ", MatchingMode{MatchIgnoreWhitespace}))
	assert.Equal(t, "paris", Normalize(" PaRiS ", MatchingMode{MatchIgnoreCase, MatchIgnoreWhitespace}))

	// No-aggregation short-circuits every other flag
	assert.Equal(t, " PaRiS ", Normalize(" PaRiS ", MatchingMode{MatchNoAggregation, MatchIgnoreCase}))
}

func TestAggregateGroupsEquivalentValues(t *testing.T) {
	responses := []ResponseRecord{
		{ID: 1, Value: "Paris "},
		{ID: 2, Value: "paris"},
		{ID: 3, Value: "London"},
		{ID: 4, Value: " PARIS"},
	}

	groups := Aggregate(responses, MatchingMode{MatchIgnoreCase, MatchIgnoreWhitespace})
	require.Len(t, groups, 2, "Should collapse equivalent values into one case")

	assert.Equal(t, "paris", groups[0].Key)
	assert.Len(t, groups[0].Responses, 3)
	assert.Equal(t, "london", groups[1].Key)
	assert.Len(t, groups[1].Responses, 1)
}

func TestAggregatePreservesFirstSeenOrder(t *testing.T) {
	responses := []ResponseRecord{
		{ID: 1, Value: "b"},
		{ID: 2, Value: "a"},
		{ID: 3, Value: "b"},
		{ID: 4, Value: "c"},
	}

	groups := Aggregate(responses, nil)
	require.Len(t, groups, 3)
	assert.Equal(t, "b", groups[0].Key)
	assert.Equal(t, "a", groups[1].Key)
	assert.Equal(t, "c", groups[2].Key)
}

func TestAggregateNoAggregationSingletons(t *testing.T) {
	responses := []ResponseRecord{
		{ID: 10, Value: "same"},
		{ID: 11, Value: "same"},
		{ID: 12, Value: "same"},
	}

	groups := Aggregate(responses, MatchingMode{MatchNoAggregation})
	require.Len(t, groups, 3, "Identical values should stay apart under no_aggregation")

	seen := make(map[string]bool)
	for _, g := range groups {
		assert.Len(t, g.Responses, 1)
		assert.False(t, seen[g.Key], "Singleton keys should be unique")
		seen[g.Key] = true
	}
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, nil))
	assert.Empty(t, Aggregate(nil, MatchingMode{MatchNoAggregation}))
}

func TestParseMatchingMode(t *testing.T) {
	mode := ParseMatchingMode("ignore_case, ignore_whitespace")
	assert.True(t, mode.Has(MatchIgnoreCase))
	assert.True(t, mode.Has(MatchIgnoreWhitespace))
	assert.False(t, mode.Has(MatchNoAggregation))

	// Unknown tokens are dropped, not errors
	mode = ParseMatchingMode("bogus,no_aggregation")
	assert.Equal(t, MatchingMode{MatchNoAggregation}, mode)

	assert.Empty(t, ParseMatchingMode(""))
}
