package coding

import (
	"regexp"
	"strconv"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize applies the matching mode to a raw response value.
// Normalization is idempotent for every flag combination.
func Normalize(value string, mode MatchingMode) string {
	if mode.Has(MatchNoAggregation) {
		return value
	}
	if mode.Has(MatchIgnoreCase) {
		value = strings.ToLower(value)
	}
	if mode.Has(MatchIgnoreWhitespace) {
		value = whitespaceRe.ReplaceAllString(value, "")
	}
	return value
}

// CaseGroup is one unique case: the responses sharing a normalized value.
type CaseGroup struct {
	Key       string
	Responses []ResponseRecord
}

// Aggregate groups responses by normalized value, preserving first-seen
// order of groups. Under MatchNoAggregation every response becomes its
// own singleton group, keyed by response id so identical values stay
// apart.
func Aggregate(responses []ResponseRecord, mode MatchingMode) []CaseGroup {
	if mode.Has(MatchNoAggregation) {
		groups := make([]CaseGroup, 0, len(responses))
		for _, r := range responses {
			groups = append(groups, CaseGroup{
				Key:       strconv.FormatInt(r.ID, 10),
				Responses: []ResponseRecord{r},
			})
		}
		return groups
	}

	index := make(map[string]int)
	groups := make([]CaseGroup, 0)
	for _, r := range responses {
		key := Normalize(r.Value, mode)
		if i, ok := index[key]; ok {
			groups[i].Responses = append(groups[i].Responses, r)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, CaseGroup{Key: key, Responses: []ResponseRecord{r}})
	}
	return groups
}

// ParseMatchingMode parses the persisted workspace setting, a
// comma-separated flag list. Unknown tokens are dropped.
func ParseMatchingMode(setting string) MatchingMode {
	var mode MatchingMode
	for _, token := range strings.Split(setting, ",") {
		switch MatchingFlag(strings.TrimSpace(token)) {
		case MatchNoAggregation:
			mode = append(mode, MatchNoAggregation)
		case MatchIgnoreCase:
			mode = append(mode, MatchIgnoreCase)
		case MatchIgnoreWhitespace:
			mode = append(mode, MatchIgnoreWhitespace)
		}
	}
	return mode
}
