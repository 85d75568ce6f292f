package batch

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/assessly/codermill/errors"
)

// Response statuses produced by automatic coding.
const (
	StatusCodingComplete   = "CODING_COMPLETE"
	StatusCodingIncomplete = "CODING_INCOMPLETE"
)

// Rule matching methods supported by coding-scheme documents.
const (
	MethodEquals       = "equals"
	MethodMatches      = "matches"
	MethodNumericRange = "numeric-range"
)

// Rule is one coding rule of a scheme variable: if the method matches
// the response value, the rule's code and score apply.
type Rule struct {
	Method     string   `json:"method"`
	Parameters []string `json:"parameters"`
	Code       int      `json:"code"`
	Score      int      `json:"score"`
}

// Scheme maps variable ids to their ordered coding rules.
type Scheme map[string][]Rule

// ParseScheme decodes a coding-scheme document. The empty document is a
// valid empty scheme.
func ParseScheme(document string) (Scheme, error) {
	if strings.TrimSpace(document) == "" {
		return Scheme{}, nil
	}

	var scheme Scheme
	if err := json.Unmarshal([]byte(document), &scheme); err != nil {
		return nil, errors.Wrap(err, "failed to parse coding scheme document")
	}
	return scheme, nil
}

// CodeValue evaluates a response value against a variable's rules. The
// first matching rule wins. A variable with no rules, or a value no rule
// matches, yields CODING_INCOMPLETE; an empty scheme therefore still
// produces a definite outcome for every response.
func CodeValue(scheme Scheme, variableID string, value string) ResponseUpdate {
	for _, rule := range scheme[variableID] {
		if ruleMatches(rule, value) {
			code := rule.Code
			score := rule.Score
			return ResponseUpdate{
				Status: StatusCodingComplete,
				Code:   &code,
				Score:  &score,
			}
		}
	}
	return ResponseUpdate{Status: StatusCodingIncomplete}
}

func ruleMatches(rule Rule, value string) bool {
	switch rule.Method {
	case MethodEquals:
		for _, param := range rule.Parameters {
			if value == param {
				return true
			}
		}
		return false

	case MethodMatches:
		for _, param := range rule.Parameters {
			re, err := regexp.Compile(param)
			if err != nil {
				continue
			}
			if re.MatchString(value) {
				return true
			}
		}
		return false

	case MethodNumericRange:
		if len(rule.Parameters) < 2 {
			return false
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false
		}
		lo, err := strconv.ParseFloat(rule.Parameters[0], 64)
		if err != nil {
			return false
		}
		hi, err := strconv.ParseFloat(rule.Parameters[1], 64)
		if err != nil {
			return false
		}
		return n >= lo && n <= hi

	default:
		return false
	}
}
