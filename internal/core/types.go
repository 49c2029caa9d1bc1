package core

import "fmt"

// Kind selects which visitor context field a rule is tested against.
type Kind string

const (
	KindBrowserLanguage Kind = "browserLanguage"
	KindCurrentPageURL  Kind = "currentPageUrl"
	KindCity            Kind = "city"
	KindCountry         Kind = "country"
	KindNumberOfVisits  Kind = "numberOfVisits"
)

// Condition is the comparison a rule applies to its target field.
type Condition string

const (
	ConditionIs          Condition = "is"
	ConditionIsNot       Condition = "isNot"
	ConditionIsUnknown   Condition = "isUnknown"
	ConditionHasAnyValue Condition = "hasAnyValue"
	ConditionStartsWith  Condition = "startsWith"
	ConditionEndsWith    Condition = "endsWith"
	ConditionGreaterThan Condition = "greaterThan"
	ConditionLessThan    Condition = "lessThan"
)

// Rule is a single targeting predicate owned by an engage message.
type Rule struct {
	Kind      Kind      `json:"kind"`
	Condition Condition `json:"condition"`
	Value     any       `json:"value,omitempty"`
}

// VisitorContext is the snapshot of a visitor's browser, location, and visit
// data that rules are evaluated against. It is built once per trigger call
// and never mutated.
type VisitorContext struct {
	BrowserLanguage string
	CurrentPageURL  string
	City            string
	Country         string
	NumberOfVisits  int
}

// ValidationError reports a rule that cannot be evaluated: an unknown kind or
// condition, or a condition applied to a field that does not support it.
type ValidationError struct {
	Rule   Rule
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule %s/%s: %s", e.Rule.Kind, e.Rule.Condition, e.Reason)
}

var knownKinds = map[Kind]struct{}{
	KindBrowserLanguage: {},
	KindCurrentPageURL:  {},
	KindCity:            {},
	KindCountry:         {},
	KindNumberOfVisits:  {},
}

var knownConditions = map[Condition]struct{}{
	ConditionIs:          {},
	ConditionIsNot:       {},
	ConditionIsUnknown:   {},
	ConditionHasAnyValue: {},
	ConditionStartsWith:  {},
	ConditionEndsWith:    {},
	ConditionGreaterThan: {},
	ConditionLessThan:    {},
}

// ValidateRule rejects unknown kinds and conditions, and kind/condition
// combinations that cannot be evaluated, so malformed rules are refused when
// an engage message is written rather than silently passing at trigger time.
func ValidateRule(rule Rule) error {
	if _, ok := knownKinds[rule.Kind]; !ok {
		return &ValidationError{Rule: rule, Reason: "unknown kind"}
	}
	if _, ok := knownConditions[rule.Condition]; !ok {
		return &ValidationError{Rule: rule, Reason: "unknown condition"}
	}

	switch rule.Condition {
	case ConditionIsUnknown, ConditionHasAnyValue:
		// Presence checks carry no comparison value.
		return nil
	case ConditionStartsWith, ConditionEndsWith:
		if rule.Kind == KindNumberOfVisits {
			return &ValidationError{Rule: rule, Reason: "substring condition on a numeric field"}
		}
		if _, ok := rule.Value.(string); !ok {
			return &ValidationError{Rule: rule, Reason: "substring condition requires a string value"}
		}
	case ConditionGreaterThan, ConditionLessThan:
		if _, isString := rule.Value.(string); isString {
			return nil
		}
		if _, isNumber := asFloat64(rule.Value); !isNumber {
			return &ValidationError{Rule: rule, Reason: "ordering condition requires a string or numeric value"}
		}
	}

	return nil
}

// ValidateRules validates every rule in the set and returns the first error.
func ValidateRules(rules []Rule) error {
	for _, rule := range rules {
		if err := ValidateRule(rule); err != nil {
			return err
		}
	}

	return nil
}

// NeedsLocation reports whether any rule in the set tests the visitor's city
// or country. Geolocation is only resolved when this is true.
func NeedsLocation(rules []Rule) bool {
	for _, rule := range rules {
		if rule.Kind == KindCity || rule.Kind == KindCountry {
			return true
		}
	}

	return false
}
