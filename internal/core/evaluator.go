package core

import (
	"reflect"
	"strings"
)

// EvaluateRule evaluates one rule against a visitor context snapshot. It
// returns a ValidationError for rules that cannot be evaluated instead of
// silently passing or panicking on a type mismatch.
func EvaluateRule(rule Rule, visitor VisitorContext) (bool, error) {
	field, err := fieldForKind(rule, visitor)
	if err != nil {
		return false, err
	}

	switch rule.Condition {
	case ConditionIs:
		return valuesEqual(field, rule.Value), nil
	case ConditionIsNot:
		return !valuesEqual(field, rule.Value), nil
	case ConditionIsUnknown:
		return isZeroValue(field), nil
	case ConditionHasAnyValue:
		return !isZeroValue(field), nil
	case ConditionStartsWith:
		text, pattern, err := stringOperands(rule, field)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(text, pattern), nil
	case ConditionEndsWith:
		text, pattern, err := stringOperands(rule, field)
		if err != nil {
			return false, err
		}
		return strings.HasSuffix(text, pattern), nil
	case ConditionGreaterThan:
		order, comparable := compareValues(field, rule.Value)
		return comparable && order > 0, nil
	case ConditionLessThan:
		order, comparable := compareValues(field, rule.Value)
		return comparable && order < 0, nil
	default:
		return false, &ValidationError{Rule: rule, Reason: "unknown condition"}
	}
}

// EvaluateRules reports whether the visitor satisfies every rule in the set.
// Evaluation stops at the first failing rule; the result is a pure AND, so
// the short-circuit never changes the outcome.
func EvaluateRules(rules []Rule, visitor VisitorContext) (bool, error) {
	for _, rule := range rules {
		passed, err := EvaluateRule(rule, visitor)
		if err != nil {
			return false, err
		}
		if !passed {
			return false, nil
		}
	}

	return true, nil
}

func fieldForKind(rule Rule, visitor VisitorContext) (any, error) {
	switch rule.Kind {
	case KindBrowserLanguage:
		return visitor.BrowserLanguage, nil
	case KindCurrentPageURL:
		return visitor.CurrentPageURL, nil
	case KindCity:
		return visitor.City, nil
	case KindCountry:
		return visitor.Country, nil
	case KindNumberOfVisits:
		return visitor.NumberOfVisits, nil
	default:
		return nil, &ValidationError{Rule: rule, Reason: "unknown kind"}
	}
}

func stringOperands(rule Rule, field any) (string, string, error) {
	text, ok := field.(string)
	if !ok {
		return "", "", &ValidationError{Rule: rule, Reason: "substring condition on a numeric field"}
	}

	pattern, ok := rule.Value.(string)
	if !ok {
		return "", "", &ValidationError{Rule: rule, Reason: "substring condition requires a string value"}
	}

	return text, pattern, nil
}

func isZeroValue(field any) bool {
	switch v := field.(type) {
	case string:
		return v == ""
	case int:
		return v == 0
	default:
		return field == nil
	}
}

// valuesEqual compares a context field with a rule value. Rule values arrive
// from JSON as float64, so numeric comparisons coerce both sides rather than
// requiring identical Go types.
func valuesEqual(left any, right any) bool {
	if leftNum, ok := asFloat64(left); ok {
		if rightNum, ok := asFloat64(right); ok {
			return leftNum == rightNum
		}
		return false
	}

	if leftStr, ok := left.(string); ok {
		if rightStr, ok := right.(string); ok {
			return leftStr == rightStr
		}
		return false
	}

	return reflect.DeepEqual(left, right)
}

// compareValues orders a context field against a rule value. It returns the
// sign of left-right and whether the two operands were comparable at all:
// both numeric (after coercion) or both strings.
func compareValues(left any, right any) (int, bool) {
	if leftNum, ok := asFloat64(left); ok {
		if rightNum, ok := asFloat64(right); ok {
			switch {
			case leftNum < rightNum:
				return -1, true
			case leftNum > rightNum:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}

	if leftStr, ok := left.(string); ok {
		if rightStr, ok := right.(string); ok {
			return strings.Compare(leftStr, rightStr), true
		}
	}

	return 0, false
}

func asFloat64(value any) (float64, bool) {
	switch number := value.(type) {
	case int:
		return float64(number), true
	case int8:
		return float64(number), true
	case int16:
		return float64(number), true
	case int32:
		return float64(number), true
	case int64:
		return float64(number), true
	case uint:
		return float64(number), true
	case uint8:
		return float64(number), true
	case uint16:
		return float64(number), true
	case uint32:
		return float64(number), true
	case uint64:
		return float64(number), true
	case float32:
		return float64(number), true
	case float64:
		return number, true
	default:
		return 0, false
	}
}
