// Package condition evaluates flow-selection predicates against request
// attributes. Every failure to interpret a condition evaluates false so a
// malformed definition never matches.
package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

var dateLayouts = []string{time.RFC3339, "2006-01-02"}

var knownOperators = map[string]bool{
	entity.OpEq:       true,
	entity.OpNeq:      true,
	entity.OpGt:       true,
	entity.OpGte:      true,
	entity.OpLt:       true,
	entity.OpLte:      true,
	entity.OpIn:       true,
	entity.OpContains: true,
}

// IsKnownOperator reports whether op is a supported operator
func IsKnownOperator(op string) bool {
	return knownOperators[op]
}

// Validate checks that a condition is well formed
func Validate(cond entity.SelectionCondition) error {
	if strings.TrimSpace(cond.Field) == "" {
		return fmt.Errorf("condition field is empty")
	}
	if !IsKnownOperator(cond.Operator) {
		return fmt.Errorf("unknown operator %q on field %s", cond.Operator, cond.Field)
	}
	return nil
}

// MatchesAll reports whether every condition holds. Zero conditions match.
func MatchesAll(conds []entity.SelectionCondition, attrs map[string]interface{}) bool {
	for _, c := range conds {
		if !Matches(c, attrs) {
			return false
		}
	}
	return true
}

// Matches evaluates one condition against attrs
func Matches(cond entity.SelectionCondition, attrs map[string]interface{}) bool {
	actual, ok := lookup(attrs, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case entity.OpEq:
		return equal(actual, cond.Value)
	case entity.OpNeq:
		return !equal(actual, cond.Value)
	case entity.OpGt, entity.OpGte, entity.OpLt, entity.OpLte:
		c, ok := compare(actual, cond.Value)
		if !ok {
			return false
		}
		switch cond.Operator {
		case entity.OpGt:
			return c > 0
		case entity.OpGte:
			return c >= 0
		case entity.OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case entity.OpIn:
		for _, candidate := range listOf(cond.Value, true) {
			if equal(actual, candidate) {
				return true
			}
		}
		return false
	case entity.OpContains:
		return contains(actual, cond.Value)
	}
	return false
}

// lookup resolves field in attrs. Dotted fields descend into nested maps
// when no attribute carries the full dotted name.
func lookup(attrs map[string]interface{}, field string) (interface{}, bool) {
	if attrs == nil || field == "" {
		return nil, false
	}
	if v, ok := attrs[field]; ok {
		return v, v != nil
	}

	parts := strings.Split(field, ".")
	if len(parts) == 1 {
		return nil, false
	}
	var cur interface{} = attrs
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func equal(a, b interface{}) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	if isList(a) || isList(b) {
		return false
	}
	return scalarString(a) == scalarString(b)
}

// compare orders a against b numerically, then as dates.
// The bool is false when the two values are not comparable.
func compare(a, b interface{}) (int, bool) {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	}
	if x, ok := toTime(a); ok {
		if y, ok := toTime(b); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func contains(actual, needle interface{}) bool {
	if isList(actual) {
		for _, item := range listOf(actual, false) {
			if equal(item, needle) {
				return true
			}
		}
		return false
	}
	s, ok := actual.(string)
	if !ok || isList(needle) {
		return false
	}
	return strings.Contains(s, scalarString(needle))
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// listOf flattens v into a list. With splitStrings a comma-separated
// string is treated as a list literal.
func listOf(v interface{}, splitStrings bool) []interface{} {
	if s, ok := v.(string); ok {
		if !splitStrings {
			return []interface{}{s}
		}
		parts := strings.Split(s, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	if !isList(v) {
		return []interface{}{v}
	}
	rv := reflect.ValueOf(v)
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func scalarString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case time.Time:
		return s.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
