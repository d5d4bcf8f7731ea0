package plugin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// condition is a parsed "field operator value" expression.
//
// Supported expressions:
//
//	severity == info
//	severity < critical
//	title == "Database is down"
//	title contains staging
//	message contains timeout
//	p95_ms > 800           (any other field is looked up in Metrics)
type condition struct {
	field string
	op    string
	value string
}

var validOps = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true, "contains": true,
}

// parseCondition splits expr into field, operator and value. The value may
// contain spaces and may be wrapped in double quotes.
func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) < 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	op := parts[1]
	if !validOps[op] {
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}
	value := strings.Join(parts[2:], " ")
	if unq, err := strconv.Unquote(value); err == nil {
		value = unq
	}
	return condition{field: parts[0], op: op, value: value}, nil
}

// match evaluates the condition against a. Unknown metric fields and
// non-numeric metric values never match.
func (c condition) match(a alert.Alert) bool {
	switch c.field {
	case "severity":
		want, err := alert.ParseSeverity(c.value)
		if err != nil {
			return false
		}
		return compareFloat(float64(a.Severity.Rank()), c.op, float64(want.Rank()))
	case "title":
		return compareString(a.Title, c.op, c.value)
	case "message":
		return compareString(a.Message, c.op, c.value)
	default:
		raw, ok := a.Metrics[c.field]
		if !ok {
			return false
		}
		v, ok := toFloat(raw)
		if !ok {
			return compareString(fmt.Sprint(raw), c.op, c.value)
		}
		threshold, err := strconv.ParseFloat(c.value, 64)
		if err != nil {
			return false
		}
		return compareFloat(v, c.op, threshold)
	}
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return v == want
	case "!=":
		return v != want
	case "contains":
		return strings.Contains(v, want)
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
