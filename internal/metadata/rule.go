package metadata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// buildRule renders the validation rule for a compiled field as an expr
// expression over `value` (the submitted value) and `present` (whether the
// key was submitted at all). The rule text is part of the persisted compiled
// schema and is compiled into a program by NewHandle.
func buildRule(f CompiledField) string {
	var check string
	switch f.Type {
	case TypeString:
		check = "isString(value)"
	case TypeNumber:
		check = "isNumber(value)"
	case TypeBoolean:
		check = "isBool(value)"
	case TypeDate:
		check = "isDate(value)"
	case TypeArray:
		check = fmt.Sprintf("isList(value) && all(value, {%s})", elementCheck(f.ElementType))
	case TypeRelation:
		check = "isList(value) && all(value, {isID(#)})"
	default:
		check = "true"
	}

	if len(f.Enum) > 0 {
		set := enumLiteral(f.Enum)
		if f.Type == TypeArray {
			check += " && all(value, {# in " + set + "})"
		} else {
			check += " && value in " + set
		}
	}

	if !f.Required {
		return "!present || value == nil || (" + check + ")"
	}

	rule := `present && value != nil && value != "" && ` + check
	if f.Type == TypeArray || f.Type == TypeRelation {
		rule += " && len(value) > 0"
	}
	return rule
}

func elementCheck(elem string) string {
	switch elem {
	case TypeNumber:
		return "isNumber(#)"
	case TypeBoolean:
		return "isBool(#)"
	case TypeDate:
		return "isDate(#)"
	default:
		return "isString(#)"
	}
}

func enumLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// ruleEnv is the evaluation environment shared by every field rule.
func ruleEnv(value any, present bool) map[string]any {
	return map[string]any{
		"value":    value,
		"present":  present,
		"isString": isString,
		"isNumber": isNumber,
		"isBool":   isBool,
		"isDate":   isDate,
		"isList":   isList,
		"isID":     isID,
	}
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isDate(v any) bool {
	switch d := v.(type) {
	case time.Time:
		return true
	case string:
		_, ok := ParseDate(d)
		return ok
	}
	return false
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func isID(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
