package metadata

import (
	"testing"

	"github.com/expr-lang/expr"
)

func evalRule(t *testing.T, f CompiledField, value any, present bool) bool {
	t.Helper()
	program, err := expr.Compile(buildRule(f), expr.AsBool())
	if err != nil {
		t.Fatalf("compile rule %q: %v", buildRule(f), err)
	}
	out, err := expr.Run(program, ruleEnv(value, present))
	if err != nil {
		t.Fatalf("run rule: %v", err)
	}
	return out.(bool)
}

func TestRule_Evaluation(t *testing.T) {
	cases := []struct {
		name    string
		field   CompiledField
		value   any
		present bool
		want    bool
	}{
		{"required string", CompiledField{Type: TypeString, Required: true}, "hi", true, true},
		{"required string empty", CompiledField{Type: TypeString, Required: true}, "", true, false},
		{"required string absent", CompiledField{Type: TypeString, Required: true}, nil, false, false},
		{"optional absent", CompiledField{Type: TypeNumber}, nil, false, true},
		{"optional null", CompiledField{Type: TypeNumber}, nil, true, true},
		{"number", CompiledField{Type: TypeNumber}, float64(3), true, true},
		{"number as string", CompiledField{Type: TypeNumber}, "3", true, false},
		{"bool", CompiledField{Type: TypeBoolean}, true, true, true},
		{"date plain", CompiledField{Type: TypeDate}, "2024-02-29", true, true},
		{"date rfc3339", CompiledField{Type: TypeDate}, "2024-02-29T10:00:00Z", true, true},
		{"date garbage", CompiledField{Type: TypeDate}, "yesterday", true, false},
		{"enum hit", CompiledField{Type: TypeString, Enum: []string{"draft", "live"}}, "live", true, true},
		{"enum miss", CompiledField{Type: TypeString, Enum: []string{"draft", "live"}}, "gone", true, false},
		{"array of numbers", CompiledField{Type: TypeArray, ElementType: TypeNumber}, []any{float64(1), float64(2)}, true, true},
		{"array mixed", CompiledField{Type: TypeArray, ElementType: TypeNumber}, []any{float64(1), "2"}, true, false},
		{"array enum", CompiledField{Type: TypeArray, ElementType: TypeString, Enum: []string{"a"}}, []any{"a", "b"}, true, false},
		{"relation ids", CompiledField{Type: TypeRelation, Ref: &Reference{Model: "tag"}}, []any{"t1"}, true, true},
		{"relation empty id", CompiledField{Type: TypeRelation, Ref: &Reference{Model: "tag"}}, []any{""}, true, false},
		{"required relation empty", CompiledField{Type: TypeRelation, Required: true, Ref: &Reference{Model: "tag"}}, []any{}, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := evalRule(t, tc.field, tc.value, tc.present); got != tc.want {
				t.Fatalf("rule %q on %v: got %v, want %v", buildRule(tc.field), tc.value, got, tc.want)
			}
		})
	}
}

func TestEnumLiteral_QuotesValues(t *testing.T) {
	got := enumLiteral([]string{`say "hi"`, "plain"})
	want := `["say \"hi\"", "plain"]`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestParseDate(t *testing.T) {
	if _, ok := ParseDate("2024-13-01"); ok {
		t.Fatal("month 13 should not parse")
	}
	d, ok := ParseDate("2024-03-05")
	if !ok || d.Day() != 5 {
		t.Fatalf("expected 5 March, got %v (%v)", d, ok)
	}
}
