package metadata

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// System keys are managed by the store and never accepted from clients.
var systemKeys = map[string]bool{"_id": true, "createdAt": true, "updatedAt": true}

// Handle is the live, compiled form of a model used to validate documents.
// An open handle accepts any field.
type Handle struct {
	model   string
	version int64
	fields  []CompiledField
	index   map[string]int
	rules   []*vm.Program
	open    bool
}

// OpenHandle returns a permissive fallback handle for model.
func OpenHandle(model string) *Handle {
	return &Handle{model: strings.ToLower(model), open: true, index: map[string]int{}}
}

// NewHandle compiles every field rule. It fails if any rule does not compile.
func NewHandle(model string, version int64, fields []CompiledField) (*Handle, error) {
	h := &Handle{
		model:   model,
		version: version,
		fields:  fields,
		index:   make(map[string]int, len(fields)),
		rules:   make([]*vm.Program, len(fields)),
	}
	for i, f := range fields {
		prog, err := expr.Compile(f.Rule, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule for %s.%s: %w", model, f.Name, err)
		}
		h.rules[i] = prog
		h.index[f.Name] = i
	}
	return h, nil
}

func (h *Handle) Model() string  { return h.model }
func (h *Handle) Version() int64 { return h.version }
func (h *Handle) Open() bool     { return h.open }

// Field returns the named compiled field, or nil.
func (h *Handle) Field(name string) *CompiledField {
	i, ok := h.index[name]
	if !ok {
		return nil
	}
	return &h.fields[i]
}

// Fields returns a copy of the compiled field list.
func (h *Handle) Fields() []CompiledField {
	out := make([]CompiledField, len(h.fields))
	copy(out, h.fields)
	return out
}

// StringFields returns the fields searched by substring queries.
func (h *Handle) StringFields() []string {
	var names []string
	for _, f := range h.fields {
		if f.Type == TypeString && !f.IsSecret() {
			names = append(names, f.Name)
		}
	}
	return names
}

func (h *Handle) RelationFields() []CompiledField {
	var out []CompiledField
	for _, f := range h.fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

func (h *Handle) UniqueFields() []string {
	var names []string
	for _, f := range h.fields {
		if f.Unique {
			names = append(names, f.Name)
		}
	}
	return names
}

func (h *Handle) SecretFields() []string {
	var names []string
	for _, f := range h.fields {
		if f.IsSecret() {
			names = append(names, f.Name)
		}
	}
	return names
}

// Validate checks doc against the field rules and returns the accepted values.
// Unknown keys are dropped; on an open handle every non-system key is kept.
// With partial set, only submitted keys are checked (update semantics).
func (h *Handle) Validate(doc map[string]any, partial bool) (map[string]any, []FieldError) {
	clean := make(map[string]any, len(doc))

	if h.open {
		for k, v := range doc {
			if !systemKeys[k] {
				clean[k] = v
			}
		}
		return clean, nil
	}

	var problems []FieldError
	for i, f := range h.fields {
		v, present := doc[f.Name]
		if partial && !present {
			continue
		}
		if present {
			v = normalizeValue(f, v)
		}

		out, err := expr.Run(h.rules[i], ruleEnv(v, present))
		if err != nil {
			problems = append(problems, FieldError{Field: f.Name, Rule: "rule", Message: fmt.Sprintf("%s: %v", f.Name, err)})
			continue
		}
		if ok, _ := out.(bool); !ok {
			problems = append(problems, describeFailure(f, v, present))
			continue
		}
		if present {
			clean[f.Name] = v
		}
	}
	return clean, problems
}

// normalizeValue coerces equivalent shapes: a single relation id becomes a
// one-element list and typed slices become []any.
func normalizeValue(f CompiledField, v any) any {
	switch val := v.(type) {
	case string:
		if f.IsRelation() && val != "" {
			return []any{val}
		}
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	return v
}

func describeFailure(f CompiledField, v any, present bool) FieldError {
	if f.Required && (!present || v == nil || v == "") {
		return FieldError{Field: f.Name, Rule: "required", Message: fmt.Sprintf("%s is required", f.Name)}
	}

	want := f.Type
	switch {
	case f.IsRelation():
		want = "list of " + f.Ref.Model + " ids"
	case f.Type == TypeArray:
		want = "list of " + f.ElementType
	}
	if len(f.Enum) > 0 {
		return FieldError{Field: f.Name, Rule: "enum", Message: fmt.Sprintf("%s must be a %s with values in [%s]", f.Name, want, strings.Join(f.Enum, ", "))}
	}
	if f.Required && (f.Type == TypeArray || f.IsRelation()) {
		return FieldError{Field: f.Name, Rule: "type", Message: fmt.Sprintf("%s must be a non-empty %s", f.Name, want)}
	}
	return FieldError{Field: f.Name, Rule: "type", Message: fmt.Sprintf("%s must be a %s", f.Name, want)}
}
