package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// choiceHints are the presentation hints whose enumValues constrain storage.
var choiceHints = map[string]bool{
	"singleselect": true,
	"selectmulti":  true,
	"multiselect":  true,
	"radio":        true,
}

var elementTypes = map[string]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeDate:    true,
}

// FieldError reports one problem with a field definition or a document value.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

// CompileError collects every problem found while compiling a field list.
type CompileError struct {
	Problems []FieldError
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Message
	}
	return "invalid fields: " + strings.Join(msgs, "; ")
}

// SanitizeName removes whitespace, commas and periods from a name.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == ',' || r == '.' {
			return -1
		}
		return r
	}, name)
}

// IsIdentifier reports whether s is usable as a model or field name.
func IsIdentifier(s string) bool {
	return identPattern.MatchString(s)
}

// PrepareFields normalizes designer input and appends the SEO fields.
// The result is what the Schema Store persists.
func PrepareFields(fields []FieldDefinition) ([]FieldDefinition, error) {
	normalized := make([]FieldDefinition, 0, len(fields))
	var problems []FieldError
	seen := make(map[string]bool, len(fields))

	for i, f := range fields {
		nf, errs := normalizeField(f)
		if len(errs) > 0 {
			for _, e := range errs {
				if e.Field == "" {
					e.Field = fmt.Sprintf("fields[%d]", i)
				}
				problems = append(problems, e)
			}
			continue
		}
		if seen[nf.Name] {
			problems = append(problems, FieldError{Field: nf.Name, Rule: "duplicate", Message: fmt.Sprintf("duplicate field %q", nf.Name)})
			continue
		}
		seen[nf.Name] = true
		normalized = append(normalized, nf)
	}

	if len(problems) > 0 {
		return nil, &CompileError{Problems: problems}
	}
	return WithSEOFields(normalized), nil
}

// CompileFields compiles a field list into its storage form.
// The SEO fields are appended when absent, so compiling an already prepared
// list yields the same result.
func CompileFields(fields []FieldDefinition) ([]CompiledField, error) {
	prepared, err := PrepareFields(fields)
	if err != nil {
		return nil, err
	}

	compiled := make([]CompiledField, len(prepared))
	for i, f := range prepared {
		compiled[i] = compileField(f)
	}
	return compiled, nil
}

func normalizeField(f FieldDefinition) (FieldDefinition, []FieldError) {
	f.Name = SanitizeName(f.Name)
	f.Type = strings.ToLower(strings.TrimSpace(f.Type))
	f.ElementType = strings.ToLower(strings.TrimSpace(f.ElementType))
	f.DataType = strings.TrimSpace(f.DataType)
	f.RefModel = strings.ToLower(SanitizeName(f.RefModel))

	var errs []FieldError
	if f.Name == "" {
		return f, []FieldError{{Rule: "required", Message: "field name is required"}}
	}
	if !IsIdentifier(f.Name) {
		errs = append(errs, FieldError{Field: f.Name, Rule: "identifier", Message: fmt.Sprintf("field name %q is not a valid identifier", f.Name)})
	}
	if f.Name == "_id" || f.Name == "createdAt" || f.Name == "updatedAt" {
		errs = append(errs, FieldError{Field: f.Name, Rule: "reserved", Message: fmt.Sprintf("field name %q is reserved", f.Name)})
	}

	switch f.Type {
	case "arrayrelation":
		f.Type = TypeRelation
	case TypeArray:
		if f.RefModel != "" {
			f.Type = TypeRelation
		}
	case "":
		f.Type = TypeString
	}

	switch f.Type {
	case TypeString, TypeNumber, TypeBoolean, TypeDate:
		f.ElementType = ""
		f.RefModel = ""
	case TypeArray:
		if f.ElementType == "" {
			f.ElementType = TypeString
		}
		if !elementTypes[f.ElementType] {
			errs = append(errs, FieldError{Field: f.Name, Rule: "element_type", Message: fmt.Sprintf("unsupported element type %q", f.ElementType)})
		}
	case TypeRelation:
		f.ElementType = ""
		if f.RefModel == "" {
			errs = append(errs, FieldError{Field: f.Name, Rule: "ref_model", Message: "relation field requires refModel"})
		} else if !IsIdentifier(f.RefModel) {
			errs = append(errs, FieldError{Field: f.Name, Rule: "ref_model", Message: fmt.Sprintf("refModel %q is not a valid model name", f.RefModel)})
		}
	default:
		errs = append(errs, FieldError{Field: f.Name, Rule: "type", Message: fmt.Sprintf("unsupported field type %q", f.Type)})
	}

	// Enum values are strings, so only string-valued fields can carry them.
	stringValued := f.Type == TypeString || (f.Type == TypeArray && f.ElementType == TypeString)
	if choiceHints[f.DataType] && stringValued {
		f.EnumValues = cleanEnum(f.EnumValues)
	} else {
		f.EnumValues = nil
	}

	return f, errs
}

func cleanEnum(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func compileField(f FieldDefinition) CompiledField {
	cf := CompiledField{
		Name:        f.Name,
		Type:        f.Type,
		ElementType: f.ElementType,
		Hint:        f.DataType,
		Required:    f.Required,
		Unique:      f.DataType == "stringunique",
		Enum:        f.EnumValues,
	}

	switch f.Type {
	case TypeString:
		cf.StorageType = "text"
	case TypeNumber:
		cf.StorageType = "number"
	case TypeBoolean:
		cf.StorageType = "boolean"
	case TypeDate:
		cf.StorageType = "timestamp"
	case TypeArray:
		cf.StorageType = "list<" + f.ElementType + ">"
	case TypeRelation:
		cf.StorageType = "refs<" + f.RefModel + ">"
		cf.Ref = &Reference{Model: f.RefModel, Collection: CollectionName(f.RefModel)}
	}

	cf.Rule = buildRule(cf)
	return cf
}
