package metadata

// seoFields are appended to every model, in this order, unless a field of
// the same name was declared.
var seoFields = []FieldDefinition{
	{Name: "seoTitle", Type: TypeString, DataType: "textinput"},
	{Name: "seoDescription", Type: TypeString, DataType: "textarea"},
	{Name: "focusKeywords", Type: TypeArray, ElementType: TypeString, DataType: "creatableselectmulti"},
	{Name: "canonicalUrl", Type: TypeString, DataType: "stringweblink"},
	{Name: "metaRobots", Type: TypeString, DataType: "singleselect"},
	{Name: "openGraphTitle", Type: TypeString, DataType: "textinput"},
	{Name: "openGraphDescription", Type: TypeString, DataType: "textarea"},
}

// SEOFieldNames returns the names of the standard SEO fields.
func SEOFieldNames() []string {
	names := make([]string, len(seoFields))
	for i, f := range seoFields {
		names[i] = f.Name
	}
	return names
}

// WithSEOFields returns fields followed by every SEO field not already present.
func WithSEOFields(fields []FieldDefinition) []FieldDefinition {
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		present[f.Name] = true
	}

	out := make([]FieldDefinition, 0, len(fields)+len(seoFields))
	out = append(out, fields...)
	for _, f := range seoFields {
		if !present[f.Name] {
			out = append(out, f)
		}
	}
	return out
}
