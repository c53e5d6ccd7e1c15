package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldNames(fields []CompiledField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func TestCompileFields_AppendsSEOFieldsAfterUserFields(t *testing.T) {
	compiled, err := CompileFields([]FieldDefinition{
		{Name: "title", Type: "string", DataType: "textinput", Required: true},
	})
	require.NoError(t, err)

	require.Len(t, compiled, 8)
	assert.Equal(t, append([]string{"title"}, SEOFieldNames()...), fieldNames(compiled))
	assert.True(t, compiled[0].Required)
	assert.Equal(t, "text", compiled[0].StorageType)
}

func TestCompileFields_SEOFieldsAppearExactlyOnce(t *testing.T) {
	compiled, err := CompileFields([]FieldDefinition{
		{Name: "metaRobots", Type: "string", DataType: "singleselect", EnumValues: []string{"index", "noindex"}},
		{Name: "title", Type: "string"},
		{Name: "seoTitle", Type: "string", Required: true},
	})
	require.NoError(t, err)

	counts := map[string]int{}
	for _, f := range compiled {
		counts[f.Name]++
	}
	for _, name := range SEOFieldNames() {
		assert.Equal(t, 1, counts[name], name)
	}
	require.Len(t, compiled, 8)

	// Declared fields keep their position and their own definition.
	assert.Equal(t, []string{"metaRobots", "title", "seoTitle"}, fieldNames(compiled)[:3])
	assert.True(t, compiled[2].Required)
	assert.Equal(t, []string{"index", "noindex"}, compiled[0].Enum)
}

func TestCompileFields_IsIdempotentOverPreparedFields(t *testing.T) {
	raw := []FieldDefinition{{Name: "Product Name", Type: "string"}}

	prepared, err := PrepareFields(raw)
	require.NoError(t, err)
	first, err := CompileFields(raw)
	require.NoError(t, err)
	second, err := CompileFields(prepared)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompileFields_SanitizesNames(t *testing.T) {
	compiled, err := CompileFields([]FieldDefinition{{Name: " first name, v.2 ", Type: "string"}})
	require.NoError(t, err)
	assert.Equal(t, "firstnamev2", compiled[0].Name)
}

func TestCompileFields_EnumOnlyForChoiceHints(t *testing.T) {
	compiled, err := CompileFields([]FieldDefinition{
		{Name: "status", Type: "string", DataType: "singleselect", EnumValues: []string{"draft", " published ", "draft", ""}},
		{Name: "summary", Type: "string", DataType: "textarea", EnumValues: []string{"ignored"}},
		{Name: "tags", Type: "array", DataType: "selectmulti", EnumValues: []string{"a", "b"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"draft", "published"}, compiled[0].Enum)
	assert.Nil(t, compiled[1].Enum)
	assert.Equal(t, []string{"a", "b"}, compiled[2].Enum)
	assert.Equal(t, "list<string>", compiled[2].StorageType)
}

func TestCompileFields_RelationForms(t *testing.T) {
	compiled, err := CompileFields([]FieldDefinition{
		{Name: "owner", Type: "relation", RefModel: "User"},
		{Name: "authors", Type: "arrayrelation", DataType: "selectmulti", RefModel: "author", EnumValues: []string{"x"}},
		{Name: "editors", Type: "array", RefModel: "user"},
		{Name: "scores", Type: "array", ElementType: "number"},
	})
	require.NoError(t, err)

	owner := compiled[0]
	require.NotNil(t, owner.Ref)
	assert.Equal(t, TypeRelation, owner.Type)
	assert.Equal(t, "user", owner.Ref.Model)
	assert.Equal(t, "refs<user>", owner.StorageType)

	assert.Equal(t, TypeRelation, compiled[1].Type)
	assert.Nil(t, compiled[1].Enum)
	assert.Equal(t, TypeRelation, compiled[2].Type)

	assert.Nil(t, compiled[3].Ref)
	assert.Equal(t, "list<number>", compiled[3].StorageType)
}

func TestCompileFields_RejectsInvalidDefinitions(t *testing.T) {
	_, err := CompileFields([]FieldDefinition{
		{Name: "ok", Type: "string"},
		{Name: "ok", Type: "number"},
		{Name: "link", Type: "relation"},
		{Name: "blob", Type: "binary"},
		{Name: " ", Type: "string"},
		{Name: "9lives", Type: "string"},
		{Name: "createdAt", Type: "date"},
	})
	require.Error(t, err)

	var compileErr *CompileError
	require.True(t, errors.As(err, &compileErr))

	rules := map[string]string{}
	for _, p := range compileErr.Problems {
		rules[p.Field] = p.Rule
	}
	assert.Equal(t, "duplicate", rules["ok"])
	assert.Equal(t, "ref_model", rules["link"])
	assert.Equal(t, "type", rules["blob"])
	assert.Equal(t, "required", rules["fields[4]"])
	assert.Equal(t, "identifier", rules["9lives"])
	assert.Equal(t, "reserved", rules["createdAt"])
}

func TestBuildRule_Shapes(t *testing.T) {
	assert.Equal(t,
		`present && value != nil && value != "" && isString(value)`,
		buildRule(CompiledField{Type: TypeString, Required: true}))
	assert.Equal(t,
		`!present || value == nil || (isString(value) && value in ["a", "b"])`,
		buildRule(CompiledField{Type: TypeString, Enum: []string{"a", "b"}}))
	assert.Equal(t,
		`present && value != nil && value != "" && isList(value) && all(value, {isID(#)}) && len(value) > 0`,
		buildRule(CompiledField{Type: TypeRelation, Required: true, Ref: &Reference{Model: "user"}}))
}

func TestCompileFields_EnumDroppedForNonStringFields(t *testing.T) {
	compiled, err := CompileFields([]FieldDefinition{
		{Name: "rating", Type: "number", DataType: "radio", EnumValues: []string{"1", "2"}},
		{Name: "featured", Type: "boolean", DataType: "singleselect", EnumValues: []string{"true"}},
		{Name: "sizes", Type: "array", ElementType: "number", DataType: "selectmulti", EnumValues: []string{"1"}},
	})
	require.NoError(t, err)
	for _, f := range compiled[:3] {
		assert.Nil(t, f.Enum, f.Name)
	}

	h, err := NewHandle("review", 1, compiled)
	require.NoError(t, err)
	_, problems := h.Validate(map[string]any{"rating": 2.0, "featured": true, "sizes": []any{1.0}}, false)
	assert.Empty(t, problems)
}
