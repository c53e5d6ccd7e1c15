package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productHandle(t *testing.T) *Handle {
	t.Helper()
	compiled, err := CompileFields([]FieldDefinition{
		{Name: "title", Type: "string", Required: true},
		{Name: "price", Type: "number"},
		{Name: "status", Type: "string", DataType: "singleselect", EnumValues: []string{"draft", "live"}},
		{Name: "launch", Type: "date", DataType: "inputdate"},
		{Name: "tags", Type: "array", DataType: "selectmulti", EnumValues: []string{"new", "sale"}},
		{Name: "owner", Type: "relation", RefModel: "user"},
		{Name: "secret", Type: "string", DataType: "password"},
	})
	require.NoError(t, err)
	h, err := NewHandle("product", 1, compiled)
	require.NoError(t, err)
	return h
}

func TestHandle_ValidateAcceptsWellFormedDocument(t *testing.T) {
	h := productHandle(t)

	clean, problems := h.Validate(map[string]any{
		"title":   "Lamp",
		"price":   12.5,
		"status":  "live",
		"launch":  "2024-05-01",
		"tags":    []any{"new"},
		"owner":   "u1",
		"unknown": "dropped",
		"_id":     "client-chosen",
	}, false)

	require.Empty(t, problems)
	assert.Equal(t, "Lamp", clean["title"])
	assert.Equal(t, []any{"u1"}, clean["owner"])
	assert.NotContains(t, clean, "unknown")
	assert.NotContains(t, clean, "_id")
}

func TestHandle_ValidateReportsEachBrokenRule(t *testing.T) {
	h := productHandle(t)

	_, problems := h.Validate(map[string]any{
		"price":  "cheap",
		"status": "archived",
		"launch": "yesterday",
		"tags":   []any{"new", "old"},
		"owner":  []any{""},
	}, false)

	rules := map[string]string{}
	for _, p := range problems {
		rules[p.Field] = p.Rule
	}
	assert.Equal(t, map[string]string{
		"title":  "required",
		"price":  "type",
		"status": "enum",
		"launch": "type",
		"tags":   "enum",
		"owner":  "type",
	}, rules)
}

func TestHandle_PartialValidationSkipsAbsentKeys(t *testing.T) {
	h := productHandle(t)

	clean, problems := h.Validate(map[string]any{"price": 3}, true)
	require.Empty(t, problems)
	assert.Equal(t, map[string]any{"price": 3}, clean)

	_, problems = h.Validate(map[string]any{"title": ""}, true)
	require.Len(t, problems, 1)
	assert.Equal(t, "required", problems[0].Rule)
}

func TestHandle_OptionalFieldsAcceptNull(t *testing.T) {
	h := productHandle(t)
	_, problems := h.Validate(map[string]any{"title": "x", "price": nil, "owner": nil}, false)
	assert.Empty(t, problems)
}

func TestHandle_FieldQueries(t *testing.T) {
	h := productHandle(t)

	title := h.Field("title")
	require.NotNil(t, title)
	assert.True(t, title.Required)
	assert.Nil(t, h.Field("nope"))

	assert.Contains(t, h.StringFields(), "title")
	assert.NotContains(t, h.StringFields(), "secret")
	assert.Equal(t, []string{"secret"}, h.SecretFields())
	require.Len(t, h.RelationFields(), 1)
	assert.Equal(t, "owner", h.RelationFields()[0].Name)
}

func TestOpenHandle_AcceptsArbitraryFields(t *testing.T) {
	clean, problems := OpenHandle("anything").Validate(map[string]any{"anything": 1, "createdAt": "x"}, false)
	assert.Empty(t, problems)
	assert.Equal(t, map[string]any{"anything": 1}, clean)
	assert.True(t, OpenHandle("anything").Open())
	assert.Equal(t, "anything", OpenHandle("Anything").Model())
}

func TestNewHandle_RejectsBrokenRule(t *testing.T) {
	_, err := NewHandle("broken", 1, []CompiledField{{Name: "x", Type: TypeString, Rule: "value in ("}})
	assert.Error(t, err)
}
