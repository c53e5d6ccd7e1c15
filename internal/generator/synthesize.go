package generator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"contentforge/internal/metadata"
)

// Artifact kinds, in publish order.
const (
	KindSchema          = "schema"
	KindInternalHandler = "internal_handler"
	KindPublicHandler   = "public_handler"
	KindListPage        = "list_page"
	KindFormPages       = "form_pages"
	KindUIComponent     = "ui_component"
)

// Kinds lists every artifact kind in publish order.
var Kinds = []string{KindSchema, KindInternalHandler, KindPublicHandler, KindListPage, KindFormPages, KindUIComponent}

const defaultPageSize = 10

type Artifact struct {
	Kind    string
	Path    string // relative to the publisher root
	Content []byte
}

// ArtifactSet is the complete output for one model.
type ArtifactSet struct {
	Model     string
	Artifacts []Artifact
}

// Get returns the artifact of the given kind, or nil.
func (s *ArtifactSet) Get(kind string) *Artifact {
	for i := range s.Artifacts {
		if s.Artifacts[i].Kind == kind {
			return &s.Artifacts[i]
		}
	}
	return nil
}

// DisplayName capitalizes a model name for artifact paths and titles.
func DisplayName(model string) string {
	return cases.Title(language.English, cases.NoLower).String(model)
}

// ArtifactPaths returns the relative path of every artifact for a model, keyed by kind.
func ArtifactPaths(model string) map[string]string {
	name := metadata.CollectionName(model)
	display := DisplayName(name)
	return map[string]string{
		KindSchema:          "models/" + display + ".schema.json",
		KindInternalHandler: "api/" + name + ".yaml",
		KindPublicHandler:   "api/public/" + name + ".yaml",
		KindListPage:        "manager/" + name + "/index.yaml",
		KindFormPages:       "manager/" + name + "/forms.yaml",
		KindUIComponent:     "components/" + display + ".yaml",
	}
}

// Synthesize renders the six artifacts for a compiled model. The output
// depends only on the input, byte for byte. If any artifact fails to encode
// no set is returned.
func Synthesize(model string, fields []metadata.CompiledField) (*ArtifactSet, error) {
	name := metadata.CollectionName(model)
	if !metadata.IsIdentifier(name) {
		return nil, &Error{Op: "synthesize", Model: model, Err: ErrInvalidName}
	}

	paths := ArtifactPaths(name)
	docs := map[string]func() ([]byte, error){
		KindSchema:          func() ([]byte, error) { return encodeJSON(schemaDocument(name, fields)) },
		KindInternalHandler: func() ([]byte, error) { return encodeYAML(handlerManifest(name, fields, false)) },
		KindPublicHandler:   func() ([]byte, error) { return encodeYAML(handlerManifest(name, fields, true)) },
		KindListPage:        func() ([]byte, error) { return encodeYAML(listPage(name, fields)) },
		KindFormPages:       func() ([]byte, error) { return encodeYAML(formPages(name, fields)) },
		KindUIComponent:     func() ([]byte, error) { return encodeYAML(uiComponent(name, fields)) },
	}

	set := &ArtifactSet{Model: name, Artifacts: make([]Artifact, 0, len(Kinds))}
	for _, kind := range Kinds {
		content, err := docs[kind]()
		if err != nil {
			return nil, &Error{Op: "synthesize", Model: name, Path: paths[kind], Err: err}
		}
		set.Artifacts = append(set.Artifacts, Artifact{Kind: kind, Path: paths[kind], Content: content})
	}
	return set, nil
}

// --- schema ---

type schemaDoc struct {
	Model       string                   `json:"model"`
	DisplayName string                   `json:"displayName"`
	Collection  string                   `json:"collection"`
	Timestamps  []string                 `json:"timestamps"`
	Fields      []metadata.CompiledField `json:"fields"`
	References  []schemaRef              `json:"references"`
}

type schemaRef struct {
	Field      string `json:"field"`
	Model      string `json:"model"`
	Collection string `json:"collection"`
}

func schemaDocument(name string, fields []metadata.CompiledField) schemaDoc {
	doc := schemaDoc{
		Model:       name,
		DisplayName: DisplayName(name),
		Collection:  metadata.CollectionName(name),
		Timestamps:  []string{"createdAt", "updatedAt"},
		Fields:      fields,
		References:  []schemaRef{},
	}
	if doc.Fields == nil {
		doc.Fields = []metadata.CompiledField{}
	}
	for _, f := range fields {
		if f.IsRelation() {
			doc.References = append(doc.References, schemaRef{Field: f.Name, Model: f.Ref.Model, Collection: f.Ref.Collection})
		}
	}
	return doc
}

// --- route manifests ---

type manifest struct {
	Model    string  `yaml:"model"`
	BasePath string  `yaml:"basePath"`
	Auth     string  `yaml:"auth"`
	Routes   []route `yaml:"routes"`
}

type route struct {
	Name           string      `yaml:"name"`
	Method         string      `yaml:"method"`
	Path           string      `yaml:"path"`
	Permission     string      `yaml:"permission"`
	Pagination     *pagination `yaml:"pagination,omitempty"`
	Search         []string    `yaml:"search,omitempty"`
	Populate       []string    `yaml:"populate,omitempty"`
	BackReferences []backRef   `yaml:"backReferences,omitempty"`
	Hidden         []string    `yaml:"hidden,omitempty"`
	Unique         []string    `yaml:"unique,omitempty"`
}

type pagination struct {
	Limit    int `yaml:"limit"`
	MaxLimit int `yaml:"maxLimit"`
}

type backRef struct {
	Field        string `yaml:"field"`
	Model        string `yaml:"model"`
	ReverseField string `yaml:"reverseField"`
}

func handlerManifest(name string, fields []metadata.CompiledField, public bool) manifest {
	m := manifest{Model: name, BasePath: "/api/content/" + name, Auth: "session"}
	if public {
		m.BasePath = "/api/public/" + name
		m.Auth = "api_token"
	}

	var search, populate, hidden, unique []string
	var refs []backRef
	for _, f := range fields {
		switch {
		case f.IsSecret():
			hidden = append(hidden, f.Name)
		case f.IsRelation():
			populate = append(populate, f.Name)
			if f.Ref.Model != name {
				refs = append(refs, backRef{Field: f.Name, Model: f.Ref.Model, ReverseField: metadata.ReverseFieldName(name)})
			}
		case f.Type == metadata.TypeString:
			search = append(search, f.Name)
		}
		if f.Unique {
			unique = append(unique, f.Name)
		}
	}

	m.Routes = []route{
		{Name: "list", Method: "GET", Path: m.BasePath, Permission: "read",
			Pagination: &pagination{Limit: defaultPageSize, MaxLimit: 100}, Search: search, Populate: populate, Hidden: hidden},
		{Name: "get", Method: "GET", Path: m.BasePath + "/:id", Permission: "read", Populate: populate, Hidden: hidden},
		{Name: "create", Method: "POST", Path: m.BasePath, Permission: "create", BackReferences: refs, Hidden: hidden, Unique: unique},
		{Name: "update", Method: "PUT", Path: m.BasePath + "/:id", Permission: "update", BackReferences: refs, Hidden: hidden, Unique: unique},
		{Name: "delete", Method: "DELETE", Path: m.BasePath + "/:id", Permission: "delete", BackReferences: refs},
	}
	return m
}

// --- manager pages ---

type column struct {
	Field string `yaml:"field"`
	Label string `yaml:"label"`
	Type  string `yaml:"type"`
}

type page struct {
	Model      string     `yaml:"model"`
	Title      string     `yaml:"title"`
	Route      string     `yaml:"route"`
	DataSource string     `yaml:"dataSource"`
	Columns    []column   `yaml:"columns"`
	Search     []string   `yaml:"search,omitempty"`
	Pagination pagination `yaml:"pagination"`
	Actions    []string   `yaml:"actions"`
	Detail     string     `yaml:"detail"`
}

func listPage(name string, fields []metadata.CompiledField) page {
	p := page{
		Model:      name,
		Title:      DisplayName(name),
		Route:      "/manager/" + name,
		DataSource: "/api/content/" + name,
		Columns:    []column{},
		Pagination: pagination{Limit: defaultPageSize, MaxLimit: 100},
		Actions:    []string{"create", "edit", "delete"},
		Detail:     "/manager/" + name + "/:id",
	}
	seo := metadata.SEOFieldNames()
	for _, f := range fields {
		if f.IsSecret() || slices.Contains(seo, f.Name) {
			continue
		}
		p.Columns = append(p.Columns, column{Field: f.Name, Label: Label(f.Name), Type: f.Type})
		if f.Type == metadata.TypeString {
			p.Search = append(p.Search, f.Name)
		}
	}
	return p
}

type forms struct {
	Model  string `yaml:"model"`
	Create form   `yaml:"create"`
	Edit   form   `yaml:"edit"`
}

type form struct {
	Title  string      `yaml:"title"`
	Route  string      `yaml:"route"`
	Method string      `yaml:"method"`
	Action string      `yaml:"action"`
	Fields []formField `yaml:"fields"`
}

type formField struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label"`
	Widget   string   `yaml:"widget"`
	Required bool     `yaml:"required"`
	Multiple bool     `yaml:"multiple,omitempty"`
	Options  []string `yaml:"options,omitempty"`
	Source   string   `yaml:"source,omitempty"`
	Group    string   `yaml:"group,omitempty"`
}

func formPages(name string, fields []metadata.CompiledField) forms {
	base := "/api/content/" + name
	create := form{Title: "Create " + DisplayName(name), Route: "/manager/" + name + "/new", Method: "POST", Action: base}
	edit := form{Title: "Edit " + DisplayName(name), Route: "/manager/" + name + "/:id/edit", Method: "PUT", Action: base + "/:id"}

	seo := metadata.SEOFieldNames()
	for _, f := range fields {
		ff := formField{
			Name:     f.Name,
			Label:    Label(f.Name),
			Widget:   widget(f),
			Required: f.Required,
			Multiple: f.Type == metadata.TypeArray || f.IsRelation(),
			Options:  f.Enum,
		}
		if f.IsRelation() {
			ff.Source = "/api/content/" + f.Ref.Collection
		}
		if slices.Contains(seo, f.Name) {
			ff.Group = "seo"
		}
		create.Fields = append(create.Fields, ff)

		// An empty secret on edit keeps the stored value.
		if f.IsSecret() {
			ff.Required = false
		}
		edit.Fields = append(edit.Fields, ff)
	}
	if create.Fields == nil {
		create.Fields, edit.Fields = []formField{}, []formField{}
	}
	return forms{Model: name, Create: create, Edit: edit}
}

func widget(f metadata.CompiledField) string {
	if f.Hint != "" {
		return f.Hint
	}
	switch f.Type {
	case metadata.TypeNumber:
		return "number"
	case metadata.TypeBoolean:
		return "toggleinput"
	case metadata.TypeDate:
		return "inputdate"
	case metadata.TypeArray:
		return "creatableselectmulti"
	case metadata.TypeRelation:
		return "selectmulti"
	}
	return "textinput"
}

type component struct {
	Component  string   `yaml:"component"`
	Model      string   `yaml:"model"`
	TitleField string   `yaml:"titleField"`
	Fields     []string `yaml:"fields"`
	Link       string   `yaml:"link"`
}

func uiComponent(name string, fields []metadata.CompiledField) component {
	c := component{
		Component:  DisplayName(name) + "Item",
		Model:      name,
		TitleField: "_id",
		Fields:     []string{},
		Link:       "/manager/" + name + "/:id",
	}
	seo := metadata.SEOFieldNames()
	for _, f := range fields {
		if f.IsSecret() || f.IsRelation() || slices.Contains(seo, f.Name) {
			continue
		}
		if c.TitleField == "_id" && f.Type == metadata.TypeString {
			c.TitleField = f.Name
		}
		c.Fields = append(c.Fields, f.Name)
	}
	return c
}

// Label turns a field name like "openGraphTitle" into "Open Graph Title".
func Label(field string) string {
	var words []string
	var cur []rune
	for i, r := range field {
		if r == '_' {
			if len(cur) > 0 {
				words = append(words, string(cur))
				cur = nil
			}
			continue
		}
		if i > 0 && unicode.IsUpper(r) && len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}
