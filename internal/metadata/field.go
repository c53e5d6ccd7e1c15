package metadata

// Primitive field types accepted from the designer.
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeArray    = "array"
	TypeRelation = "relation"
)

// FieldDefinition is one field as submitted by the model designer.
type FieldDefinition struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	ElementType string   `json:"elementType,omitempty" yaml:"elementType,omitempty"` // arrays without refModel
	DataType    string   `json:"datatype,omitempty" yaml:"datatype,omitempty"`       // presentation hint
	Required    bool     `json:"required,omitempty" yaml:"required,omitempty"`
	EnumValues  []string `json:"enumValues,omitempty" yaml:"enumValues,omitempty"`
	RefModel    string   `json:"refModel,omitempty" yaml:"refModel,omitempty"`
}

// IsRelation reports whether the field holds references to another model.
func (f FieldDefinition) IsRelation() bool {
	return f.Type == TypeRelation || f.Type == "arrayrelation" ||
		(f.Type == TypeArray && f.RefModel != "")
}

// Reference describes the target of a relation field.
type Reference struct {
	Model      string `json:"model" yaml:"model"`
	Collection string `json:"collection" yaml:"collection"`
}

// CompiledField is the storage-level form of a FieldDefinition.
type CompiledField struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	StorageType string     `json:"storageType"`
	ElementType string     `json:"elementType,omitempty"`
	Hint        string     `json:"hint,omitempty"`
	Required    bool       `json:"required"`
	Unique      bool       `json:"unique,omitempty"`
	Enum        []string   `json:"enum,omitempty"`
	Ref         *Reference `json:"ref,omitempty"`
	Rule        string     `json:"rule"`
}

// IsRelation reports whether the compiled field stores foreign keys.
func (f CompiledField) IsRelation() bool {
	return f.Ref != nil
}

// IsSecret reports whether the field value must never leave the server.
func (f CompiledField) IsSecret() bool {
	return f.Hint == "password"
}
