package metadata

import (
	"strings"
	"time"
)

// ModelDefinition is the persisted shape of one user-defined model.
type ModelDefinition struct {
	ID        string            `json:"_id"`
	Name      string            `json:"modelName"`
	Fields    []FieldDefinition `json:"fields"`
	Compiled  []CompiledField   `json:"compiled,omitempty"`
	Version   int64             `json:"version"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (m *ModelDefinition) GetField(name string) *FieldDefinition {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the model has a field with the given name.
func (m *ModelDefinition) HasField(name string) bool {
	return m.GetField(name) != nil
}

// RemoveField drops the named field and reports whether it was present.
func (m *ModelDefinition) RemoveField(name string) bool {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			m.Fields = append(m.Fields[:i], m.Fields[i+1:]...)
			return true
		}
	}
	return false
}

// CollectionName returns the document collection backing a model.
func CollectionName(model string) string {
	return strings.ToLower(model)
}

// ReverseFieldName is the field a relation target carries back to its owner.
func ReverseFieldName(owner string) string {
	return strings.ToLower(owner) + "s"
}
