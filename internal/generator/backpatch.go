package generator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"contentforge/internal/metadata"
	"contentforge/internal/store"
)

// BackPatcher keeps the reverse side of relations in step with their owners.
// A relation from Owner to Target gives Target a field named lower(Owner)+"s"
// that references Owner.
type BackPatcher struct {
	store     *store.Store
	publisher *Publisher
	registry  *metadata.Registry
}

func NewBackPatcher(s *store.Store, pub *Publisher, reg *metadata.Registry) *BackPatcher {
	return &BackPatcher{store: s, publisher: pub, registry: reg}
}

// ReverseField is the field a relation target gains for owner.
func ReverseField(owner string) metadata.FieldDefinition {
	owner = metadata.CollectionName(owner)
	return metadata.FieldDefinition{
		Name:     metadata.ReverseFieldName(owner),
		Type:     metadata.TypeRelation,
		DataType: "selectmulti",
		RefModel: owner,
	}
}

// WithSelfReverse appends the reverse field to fields when owner relates to
// itself and the field is not already declared.
func WithSelfReverse(owner string, fields []metadata.FieldDefinition) []metadata.FieldDefinition {
	owner = metadata.CollectionName(owner)
	rev := ReverseField(owner)
	self := false
	for _, f := range fields {
		if f.Name == rev.Name {
			return fields
		}
		if f.IsRelation() && metadata.CollectionName(f.RefModel) == owner {
			self = true
		}
	}
	if !self {
		return fields
	}
	return append(fields, rev)
}

// Apply inserts the reverse field into every other model that owner's
// relation fields point at. It returns the names of the patched targets.
// Targets that do not exist yet are skipped.
func (b *BackPatcher) Apply(ctx context.Context, owner string, fields []metadata.FieldDefinition) ([]string, error) {
	owner = metadata.CollectionName(owner)
	rev := ReverseField(owner)

	var patched []string
	seen := map[string]bool{}
	for _, f := range fields {
		if !f.IsRelation() {
			continue
		}
		target := metadata.CollectionName(f.RefModel)
		if target == owner || seen[target] {
			continue
		}
		seen[target] = true

		def, err := b.store.GetModelByName(ctx, target)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("WARN: relation %s.%s targets missing model %q, skipping back-reference", owner, f.Name, target)
			continue
		}
		if err != nil {
			return patched, fmt.Errorf("load relation target %s: %w", target, err)
		}
		if def.HasField(rev.Name) {
			continue
		}

		def.Fields = append(def.Fields, rev)
		if err := b.republish(ctx, def); err != nil {
			return patched, err
		}
		patched = append(patched, target)
	}
	return patched, nil
}

// Detach removes owner's reverse field from every other model.
func (b *BackPatcher) Detach(ctx context.Context, owner string) ([]string, error) {
	owner = metadata.CollectionName(owner)
	rev := metadata.ReverseFieldName(owner)

	models, err := b.store.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	var detached []string
	for _, def := range models {
		if def.Name == owner {
			continue
		}
		f := def.GetField(rev)
		if f == nil || !f.IsRelation() || metadata.CollectionName(f.RefModel) != owner {
			continue
		}
		def.RemoveField(rev)
		if err := b.republish(ctx, def); err != nil {
			return detached, err
		}
		detached = append(detached, def.Name)
	}
	return detached, nil
}

func (b *BackPatcher) republish(ctx context.Context, def *metadata.ModelDefinition) error {
	compiled, err := metadata.CompileFields(def.Fields)
	if err != nil {
		return fmt.Errorf("recompile %s: %w", def.Name, err)
	}
	set, err := Synthesize(def.Name, compiled)
	if err != nil {
		return err
	}
	if err := b.publisher.Publish(set); err != nil {
		return err
	}

	def.Compiled = compiled
	if err := b.store.SaveModel(ctx, def); err != nil {
		return fmt.Errorf("save %s: %w", def.Name, err)
	}
	b.registry.Invalidate(def.Name)
	return nil
}
