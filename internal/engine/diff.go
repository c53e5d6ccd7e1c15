package engine

import (
	"context"
	"fmt"
	"log"
	"slices"

	"contentforge/internal/metadata"
	"contentforge/internal/store"
)

// RelationDiff is the change to one relation field between two versions of a document.
type RelationDiff struct {
	Field   metadata.CompiledField
	Added   []string
	Removed []string
}

// DiffRelations compares the relation fields of before and after. A field
// absent from after is unchanged. A nil before means every id is added; a nil
// after means every id is removed.
func DiffRelations(handle *metadata.Handle, before, after map[string]any) []RelationDiff {
	var diffs []RelationDiff
	for _, f := range handle.RelationFields() {
		var oldIDs, newIDs []string
		if before != nil {
			oldIDs = toIDs(before[f.Name])
		}
		if after != nil {
			v, ok := after[f.Name]
			if !ok {
				continue
			}
			newIDs = toIDs(v)
		}

		d := RelationDiff{Field: f}
		for _, id := range newIDs {
			if !slices.Contains(oldIDs, id) && !slices.Contains(d.Added, id) {
				d.Added = append(d.Added, id)
			}
		}
		for _, id := range oldIDs {
			if !slices.Contains(newIDs, id) && !slices.Contains(d.Removed, id) {
				d.Removed = append(d.Removed, id)
			}
		}
		if len(d.Added) > 0 || len(d.Removed) > 0 {
			diffs = append(diffs, d)
		}
	}
	return diffs
}

// ApplyBackReferences keeps the reverse field of each related document in
// step: removed targets drop id, added targets gain it.
func ApplyBackReferences(ctx context.Context, s *store.Store, reg *metadata.Registry, model, id string, diffs []RelationDiff) error {
	reverse := metadata.ReverseFieldName(model)
	for _, d := range diffs {
		target, err := reg.Lookup(ctx, d.Field.Ref.Model)
		if err != nil {
			return err
		}
		if target.Status == metadata.Fallback && target.Reason == metadata.ReasonUndefined {
			log.Printf("WARN: %s.%s references undefined model %q, skipping back-reference", model, d.Field.Name, d.Field.Ref.Model)
			continue
		}

		if len(d.Removed) > 0 {
			if err := s.Pull(ctx, d.Field.Ref.Collection, d.Removed, reverse, id); err != nil {
				return fmt.Errorf("unlink %s from %s: %w", id, d.Field.Ref.Model, err)
			}
		}
		if len(d.Added) > 0 {
			if err := s.AddToSet(ctx, d.Field.Ref.Collection, d.Added, reverse, id); err != nil {
				return fmt.Errorf("link %s to %s: %w", id, d.Field.Ref.Model, err)
			}
		}
	}
	return nil
}
