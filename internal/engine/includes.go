package engine

import (
	"context"
	"fmt"
	"log"

	"contentforge/internal/metadata"
	"contentforge/internal/store"
)

// LoadIncludes replaces the id lists of relation fields with the referenced
// documents. References to missing documents are dropped. Targets whose
// model is undefined keep their raw ids.
func LoadIncludes(ctx context.Context, s *store.Store, reg *metadata.Registry, handle *metadata.Handle, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}

	for _, f := range handle.RelationFields() {
		target, err := reg.Lookup(ctx, f.Ref.Model)
		if err != nil {
			return err
		}
		if target.Status == metadata.Fallback && target.Reason == metadata.ReasonUndefined {
			log.Printf("WARN: %s.%s references undefined model %q, leaving ids", handle.Model(), f.Name, f.Ref.Model)
			continue
		}

		ids := collectIDs(docs, f.Name)
		if len(ids) == 0 {
			continue
		}
		related, err := s.GetDocuments(ctx, f.Ref.Collection, ids)
		if err != nil {
			return fmt.Errorf("load %s for %s.%s: %w", f.Ref.Model, handle.Model(), f.Name, err)
		}
		byID := make(map[string]store.Document, len(related))
		for _, r := range related {
			hideSecrets(target.Handle, r)
			byID[r["_id"].(string)] = r
		}

		for _, doc := range docs {
			if _, ok := doc[f.Name]; !ok {
				continue
			}
			expanded := []store.Document{}
			for _, id := range toIDs(doc[f.Name]) {
				if r, ok := byID[id]; ok {
					expanded = append(expanded, r)
				}
			}
			doc[f.Name] = expanded
		}
	}
	return nil
}

func collectIDs(docs []store.Document, field string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, doc := range docs {
		for _, id := range toIDs(doc[field]) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// toIDs reads a stored relation value as a list of ids.
func toIDs(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		ids := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}

func hideSecrets(handle *metadata.Handle, doc store.Document) {
	for _, name := range handle.SecretFields() {
		delete(doc, name)
	}
}
