package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"contentforge/internal/instrument"
	"contentforge/internal/metadata"
	"contentforge/internal/store"
)

// Pipeline runs model management end to end: compile, synthesize, publish,
// back-patch, persist and invalidate. A failed step aborts the remaining
// steps; completed steps are not undone. Model changes run one at a time
// because back-patching rewrites other models' definitions.
type Pipeline struct {
	mu sync.Mutex

	store     *store.Store
	migrator  *store.Migrator
	registry  *metadata.Registry
	publisher *Publisher
	patcher   *BackPatcher
	marker    *Marker
}

func NewPipeline(s *store.Store, reg *metadata.Registry, pub *Publisher, marker *Marker) *Pipeline {
	return &Pipeline{
		store:     s,
		migrator:  store.NewMigrator(s),
		registry:  reg,
		publisher: pub,
		patcher:   NewBackPatcher(s, pub, reg),
		marker:    marker,
	}
}

func (p *Pipeline) Publisher() *Publisher { return p.publisher }

// CreateModel defines a new model.
func (p *Pipeline) CreateModel(ctx context.Context, name string, fields []metadata.FieldDefinition) (*metadata.ModelDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "generator", "pipeline", "model.create")
	def, err := p.createModel(ctx, name, fields)
	if def != nil {
		span.SetModel(def.Name, def.ID)
	} else {
		span.SetModel(strings.ToLower(name), "")
	}
	instrument.Finish(span, err)
	return def, err
}

func (p *Pipeline) createModel(ctx context.Context, name string, fields []metadata.FieldDefinition) (*metadata.ModelDefinition, error) {
	name, err := modelName(name)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.GetModelByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	def, set, err := p.build(name, fields)
	if err != nil {
		return nil, err
	}

	if err := p.marker.Write(name); err != nil {
		return nil, &Error{Op: "mark", Model: name, Path: p.marker.Path(), Err: err}
	}
	if err := p.publisher.Publish(set); err != nil {
		return nil, err
	}
	if _, err := p.patcher.Apply(ctx, name, def.Fields); err != nil {
		return nil, err
	}
	if err := p.store.CreateModel(ctx, def); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, name)
		}
		return nil, err
	}
	if err := p.migrator.EnsureCollection(ctx, name); err != nil {
		return nil, err
	}

	p.registry.Invalidate(name)
	p.clearMarker()
	log.Printf("Created model %s (%d fields)", name, len(def.Fields))
	return def, nil
}

// UpdateModel replaces the name and fields of an existing model.
func (p *Pipeline) UpdateModel(ctx context.Context, id, name string, fields []metadata.FieldDefinition) (*metadata.ModelDefinition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "generator", "pipeline", "model.update")
	def, err := p.updateModel(ctx, id, name, fields)
	if def != nil {
		span.SetModel(def.Name, id)
	} else {
		span.SetModel(strings.ToLower(name), id)
	}
	instrument.Finish(span, err)
	return def, err
}

func (p *Pipeline) updateModel(ctx context.Context, id, name string, fields []metadata.FieldDefinition) (*metadata.ModelDefinition, error) {
	existing, err := p.store.GetModel(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = existing.Name
	}
	name, err = modelName(name)
	if err != nil {
		return nil, err
	}
	oldName := existing.Name
	renamed := name != oldName
	if renamed {
		if _, err := p.store.GetModelByName(ctx, name); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	def, set, err := p.build(name, fields)
	if err != nil {
		return nil, err
	}
	def.ID = existing.ID
	def.Version = existing.Version
	def.CreatedAt = existing.CreatedAt

	marked := []string{name}
	if renamed {
		marked = append(marked, oldName)
	}
	if err := p.marker.Write(marked...); err != nil {
		return nil, &Error{Op: "mark", Model: name, Path: p.marker.Path(), Err: err}
	}
	if renamed {
		if err := p.publisher.Rename(oldName, set); err != nil {
			return nil, err
		}
		if _, err := p.patcher.Detach(ctx, oldName); err != nil {
			return nil, err
		}
		if err := p.migrator.RenameCollection(ctx, oldName, name); err != nil {
			return nil, err
		}
	} else if err := p.publisher.Publish(set); err != nil {
		return nil, err
	}

	if _, err := p.patcher.Apply(ctx, name, def.Fields); err != nil {
		return nil, err
	}
	if err := p.store.SaveModel(ctx, def); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, name)
		}
		return nil, err
	}

	if renamed {
		p.registry.Evict(oldName)
	}
	p.registry.Invalidate(name)
	p.clearMarker()
	log.Printf("Updated model %s (version %d)", name, def.Version)
	return def, nil
}

// DeleteModel removes a model definition and its artifacts. Documents stay
// in their collection.
func (p *Pipeline) DeleteModel(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "generator", "pipeline", "model.delete")
	span.SetModel("", id)
	err := p.deleteModel(ctx, id)
	instrument.Finish(span, err)
	return err
}

func (p *Pipeline) deleteModel(ctx context.Context, id string) error {
	def, err := p.store.GetModel(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if err != nil {
		return err
	}

	if err := p.publisher.Remove(def.Name); err != nil {
		return err
	}
	if _, err := p.patcher.Detach(ctx, def.Name); err != nil {
		return err
	}
	if err := p.store.DeleteModel(ctx, id); err != nil {
		return err
	}
	p.registry.Evict(def.Name)
	log.Printf("Deleted model %s", def.Name)
	return nil
}

// Regenerate republishes the artifacts of one stored model.
func (p *Pipeline) Regenerate(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regenerateNamed(ctx, name)
}

func (p *Pipeline) regenerateNamed(ctx context.Context, name string) error {
	def, err := p.store.GetModelByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	if err != nil {
		return err
	}
	return p.regenerate(ctx, def)
}

// RegenerateAll republishes every stored model. It keeps going past
// failures and reports them together.
func (p *Pipeline) RegenerateAll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	models, err := p.store.ListModels(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, def := range models {
		if err := p.regenerate(ctx, def); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Recover handles a restart marker left by an interrupted change. The marker
// holds the model being written and, for a rename, its previous name.
// Whichever of those the Schema Store holds is forced stale and republished;
// artifacts left under the other name are removed.
func (p *Pipeline) Recover(ctx context.Context, marked string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := strings.Fields(marked)
	var held, orphaned []string
	var errs []error
	for _, name := range names {
		p.registry.ForceStale(name)
		err := p.regenerateNamed(ctx, name)
		switch {
		case errors.Is(err, ErrModelNotFound):
			orphaned = append(orphaned, name)
		case err != nil:
			errs = append(errs, err)
		default:
			held = append(held, name)
		}
	}

	if len(held) == 0 {
		if len(errs) == 0 {
			log.Printf("WARN: restart marker names unknown model %q, nothing to republish", marked)
		}
		return errors.Join(errs...)
	}
	for _, name := range orphaned {
		if err := p.publisher.Remove(name); err != nil {
			log.Printf("WARN: remove leftover artifacts of %s: %v", name, err)
		}
	}
	log.Printf("Recovered %s from restart marker", strings.Join(held, ", "))
	return errors.Join(errs...)
}

func (p *Pipeline) regenerate(ctx context.Context, def *metadata.ModelDefinition) error {
	compiled := def.Compiled
	if len(compiled) == 0 {
		var err error
		if compiled, err = metadata.CompileFields(def.Fields); err != nil {
			return fmt.Errorf("compile %s: %w", def.Name, err)
		}
	}
	set, err := Synthesize(def.Name, compiled)
	if err != nil {
		return err
	}
	if err := p.publisher.Publish(set); err != nil {
		return err
	}
	if err := p.migrator.EnsureCollection(ctx, def.Name); err != nil {
		return err
	}
	p.registry.Invalidate(def.Name)
	return nil
}

func (p *Pipeline) build(name string, fields []metadata.FieldDefinition) (*metadata.ModelDefinition, *ArtifactSet, error) {
	prepared, err := metadata.PrepareFields(fields)
	if err != nil {
		return nil, nil, err
	}
	prepared = WithSelfReverse(name, prepared)
	compiled, err := metadata.CompileFields(prepared)
	if err != nil {
		return nil, nil, err
	}
	set, err := Synthesize(name, compiled)
	if err != nil {
		return nil, nil, err
	}
	return &metadata.ModelDefinition{Name: name, Fields: prepared, Compiled: compiled}, set, nil
}

func (p *Pipeline) clearMarker() {
	if err := p.marker.Clear(); err != nil {
		log.Printf("WARN: clear restart marker: %v", err)
	}
}

func modelName(raw string) (string, error) {
	name := metadata.CollectionName(metadata.SanitizeName(raw))
	if !metadata.IsIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, raw)
	}
	return name, nil
}
