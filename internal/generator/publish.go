package generator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"contentforge/internal/metadata"
)

// Publisher writes artifact sets under a root directory.
type Publisher struct {
	root string
}

func NewPublisher(root string) *Publisher {
	return &Publisher{root: root}
}

func (p *Publisher) Root() string { return p.root }

// Paths returns the absolute path of every artifact for a model, in publish order.
func (p *Publisher) Paths(model string) []string {
	rel := ArtifactPaths(model)
	paths := make([]string, 0, len(Kinds))
	for _, kind := range Kinds {
		paths = append(paths, filepath.Join(p.root, filepath.FromSlash(rel[kind])))
	}
	return paths
}

// Publish writes every artifact of set. All files are staged next to their
// destination first, so a failed staging leaves the published set untouched.
func (p *Publisher) Publish(set *ArtifactSet) error {
	type staged struct{ tmp, dest string }
	var pending []staged
	cleanup := func() {
		for _, s := range pending {
			os.Remove(s.tmp)
		}
	}

	for _, a := range set.Artifacts {
		dest := filepath.Join(p.root, filepath.FromSlash(a.Path))
		tmp, err := stageFile(dest, a.Content)
		if err != nil {
			cleanup()
			return &Error{Op: "publish", Model: set.Model, Path: a.Path, Err: err}
		}
		pending = append(pending, staged{tmp: tmp, dest: dest})
	}

	for i, s := range pending {
		if err := os.Rename(s.tmp, s.dest); err != nil {
			for _, rest := range pending[i:] {
				os.Remove(rest.tmp)
			}
			return &Error{Op: "publish", Model: set.Model, Path: s.dest, Err: err}
		}
	}
	return nil
}

func stageFile(dest string, content []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Remove deletes every artifact of a model. Missing files are ignored.
func (p *Publisher) Remove(model string) error {
	for _, path := range p.Paths(model) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &Error{Op: "remove", Model: model, Path: path, Err: err}
		}
	}
	dir := filepath.Join(p.root, "manager", metadata.CollectionName(model))
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(dir) {
		return &Error{Op: "remove", Model: model, Path: dir, Err: err}
	}
	return nil
}

// Rename removes the artifacts of oldModel and publishes set in their place.
// A failure part way is not rolled back.
func (p *Publisher) Rename(oldModel string, set *ArtifactSet) error {
	if err := p.Remove(oldModel); err != nil {
		return err
	}
	return p.Publish(set)
}

// Exists reports whether every artifact of a model is present.
func (p *Publisher) Exists(model string) bool {
	for _, path := range p.Paths(model) {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Read returns one published artifact.
func (p *Publisher) Read(model, kind string) ([]byte, error) {
	rel, ok := ArtifactPaths(model)[kind]
	if !ok {
		return nil, &Error{Op: "read", Model: model, Err: errors.New("unknown artifact kind " + kind)}
	}
	return os.ReadFile(filepath.Join(p.root, filepath.FromSlash(rel)))
}

func isNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
