package store

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"contentforge/internal/config"
	"contentforge/internal/metadata"
)

// MarkerConsumer reads and removes a pending restart-needed marker.
type MarkerConsumer interface {
	Consume() (name string, ok bool, err error)
}

// Connector opens the database lazily, at most once. Concurrent callers share
// one attempt; a failed attempt is forgotten so the next call retries.
type Connector struct {
	cfg    config.DatabaseConfig
	marker MarkerConsumer

	// OnMarker runs after the first successful connect when a marker was
	// pending. name is the model recorded in the marker.
	OnMarker func(ctx context.Context, s *Store, name string) error

	group singleflight.Group
	mu    sync.Mutex
	store *Store
}

func NewConnector(cfg config.DatabaseConfig, marker MarkerConsumer) *Connector {
	return &Connector{cfg: cfg, marker: marker}
}

// Connect returns the shared Store, opening and bootstrapping it on first use.
func (c *Connector) Connect(ctx context.Context) (*Store, error) {
	c.mu.Lock()
	s := c.store
	c.mu.Unlock()
	if s != nil {
		return s, nil
	}

	v, err, _ := c.group.Do("connect", func() (any, error) {
		c.mu.Lock()
		if c.store != nil {
			defer c.mu.Unlock()
			return c.store, nil
		}
		c.mu.Unlock()

		s, err := c.open(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.store = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

func (c *Connector) open(ctx context.Context) (*Store, error) {
	s, err := New(ctx, c.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		s.Close()
		return nil, err
	}
	log.Printf("Connected to %s database", s.Dialect.Name())

	if c.marker == nil {
		return s, nil
	}
	name, ok, err := c.marker.Consume()
	if err != nil {
		log.Printf("WARN: read restart marker: %v", err)
		return s, nil
	}
	if ok {
		log.Printf("Found restart marker for model %q, refreshing", name)
		if c.OnMarker != nil {
			if err := c.OnMarker(ctx, s, name); err != nil {
				log.Printf("WARN: refresh after restart marker for %q: %v", name, err)
			}
		}
	}
	return s, nil
}

// Close closes the store if one was opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

// LookupVersion implements metadata.DefinitionSource, connecting on first use.
func (c *Connector) LookupVersion(ctx context.Context, name string) (int64, bool, error) {
	s, err := c.Connect(ctx)
	if err != nil {
		return 0, false, err
	}
	return s.LookupVersion(ctx, name)
}

// LookupModel implements metadata.DefinitionSource, connecting on first use.
func (c *Connector) LookupModel(ctx context.Context, name string) (*metadata.ModelDefinition, bool, error) {
	s, err := c.Connect(ctx)
	if err != nil {
		return nil, false, err
	}
	return s.LookupModel(ctx, name)
}
