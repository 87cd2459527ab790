package artifact

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/crop-advisor/internal/classifier"
)

// Snapshot is an immutable view of a loaded model and its metadata.
type Snapshot struct {
	Model          classifier.TrainedModel
	Metadata       json.RawMessage
	FeatureColumns []string
	SourcePath     string
	LoadedAt       time.Time
}

// Loader produces a snapshot, typically from disk.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*Snapshot, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (*Snapshot, error) { return f(ctx) }

// Cache holds at most one snapshot for the life of the process. The first
// callers share a single load; once populated the snapshot is never replaced.
// A failed load is returned to every caller waiting on it and is not
// remembered, so a later call starts a fresh load.
type Cache struct {
	loader Loader
	group  singleflight.Group

	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache creates an empty cache backed by loader.
func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader}
}

// Get returns the cached snapshot, loading it on first use.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	if s := c.current(); s != nil {
		return s, nil
	}
	// The load is shared by every waiter, so it must not end with the caller
	// that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("snapshot", func() (any, error) {
		if s := c.current(); s != nil {
			return s, nil
		}
		s, err := c.loader.Load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snap = s
		c.mu.Unlock()
		return s, nil
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "artifact: waiting for model load")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Loaded reports whether a snapshot is cached, without triggering a load.
func (c *Cache) Loaded() bool {
	return c.current() != nil
}

func (c *Cache) current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
