package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"videoindex/config"
)

// Point is one embedding plus payload destined for a vector collection.
// IDs are deterministic (see PointID) so re-running extraction on the same
// video overwrites points instead of accumulating duplicates.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// VectorIndex abstracts the vector database. Collections are created
// lazily with cosine distance and a per-modality dimension.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, name string, points []Point) (int, error)
}

// CollectionName namespaces a collection per project and modality,
// e.g. "myproject_frames".
func CollectionName(project, modality string) string {
	return sanitize(project) + "_" + modality
}

// PointID derives a stable id from its parts. The same video, modality and
// timestamp (plus person uid or sequence where applicable) always map to
// the same point.
func PointID(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// OpenIndex builds the configured backend, falling back to the in-memory
// index when the backend cannot be reached. The fallback keeps the
// pipeline alive; persisted search is degraded until the backend returns.
func OpenIndex(cfg *config.Config, log *logrus.Logger) VectorIndex {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorStore)) {
	case "milvus":
		idx, err := newMilvusIndex(cfg)
		if err != nil {
			log.WithError(err).Warn("milvus unavailable, falling back to memory index")
			return NewMemoryIndex()
		}
		log.WithField("addr", cfg.MilvusAddr).Info("vector index: milvus")
		return idx
	case "pgvector":
		idx, err := newPgVectorIndex(cfg, log)
		if err != nil {
			log.WithError(err).Warn("pgvector unavailable, falling back to memory index")
			return NewMemoryIndex()
		}
		log.Info("vector index: pgvector")
		return idx
	default:
		log.Info("vector index: memory")
		return NewMemoryIndex()
	}
}

// MemoryIndex is the fallback backend and the test double.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dim    int
	points map[string]Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("collection %s exists with dimension %d, want %d", name, c.dim, dim)
		}
		return nil
	}
	m.collections[name] = &memoryCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, name string, points []Point) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return 0, fmt.Errorf("collection %s does not exist", name)
	}
	stored := 0
	for _, p := range points {
		if len(p.Vector) != c.dim {
			continue
		}
		c.points[p.ID] = p
		stored++
	}
	return stored, nil
}

// Count returns the number of points in a collection (test helper).
func (m *MemoryIndex) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

// HasCollection reports whether a collection was created (test helper).
func (m *MemoryIndex) HasCollection(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok
}
