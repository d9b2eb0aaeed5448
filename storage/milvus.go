package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"videoindex/config"
)

// milvusIndex stores points in per-collection Milvus collections: a
// varchar primary key, the vector field and a JSON-encoded payload field.
// Upsert with an explicit primary key makes repeated extraction
// overwriting rather than additive.
type milvusIndex struct {
	mc client.Client

	mu      sync.Mutex
	ensured map[string]bool
}

func newMilvusIndex(cfg *config.Config) (*milvusIndex, error) {
	mc, err := client.NewClient(context.Background(), client.Config{Address: cfg.MilvusAddr})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	return &milvusIndex{mc: mc, ensured: make(map[string]bool)}, nil
}

func (m *milvusIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensured[name] {
		return nil
	}

	has, err := m.mc.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !has {
		schema := entity.NewSchema().WithName(name)
		schema.WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("payload").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim)))
		if err := m.mc.CreateCollection(ctx, schema, 2); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
		if err != nil {
			return fmt.Errorf("new hnsw index: %w", err)
		}
		if err := m.mc.CreateIndex(ctx, name, "vector", idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", name, err)
		}
	}
	if err := m.mc.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", name, err)
	}
	m.ensured[name] = true
	return nil
}

func (m *milvusIndex) Upsert(ctx context.Context, name string, points []Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	var dim int
	ids := make([]string, 0, len(points))
	payloads := make([]string, 0, len(points))
	vectors := make([][]float32, 0, len(points))
	for _, p := range points {
		if len(p.Vector) == 0 {
			continue
		}
		dim = len(p.Vector)
		blob, err := json.Marshal(p.Payload)
		if err != nil {
			continue
		}
		ids = append(ids, p.ID)
		payloads = append(payloads, string(blob))
		vectors = append(vectors, p.Vector)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err := m.mc.Upsert(ctx, name, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("payload", payloads),
		entity.NewColumnFloatVector("vector", dim, vectors),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", name, err)
	}
	return len(ids), nil
}
