package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sirupsen/logrus"

	"videoindex/config"
)

// pgExecer is the slice of pgxpool.Pool the index needs.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgVectorIndex keeps one table per collection: text primary key, vector
// column of the modality's dimension and a jsonb payload. ON CONFLICT
// upsert gives the same overwrite semantics as the Milvus backend. A
// pgxpool backs it rather than a single conn because several jobs
// upsert concurrently.
type pgVectorIndex struct {
	db  pgExecer
	log *logrus.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

func newPgVectorIndex(cfg *config.Config, log *logrus.Logger) (*pgVectorIndex, error) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	return &pgVectorIndex{db: pool, log: log, ensured: make(map[string]bool)}, nil
}

func (p *pgVectorIndex) EnsureCollection(ctx context.Context, name string, dim int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[name] {
		return nil
	}

	table := sanitize(name)
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d),
			payload JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`, table, dim)
	if _, err := p.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_embedding
		ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
	`, table, table)
	if _, err := p.db.Exec(ctx, indexQuery); err != nil {
		// Index creation can fail on an empty table in older pgvector
		// builds; the table itself is still usable.
		p.log.WithError(err).WithField("table", table).Warn("could not create vector index")
	}

	p.ensured[name] = true
	return nil
}

func (p *pgVectorIndex) Upsert(ctx context.Context, name string, points []Point) (int, error) {
	table := sanitize(name)
	stored := 0
	for _, point := range points {
		if len(point.Vector) == 0 {
			continue
		}
		blob, err := json.Marshal(point.Payload)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"table": table, "pointId": point.ID}).
				Warn("could not encode point payload, skipping")
			continue
		}
		query := fmt.Sprintf(`
			INSERT INTO %s (id, embedding, payload)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				payload = EXCLUDED.payload
		`, table)
		if _, err := p.db.Exec(ctx, query, point.ID, pgvector.NewVector(point.Vector), blob); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"table": table, "pointId": point.ID}).
				Warn("could not upsert point, skipping")
			continue
		}
		stored++
	}
	return stored, nil
}
