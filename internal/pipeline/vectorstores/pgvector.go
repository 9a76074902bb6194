package vectorstores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const pgvectorWritesPerSecond = 50

// PgVectorStore persists embedded chunks in Postgres + pgvector.
type PgVectorStore struct {
	pool    *pgxpool.Pool
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewPgVectorStore connects to Postgres and returns a pgvector-backed store.
func NewPgVectorStore(ctx context.Context, connStr string) (*PgVectorStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PgVectorStore{
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(pgvectorWritesPerSecond), pgvectorWritesPerSecond),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}, nil
}

// Name returns the vector database identifier.
func (s *PgVectorStore) Name() string {
	return "pgvector"
}

// SupportsNativeExport reports bulk native export support.
func (s *PgVectorStore) SupportsNativeExport() bool {
	return true
}

// Close releases the connection pool.
func (s *PgVectorStore) Close() {
	s.pool.Close()
}

// UpsertBatch writes all points in one transaction. Duplicate point ids
// overwrite the existing row.
func (s *PgVectorStore) UpsertBatch(ctx context.Context, points []models.VectorPoint) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: %w", ErrStorage, ErrEmptyBatch)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to begin transaction")
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
			s.logger.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}()

	query := `
		INSERT INTO chunk_embeddings (id, source_id, chunk_index, body, model, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::vector)
		ON CONFLICT (id) DO UPDATE
		SET body = EXCLUDED.body, model = EXCLUDED.model,
		    metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding;
	`

	for _, point := range points {
		metadata := []byte("{}")
		if point.Metadata != nil {
			metadata, _ = json.Marshal(point.Metadata)
		}

		if _, err := tx.Exec(ctx, query,
			point.ID, point.SourceID, point.ChunkIndex, point.Body,
			point.Model, string(metadata), vectorLiteral(point.Vector)); err != nil {
			s.logger.Error().Err(err).Str("point_id", point.ID).Msg("Failed to upsert point")
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}
