package vectorstores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const libsqlWritesPerSecond = 20

// LibSQLStore persists embedded chunks in a Turso/libsql database, one row
// per chunk plus one per embedding. Writes for a batch are transactional:
// all points land or none do.
type LibSQLStore struct {
	db      *sql.DB
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLibSQLStore creates a libsql-backed vector store.
func NewLibSQLStore(database *sql.DB) *LibSQLStore {
	return &LibSQLStore{
		db:      database,
		limiter: rate.NewLimiter(rate.Limit(libsqlWritesPerSecond), libsqlWritesPerSecond),
		logger:  util.NewLogger(zerolog.ErrorLevel),
	}
}

// Name returns the vector database identifier.
func (s *LibSQLStore) Name() string {
	return "libsql"
}

// SupportsNativeExport reports bulk native export support.
func (s *LibSQLStore) SupportsNativeExport() bool {
	return false
}

// UpsertBatch writes all points in one transaction.
func (s *LibSQLStore) UpsertBatch(ctx context.Context, points []models.VectorPoint) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: %w", ErrStorage, ErrEmptyBatch)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to begin transaction")
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer func(tx *sql.Tx) {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Error().Err(err).Msg("Failed to rollback transaction")
		}
	}(tx)

	chunkQuery := `INSERT OR REPLACE INTO chunks (id, source_id, chunk_index, body, byte_size)
					VALUES (?, ?, ?, ?, ?)`
	embeddingQuery := `INSERT OR REPLACE INTO embeddings (id, chunk_id, model, embedding, metadata, embedded_at)
					VALUES (?, ?, ?, ?, ?, ?)`

	now := time.Now().Format(time.RFC3339)
	for _, point := range points {
		if _, err := tx.ExecContext(ctx, chunkQuery,
			point.ID, point.SourceID, point.ChunkIndex, point.Body, len(point.Body)); err != nil {
			s.logger.Error().Err(err).Str("point_id", point.ID).Msg("Failed to insert chunk")
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}

		var metadata []byte
		if point.Metadata != nil {
			metadata, _ = json.Marshal(point.Metadata)
		}

		if _, err := tx.ExecContext(ctx, embeddingQuery,
			"emb-"+point.ID, point.ID, point.Model,
			vectorLiteral(point.Vector), string(metadata), now); err != nil {
			s.logger.Error().Err(err).Str("point_id", point.ID).Msg("Failed to insert embedding")
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}
