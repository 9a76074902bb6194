package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/db"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrWorkflowNotFound = errors.New("workflow not found")

type WorkflowRepository struct {
	db     *db.DB
	logger zerolog.Logger
}

func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	logger := util.NewLogger(zerolog.ErrorLevel)
	return &WorkflowRepository{
		db:     database,
		logger: logger,
	}
}

func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, config string) (string, error) {
	workflowID := uuid.New().String()
	query := `
		INSERT INTO workflows (id, config, created_at)
		VALUES (?, ?, datetime('now'))
	`

	if _, err := r.db.ExecContext(ctx, query, workflowID, config); err != nil {
		r.logger.Error().Err(err).Msg("Failed to create workflow")
		return "", err
	}
	return workflowID, nil
}

// AddSourceToWorkflow registers a source against a workflow. Re-registering
// the same (workflow, source) pair is a no-op.
func (r *WorkflowRepository) AddSourceToWorkflow(ctx context.Context, workflowID, sourceID string) error {
	query := `
		INSERT OR IGNORE INTO workflow_sources (workflow_id, source_id, created_at)
		VALUES (?, ?, datetime('now'))
	`

	_, err := r.db.ExecContext(ctx, query, workflowID, sourceID)
	if err != nil {
		r.logger.Error().Err(err).Str("workflow_id", workflowID).Str("source_id", sourceID).
			Msg("Failed to add source to workflow")
	}
	return err
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	query := `SELECT id, config, created_at FROM workflows WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, workflowID)

	var record models.WorkflowRecord
	err := row.Scan(&record.ID, &record.Config, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Error().Str("workflow_id", workflowID).Msg("Workflow not found")
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to get workflow")
		return nil, err
	}

	sourceQuery := `
		SELECT source_id FROM workflow_sources
		WHERE workflow_id = ? ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, sourceQuery, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err = rows.Err(); err != nil {
		return nil, err
	}

	for rows.Next() {
		var sourceID string
		if err := rows.Scan(&sourceID); err != nil {
			r.logger.Error().Err(err).Msg("Failed to scan workflow source")
			return nil, err
		}
		record.SourceIDs = append(record.SourceIDs, sourceID)
	}

	return &record, nil
}
