package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ragworks/ragline/internal/pipeline/config"
	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/internal/pipeline/repository"
	"github.com/ragworks/ragline/internal/pipeline/services"
	"github.com/ragworks/ragline/pkg/db"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	exportJobID  string
	exportFormat string
	exportDir    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Produce a download artifact for a completed job",
	Long: `Rehydrate a completed job from the libsql store and write an export
artifact. Only jobs that stored their vectors in libsql can be exported
after the fact; pgvector and qdrant jobs export at process time via
'ragline process --export'.

Examples:
  ragline export --job 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --format json`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportJobID, "job", "", "Job id to export (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Artifact format (json, csv, parquet)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "exports", "Directory for export artifacts")

	if err := exportCmd.MarkFlagRequired("job"); err != nil {
		return
	}
}

func runExport(_ *cobra.Command, _ []string) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	ctx := context.Background()

	database, err := db.NewConnection()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func(database *db.DB) {
		if err := database.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}(database)

	job, err := loadStoredJob(ctx, database, exportJobID)
	if err != nil {
		logger.Fatal().Err(err).Str("job_id", exportJobID).Msg("Failed to load job")
	}

	exporter := services.NewExportService(exportDir)
	artifact, err := exporter.Export(ctx, job, services.ExportFormat(exportFormat))
	if err != nil {
		logger.Fatal().Err(err).Str("format", exportFormat).Msg("Export failed")
	}

	fmt.Printf("wrote %s (%d bytes)\n", artifact.DownloadRef, artifact.SizeBytes)
}

// storedJob is a completed job rehydrated from the libsql tables. It
// satisfies services.Exportable.
type storedJob struct {
	record  *models.JobRecord
	cfg     config.Pipeline
	results []services.SourceResult
	total   int64
}

func (s *storedJob) ID() string              { return s.record.ID }
func (s *storedJob) Config() config.Pipeline { return s.cfg }
func (s *storedJob) SupportsNativeExport() bool {
	return false
}
func (s *storedJob) VectorStoreName() string { return "libsql" }

func (s *storedJob) Progress() services.Progress {
	stage := services.StageFailed
	errText := ""
	switch s.record.Status {
	case models.JobStatusCompleted:
		stage = services.StageCompleted
	case models.JobStatusProcessing:
		stage = services.StageStoring
	case models.JobStatusFailed:
		if s.record.Error != nil {
			errText = *s.record.Error
		}
	}
	return services.Progress{
		JobID:             s.record.ID,
		Stage:             stage,
		ContentProcessed:  int64(len(s.results)),
		TotalContent:      int64(len(s.results)),
		EmbeddingsCreated: s.total,
		Error:             errText,
	}
}

func (s *storedJob) Results() []services.SourceResult {
	return s.results
}

func loadStoredJob(ctx context.Context, database *db.DB, jobID string) (*storedJob, error) {
	record, err := repository.NewJobRepository(database).GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT c.source_id, c.chunk_index, c.body, e.model, e.embedding, e.metadata
		FROM chunks c JOIN embeddings e ON e.chunk_id = c.id
		ORDER BY c.source_id, c.chunk_index
	`
	rows, err := database.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err = rows.Err(); err != nil {
		return nil, err
	}

	job := &storedJob{record: record}
	bySource := make(map[string]*services.SourceResult)
	var order []string
	var model string

	for rows.Next() {
		var (
			sourceID, body, embedding string
			metadata                  *string
			chunkIndex                int
		)
		if err := rows.Scan(&sourceID, &chunkIndex, &body, &model, &embedding, &metadata); err != nil {
			return nil, err
		}

		point := models.VectorPoint{
			SourceID:   sourceID,
			ChunkIndex: chunkIndex,
			Body:       body,
			Model:      model,
			Vector:     parseVectorLiteral(embedding),
		}
		title, kind := sourceID, models.KindURL
		if metadata != nil {
			var meta map[string]string
			if err := json.Unmarshal([]byte(*metadata), &meta); err == nil {
				if meta["title"] != "" {
					title = meta["title"]
				}
				if meta["kind"] != "" {
					kind = models.SourceKind(meta["kind"])
				}
			}
		}

		result, ok := bySource[sourceID]
		if !ok {
			result = &services.SourceResult{
				Source: models.ContentSource{ID: sourceID, Kind: kind, DisplayTitle: title},
			}
			bySource[sourceID] = result
			order = append(order, sourceID)
		}
		result.Points = append(result.Points, point)
		job.total++
	}

	for _, sourceID := range order {
		job.results = append(job.results, *bySource[sourceID])
	}

	modelCfg, ok := embeddingModels[model]
	if !ok {
		modelCfg = config.EmbeddingModel{ID: model}
	}
	job.cfg = config.Pipeline{
		EmbeddingModel: modelCfg,
		VectorDatabase: vectorDatabases["libsql"],
	}
	return job, nil
}

// parseVectorLiteral reads the bracketed text form vectors are stored in.
func parseVectorLiteral(literal string) []float32 {
	trimmed := strings.Trim(literal, "[]")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	vector := make([]float32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vector = append(vector, float32(v))
	}
	return vector
}
