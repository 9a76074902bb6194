package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ragworks/ragline/internal/pipeline/config"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
)

// ExportFormat identifies a downloadable artifact encoding.
type ExportFormat string

const (
	FormatJSON    ExportFormat = "json"
	FormatCSV     ExportFormat = "csv"
	FormatParquet ExportFormat = "parquet"
	// FormatNative is the vector database's own bulk format; only available
	// when the configured target supports bulk native export.
	FormatNative ExportFormat = "native"
)

// ArtifactStatus is the lifecycle state of one export artifact.
type ArtifactStatus string

const (
	ArtifactPending    ArtifactStatus = "pending"
	ArtifactProcessing ArtifactStatus = "processing"
	ArtifactCompleted  ArtifactStatus = "completed"
	ArtifactFailed     ArtifactStatus = "failed"
)

var (
	// ErrExport is the root of the export error family. Export failures are
	// synchronous and always safe to retry.
	ErrExport = errors.New("export failed")

	ErrJobNotCompleted   = errors.New("job is not completed")
	ErrFormatUnavailable = errors.New("format not available for this vector database")
	ErrUnknownFormat     = errors.New("unknown export format")
)

// ExportArtifact is one generated download. Immutable once completed.
type ExportArtifact struct {
	JobID       string         `json:"job_id"`
	Format      ExportFormat   `json:"format"`
	DownloadRef string         `json:"download_ref"`
	SizeBytes   int64          `json:"size_bytes"`
	Status      ArtifactStatus `json:"status"`
}

// Exportable is the view of a job the export service needs. *Job satisfies
// it; so do adapters that rehydrate a completed job from persistence.
type Exportable interface {
	ID() string
	Config() config.Pipeline
	Progress() Progress
	Results() []SourceResult
	SupportsNativeExport() bool
	VectorStoreName() string
}

// ExportService converts a completed job's accumulated results into
// downloadable artifacts. Artifact generation is exactly-once per
// (jobID, format): repeated requests return the cached artifact unless the
// prior attempt failed.
type ExportService struct {
	dir string

	mu        sync.Mutex
	artifacts map[string]*ExportArtifact

	logger zerolog.Logger
}

// NewExportService creates an export service writing artifacts under dir.
func NewExportService(dir string) *ExportService {
	return &ExportService{
		dir:       dir,
		artifacts: make(map[string]*ExportArtifact),
		logger:    util.NewLogger(zerolog.ErrorLevel),
	}
}

type exportSummary struct {
	TotalDocuments  int    `json:"totalDocuments"`
	TotalChunks     int    `json:"totalChunks"`
	FailedSources   int    `json:"failedSources"`
	EmbeddingModel  string `json:"embeddingModel"`
	VectorDatabase  string `json:"vectorDatabase"`
	EmbeddingsTotal int64  `json:"embeddingsTotal"`
}

type exportChunk struct {
	Index  int       `json:"index"`
	Body   string    `json:"body"`
	Vector []float32 `json:"vector"`
}

type exportDocument struct {
	SourceID string        `json:"sourceId"`
	Title    string        `json:"title"`
	Kind     string        `json:"kind"`
	Chunks   []exportChunk `json:"chunks"`
}

type exportEnvelope struct {
	JobID     string           `json:"jobId"`
	Summary   exportSummary    `json:"summary"`
	Documents []exportDocument `json:"documents"`
}

type parquetRow struct {
	SourceID   string    `parquet:"source_id"`
	ChunkIndex int32     `parquet:"chunk_index"`
	Body       string    `parquet:"body"`
	Model      string    `parquet:"model"`
	Vector     []float32 `parquet:"vector"`
}

// Export produces (or returns the cached) artifact for a completed job.
func (s *ExportService) Export(ctx context.Context, job Exportable, format ExportFormat) (*ExportArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	if job.Progress().Stage != StageCompleted {
		return nil, fmt.Errorf("%w: %w", ErrExport, ErrJobNotCompleted)
	}
	if format == FormatNative && !job.SupportsNativeExport() {
		return nil, fmt.Errorf("%w: %w: %s", ErrExport, ErrFormatUnavailable, job.VectorStoreName())
	}

	// One generation at a time keeps (jobID, format) exactly-once under
	// concurrent requests.
	s.mu.Lock()
	defer s.mu.Unlock()

	key := job.ID() + "/" + string(format)
	if artifact, ok := s.artifacts[key]; ok && artifact.Status != ArtifactFailed {
		return artifact, nil
	}

	artifact := &ExportArtifact{
		JobID:  job.ID(),
		Format: format,
		Status: ArtifactProcessing,
	}
	s.artifacts[key] = artifact

	path, err := s.write(job, format)
	if err != nil {
		artifact.Status = ArtifactFailed
		s.logger.Error().Err(err).Str("job_id", job.ID()).Str("format", string(format)).Msg("Export failed")
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		artifact.Status = ArtifactFailed
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}

	artifact.DownloadRef = path
	artifact.SizeBytes = info.Size()
	artifact.Status = ArtifactCompleted
	return artifact, nil
}

func (s *ExportService) write(job Exportable, format ExportFormat) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	ext := string(format)
	if format == FormatNative {
		ext = "ndjson"
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.%s", job.ID(), ext))

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("Failed to close artifact file")
		}
	}()

	switch format {
	case FormatJSON:
		err = s.writeJSON(file, job)
	case FormatCSV:
		err = s.writeCSV(file, job)
	case FormatParquet:
		err = s.writeParquet(file, job)
	case FormatNative:
		err = s.writeNative(file, job)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *ExportService) writeJSON(file *os.File, job Exportable) error {
	cfg := job.Config()
	envelope := exportEnvelope{
		JobID: job.ID(),
		Summary: exportSummary{
			EmbeddingModel:  cfg.EmbeddingModel.ID,
			VectorDatabase:  cfg.VectorDatabase.ID,
			EmbeddingsTotal: job.Progress().EmbeddingsCreated,
		},
	}

	for _, result := range job.Results() {
		if result.Err != nil {
			envelope.Summary.FailedSources++
			continue
		}
		envelope.Summary.TotalDocuments++
		envelope.Summary.TotalChunks += len(result.Points)

		doc := exportDocument{
			SourceID: result.Source.ID,
			Title:    result.Source.DisplayTitle,
			Kind:     string(result.Source.Kind),
			Chunks:   make([]exportChunk, 0, len(result.Points)),
		}
		for _, point := range result.Points {
			doc.Chunks = append(doc.Chunks, exportChunk{
				Index:  point.ChunkIndex,
				Body:   point.Body,
				Vector: point.Vector,
			})
		}
		envelope.Documents = append(envelope.Documents, doc)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(envelope)
}

func (s *ExportService) writeCSV(file *os.File, job Exportable) error {
	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"source_id", "title", "chunk_index", "model", "body"}); err != nil {
		return err
	}

	for _, result := range job.Results() {
		if result.Err != nil {
			continue
		}
		for _, point := range result.Points {
			record := []string{
				point.SourceID,
				result.Source.DisplayTitle,
				strconv.Itoa(point.ChunkIndex),
				point.Model,
				point.Body,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func (s *ExportService) writeParquet(file *os.File, job Exportable) error {
	writer := parquet.NewGenericWriter[parquetRow](file)

	for _, result := range job.Results() {
		if result.Err != nil {
			continue
		}
		rows := make([]parquetRow, 0, len(result.Points))
		for _, point := range result.Points {
			rows = append(rows, parquetRow{
				SourceID:   point.SourceID,
				ChunkIndex: int32(point.ChunkIndex),
				Body:       point.Body,
				Model:      point.Model,
				Vector:     point.Vector,
			})
		}
		if len(rows) == 0 {
			continue
		}
		if _, err := writer.Write(rows); err != nil {
			return err
		}
	}

	return writer.Close()
}

// writeNative emits the bulk shape vector databases ingest directly: one
// point object per line.
func (s *ExportService) writeNative(file *os.File, job Exportable) error {
	encoder := json.NewEncoder(file)
	for _, result := range job.Results() {
		if result.Err != nil {
			continue
		}
		for _, point := range result.Points {
			native := map[string]any{
				"id":     point.ID,
				"vector": point.Vector,
				"payload": map[string]any{
					"source_id":   point.SourceID,
					"chunk_index": point.ChunkIndex,
					"body":        point.Body,
					"model":       point.Model,
				},
			}
			if err := encoder.Encode(native); err != nil {
				return err
			}
		}
	}
	return nil
}
