package interfaces

import (
	"context"

	"github.com/ragworks/ragline/internal/pipeline/models"
)

// Ingester defines the interface for extracting raw text from one kind of
// content source. Dispatch is fixed per source kind at catalog-build time.
type Ingester interface {
	// Ingest fetches and extracts the text for a source
	Ingest(ctx context.Context, source models.ContentSource) (*models.RawContent, error)

	// GetSourceKind returns the kind of source this ingester handles
	GetSourceKind() models.SourceKind
}

// Chunker defines the interface for breaking extracted text into chunks.
type Chunker interface {
	// ChunkContent splits text into chunks of at most maxTokens tokens with
	// overlapTokens of context shared between neighbours
	ChunkContent(content string, maxTokens, overlapTokens int) ([]*models.Chunk, error)

	// GetChunkingStrategy returns the strategy name used by this chunker
	GetChunkingStrategy() string
}

// Embedder defines the interface for generating vector embeddings.
type Embedder interface {
	// EmbedBatch creates one vector per input text, preserving order
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)

	// GetModelName returns the name of the embedding model
	GetModelName() string

	// GetDimension returns the dimension of the embedding vectors
	GetDimension() int

	// GetMaxTokens returns the maximum number of tokens this embedder can handle
	GetMaxTokens() int

	// GetMaxBatchSize returns the largest batch the provider accepts
	GetMaxBatchSize() int
}

// VectorStore defines the interface for persisting embedded chunks.
type VectorStore interface {
	// UpsertBatch writes all points or none; duplicate point IDs overwrite
	UpsertBatch(ctx context.Context, points []models.VectorPoint) error

	// Name returns the vector database identifier
	Name() string

	// SupportsNativeExport reports whether the target offers a bulk native
	// export format
	SupportsNativeExport() bool
}

// ChannelFetcher defines the interface for listing a platform channel's
// content as catalog sources.
type ChannelFetcher interface {
	// FetchChannelVideos returns one bounded page of a channel's items
	FetchChannelVideos(ctx context.Context, handle string, limit int) ([]models.ContentSource, error)

	// GetPlatform returns the platform this fetcher handles
	GetPlatform() models.Platform
}

// JobStore defines the persistence collaborator for job records.
type JobStore interface {
	CreateJob(ctx context.Context, jobID, userID, sourceLocator string) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, jobErr *string) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
}

// TranscriptStore defines the persistence collaborator for transcripts.
type TranscriptStore interface {
	StoreTranscript(ctx context.Context, record *models.TranscriptRecord) error
	GetTranscriptByVideoID(ctx context.Context, videoID string) (*models.TranscriptRecord, error)
}

// WorkflowStore defines the registry collaborator for configured runs.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, config string) (string, error)
	AddSourceToWorkflow(ctx context.Context, workflowID, sourceID string) error
	GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRecord, error)
}
