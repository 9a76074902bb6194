package config

import (
	"errors"
	"fmt"
)

// Chunking parameter bounds.
const (
	MinChunkSize = 128
	MaxChunkSize = 4096
	MinOverlap   = 0
	MaxOverlap   = 500
	MinMaxTokens = 50
	MaxMaxTokens = 8192
)

var (
	// ErrConfiguration is the root of the configuration error family; every
	// validation failure wraps it.
	ErrConfiguration = errors.New("invalid pipeline configuration")

	ErrNoEmbeddingModel    = errors.New("no embedding model selected")
	ErrNoVectorDatabase    = errors.New("no vector database selected")
	ErrChunkSizeOutOfRange = errors.New("chunk size out of range")
	ErrOverlapOutOfRange   = errors.New("overlap out of range")
	ErrOverlapTooLarge     = errors.New("overlap must be smaller than chunk size")
	ErrMaxTokensOutOfRange = errors.New("max tokens out of range")
	ErrMaxTokensExceeded   = errors.New("max tokens exceeds embedding model limit")
	ErrEmptySelection      = errors.New("selection set is empty")
)

// EmbeddingModel describes a selectable embedding model.
type EmbeddingModel struct {
	ID                   string `json:"id"`
	Dimensions           int    `json:"dimensions"`
	MaxTokens            int    `json:"max_tokens"`
	SupportsLateChunking bool   `json:"supports_late_chunking"`
	SupportsMultiVector  bool   `json:"supports_multi_vector"`
}

// VectorDatabase describes a selectable vector store target.
type VectorDatabase struct {
	ID                   string `json:"id"`
	HostingModel         string `json:"hosting_model"`
	PricingModel         string `json:"pricing_model"`
	SupportsNativeExport bool   `json:"supports_native_export"`
	MaxConcurrentWrites  int    `json:"max_concurrent_writes"`
}

// Chunking holds the chunking parameters.
type Chunking struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
	MaxTokens int `json:"max_tokens"`
}

// Pipeline is a frozen, validated configuration. It is a value type: once a
// job is created from it there is no way to mutate the job's copy.
type Pipeline struct {
	EmbeddingModel EmbeddingModel `json:"embedding_model"`
	VectorDatabase VectorDatabase `json:"vector_database"`
	Chunking       Chunking       `json:"chunking"`
}

// Builder accumulates configuration across wizard steps. Zero value is
// usable; call Validate before Freeze.
type Builder struct {
	model    *EmbeddingModel
	database *VectorDatabase
	chunking Chunking
}

// NewBuilder returns a builder with the default chunking parameters.
func NewBuilder() *Builder {
	return &Builder{
		chunking: Chunking{ChunkSize: 512, Overlap: 50, MaxTokens: 8191},
	}
}

// WithEmbeddingModel sets the embedding model choice.
func (b *Builder) WithEmbeddingModel(m EmbeddingModel) *Builder {
	b.model = &m
	return b
}

// WithVectorDatabase sets the vector database choice.
func (b *Builder) WithVectorDatabase(v VectorDatabase) *Builder {
	b.database = &v
	return b
}

// WithChunking sets the chunking parameters.
func (b *Builder) WithChunking(c Chunking) *Builder {
	b.chunking = c
	return b
}

// Validate checks the configuration invariants. It succeeds iff an
// embedding model and vector database are set, overlap < chunk size, and
// the chunk token budget fits the model.
func (b *Builder) Validate() error {
	if b.model == nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrNoEmbeddingModel)
	}
	if b.database == nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, ErrNoVectorDatabase)
	}

	c := b.chunking
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: %w: %d not in [%d, %d]",
			ErrConfiguration, ErrChunkSizeOutOfRange, c.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	if c.Overlap < MinOverlap || c.Overlap > MaxOverlap {
		return fmt.Errorf("%w: %w: %d not in [%d, %d]",
			ErrConfiguration, ErrOverlapOutOfRange, c.Overlap, MinOverlap, MaxOverlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: %w: overlap %d, chunk size %d",
			ErrConfiguration, ErrOverlapTooLarge, c.Overlap, c.ChunkSize)
	}
	if c.MaxTokens < MinMaxTokens || c.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("%w: %w: %d not in [%d, %d]",
			ErrConfiguration, ErrMaxTokensOutOfRange, c.MaxTokens, MinMaxTokens, MaxMaxTokens)
	}
	if c.MaxTokens > b.model.MaxTokens {
		return fmt.Errorf("%w: %w: %d > %d",
			ErrConfiguration, ErrMaxTokensExceeded, c.MaxTokens, b.model.MaxTokens)
	}

	return nil
}

// Freeze validates and returns the immutable configuration value.
func (b *Builder) Freeze() (Pipeline, error) {
	if err := b.Validate(); err != nil {
		return Pipeline{}, err
	}
	return Pipeline{
		EmbeddingModel: *b.model,
		VectorDatabase: *b.database,
		Chunking:       b.chunking,
	}, nil
}
