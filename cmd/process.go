package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/chunkers"
	"github.com/ragworks/ragline/internal/pipeline/config"
	"github.com/ragworks/ragline/internal/pipeline/embedders"
	"github.com/ragworks/ragline/internal/pipeline/ingesters"
	"github.com/ragworks/ragline/internal/pipeline/interfaces"
	"github.com/ragworks/ragline/internal/pipeline/repository"
	"github.com/ragworks/ragline/internal/pipeline/selection"
	"github.com/ragworks/ragline/internal/pipeline/services"
	"github.com/ragworks/ragline/internal/pipeline/vectorstores"
	"github.com/ragworks/ragline/pkg/db"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	ErrUnsupportedEmbeddingModel = errors.New("unsupported embedding model")
	ErrUnsupportedVectorDatabase = errors.New("unsupported vector database")
)

var (
	processURLs     []string
	processFiles    []string
	processChannel  string
	processPlatform string
	processSelect   []string

	processModel     string
	processDatabase  string
	processChunkSize int
	processOverlap   int
	processMaxTokens int

	processUserID        string
	processSourceTimeout time.Duration
	processConcurrency   int
	processExports       []string
	processExportDir     string
)

// embeddingModels are the selectable models and their capabilities.
var embeddingModels = map[string]config.EmbeddingModel{
	"text-embedding-3-small": {ID: "text-embedding-3-small", Dimensions: 1536, MaxTokens: 8191},
	"text-embedding-3-large": {ID: "text-embedding-3-large", Dimensions: 3072, MaxTokens: 8191},
	"text-embedding-ada-002": {ID: "text-embedding-ada-002", Dimensions: 1536, MaxTokens: 8191},
	"jina-embeddings-v3": {
		ID: "jina-embeddings-v3", Dimensions: 1024, MaxTokens: 8192,
		SupportsLateChunking: true, SupportsMultiVector: true,
	},
	"jina-embeddings-v2-base-en": {ID: "jina-embeddings-v2-base-en", Dimensions: 768, MaxTokens: 8192},
}

// vectorDatabases are the selectable storage targets.
var vectorDatabases = map[string]config.VectorDatabase{
	"libsql":   {ID: "libsql", HostingModel: "managed", PricingModel: "usage", MaxConcurrentWrites: 20},
	"pgvector": {ID: "pgvector", HostingModel: "self-hosted", PricingModel: "infra", SupportsNativeExport: true, MaxConcurrentWrites: 50},
	"qdrant":   {ID: "qdrant", HostingModel: "managed", PricingModel: "tiered", SupportsNativeExport: true, MaxConcurrentWrites: 30},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the content-to-embeddings pipeline over selected sources",
	Long: `Build a catalog from the given inputs, select sources, and run a
processing job: ingest, chunk, embed, store.

Examples:
  # Process two URLs into the default libsql store
  ragline process --urls "https://example.com/a,https://example.com/b"

  # Process documents with a Jina model into pgvector, then export JSON
  ragline process --files "notes.md,report.pdf" --model jina-embeddings-v3 \
    --db pgvector --export json

  # Process a subset of a YouTube channel page
  ragline process --channel "@somecreator" --select "vid-1,vid-2"`,
	Run: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringSliceVar(&processURLs, "urls", nil, "Comma-separated list of content URLs (max 20)")
	processCmd.Flags().StringSliceVar(&processFiles, "files", nil, "Comma-separated list of document paths (max 50, 10 MB each)")
	processCmd.Flags().StringVar(&processChannel, "channel", "", "Channel handle to fetch one page of items from")
	processCmd.Flags().StringVar(&processPlatform, "platform", "youtube", "Channel platform (youtube, tiktok, twitch)")
	processCmd.Flags().StringSliceVar(&processSelect, "select", nil, "Source ids to process (default: all)")

	processCmd.Flags().StringVarP(&processModel, "model", "m", "text-embedding-3-small", "Embedding model")
	processCmd.Flags().StringVar(&processDatabase, "db", "libsql", "Vector database target (libsql, pgvector, qdrant)")
	processCmd.Flags().IntVar(&processChunkSize, "chunk-size", 512, "Chunk size in tokens")
	processCmd.Flags().IntVar(&processOverlap, "overlap", 50, "Token overlap between neighbouring chunks")
	processCmd.Flags().IntVarP(&processMaxTokens, "tokens", "t", 8191, "Maximum tokens per chunk")

	processCmd.Flags().StringVar(&processUserID, "user", "local", "User id recorded on the job")
	processCmd.Flags().DurationVar(&processSourceTimeout, "source-timeout", 2*time.Minute, "Per-source content fetch timeout")
	processCmd.Flags().IntVarP(&processConcurrency, "concurrency", "c", 4, "Chunk embedding workers per source")
	processCmd.Flags().StringSliceVar(&processExports, "export", nil, "Artifact formats to export after completion (json, csv, parquet, native)")
	processCmd.Flags().StringVar(&processExportDir, "export-dir", "exports", "Directory for export artifacts")
}

func runProcess(_ *cobra.Command, _ []string) {
	logger := util.NewLogger(zerolog.InfoLevel)
	ctx := context.Background()

	model, ok := embeddingModels[processModel]
	if !ok {
		logger.Fatal().Err(ErrUnsupportedEmbeddingModel).Str("model", processModel).Msg("Unknown embedding model")
	}
	target, ok := vectorDatabases[processDatabase]
	if !ok {
		logger.Fatal().Err(ErrUnsupportedVectorDatabase).Str("db", processDatabase).Msg("Unknown vector database")
	}

	cfg, err := config.NewBuilder().
		WithEmbeddingModel(model).
		WithVectorDatabase(target).
		WithChunking(config.Chunking{
			ChunkSize: processChunkSize,
			Overlap:   processOverlap,
			MaxTokens: processMaxTokens,
		}).
		Freeze()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid pipeline configuration")
	}

	cat, err := buildCatalog(ctx, processURLs, processFiles, processChannel, processPlatform)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build catalog")
	}

	set := selection.NewSet(cat)
	if len(processSelect) > 0 {
		for _, id := range processSelect {
			set.Toggle(id)
		}
	} else {
		set.SelectAll()
	}

	database, err := db.NewConnection()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func(database *db.DB) {
		if err := database.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}(database)

	chunker, err := buildChunker(model)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create chunker")
	}
	embedder, err := buildEmbedder(model)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create embedder")
	}
	store, err := buildVectorStore(ctx, target.ID, database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create vector store")
	}

	job, err := services.NewJob(processUserID, cfg, set.Sources(), services.JobDeps{
		Chunker:     chunker,
		Embedder:    embedder,
		VectorStore: store,
		Jobs:        repository.NewJobRepository(database),
		Transcripts: repository.NewTranscriptRepository(database),
		Workflows:   repository.NewWorkflowRepository(database),
	}, services.JobOptions{
		SourceTimeout: processSourceTimeout,
		Concurrency:   processConcurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create job")
	}

	if err := registerIngesters(job); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register ingesters")
	}

	updates := job.Subscribe()
	if err := job.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start job")
	}

	for progress := range updates {
		logger.Info().
			Str("stage", string(progress.Stage)).
			Int64("processed", progress.ContentProcessed).
			Int64("total", progress.TotalContent).
			Int64("embeddings", progress.EmbeddingsCreated).
			Msgf("%.0f%%", progress.StagePercent()*100)
	}
	<-job.Done()

	final := job.Progress()
	if final.Stage == services.StageFailed {
		logger.Fatal().Str("error", final.Error).Str("job_id", job.ID()).Msg("Job failed")
	}

	var failed int
	for _, result := range job.Results() {
		if result.Err != nil {
			failed++
			logger.Warn().Str("source_id", result.Source.ID).Err(result.Err).Msg("Source failed")
		}
	}
	logger.Info().
		Str("job_id", job.ID()).
		Int64("embeddings", final.EmbeddingsCreated).
		Int("failed_sources", failed).
		Msg("Job completed")

	if len(processExports) > 0 {
		exporter := services.NewExportService(processExportDir)
		for _, format := range processExports {
			artifact, err := exporter.Export(ctx, job, services.ExportFormat(format))
			if err != nil {
				logger.Error().Err(err).Str("format", format).Msg("Export failed")
				continue
			}
			logger.Info().
				Str("format", format).
				Str("path", artifact.DownloadRef).
				Int64("bytes", artifact.SizeBytes).
				Msg("Artifact written")
		}
	}
}

func registerIngesters(job *services.Job) error {
	if err := job.RegisterIngester(ingesters.NewURLIngester()); err != nil {
		return fmt.Errorf("failed to register URL ingester: %w", err)
	}
	if err := job.RegisterIngester(ingesters.NewDocumentIngester()); err != nil {
		return fmt.Errorf("failed to register document ingester: %w", err)
	}

	// Video ingestion needs the transcript API; skip it when unconfigured so
	// URL/document runs work without it.
	videoIngester, err := ingesters.NewVideoIngester()
	if err == nil {
		if err := job.RegisterIngester(videoIngester); err != nil {
			return fmt.Errorf("failed to register video ingester: %w", err)
		}
	}
	return nil
}

func buildChunker(model config.EmbeddingModel) (interfaces.Chunker, error) {
	if model.SupportsLateChunking {
		return chunkers.NewSentenceBoundedChunker()
	}
	return chunkers.NewTokenChunker()
}

func buildEmbedder(model config.EmbeddingModel) (interfaces.Embedder, error) {
	switch model.ID {
	case "text-embedding-3-small", "text-embedding-3-large", "text-embedding-ada-002":
		return embedders.NewOpenAIEmbedder(model.ID)
	case "jina-embeddings-v3", "jina-embeddings-v2-base-en":
		return embedders.NewJinaEmbedder(model.ID, model.SupportsLateChunking)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEmbeddingModel, model.ID)
	}
}

func pgvectorURL() string {
	return os.Getenv("PGVECTOR_URL")
}

func buildVectorStore(ctx context.Context, id string, database *db.DB) (interfaces.VectorStore, error) {
	switch id {
	case "libsql":
		return vectorstores.NewLibSQLStore(database.DB), nil
	case "pgvector":
		return vectorstores.NewPgVectorStore(ctx, pgvectorURL())
	case "qdrant":
		return vectorstores.NewQdrantStore("ragline")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVectorDatabase, id)
	}
}
