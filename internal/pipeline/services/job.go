package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/backoff"
	"github.com/ragworks/ragline/internal/pipeline/config"
	"github.com/ragworks/ragline/internal/pipeline/interfaces"
	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// Stage is the in-memory progress stage of a running job. The persisted
// status (processing/completed/failed) is coarser; stages exist for
// observers.
type Stage string

const (
	StagePending      Stage = "pending"
	StageInitializing Stage = "initializing"
	StageIngesting    Stage = "ingesting"
	StageChunking     Stage = "chunking"
	StageEmbedding    Stage = "embedding"
	StageStoring      Stage = "storing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

const (
	defaultSourceTimeout = 2 * time.Minute
	defaultConcurrency   = 4
	subscriberBuffer     = 16
)

var (
	ErrJobAlreadyStarted     = errors.New("job already started")
	ErrIngesterAlreadySet    = errors.New("ingester already registered for source kind")
	ErrNoIngesterRegistered  = errors.New("no ingester registered for source kind")
	ErrStorageMajorityFailed = errors.New("storage retries exhausted for a majority of chunks")
	errCancelled             = errors.New("cancelled")
)

// Progress is an observable snapshot of a job. Counters are monotonically
// non-decreasing.
type Progress struct {
	JobID             string
	Stage             Stage
	ContentProcessed  int64
	TotalContent      int64
	EmbeddingsCreated int64
	Error             string
}

// StagePercent reports contentProcessed / totalContent in [0, 1].
func (p Progress) StagePercent() float64 {
	if p.TotalContent == 0 {
		return 0
	}
	return float64(p.ContentProcessed) / float64(p.TotalContent)
}

// SourceResult records the outcome of one selected source.
type SourceResult struct {
	Source models.ContentSource
	Err    error
	Points []models.VectorPoint
}

// JobOptions tunes one job run.
type JobOptions struct {
	// SourceTimeout bounds each source's content fetch.
	SourceTimeout time.Duration
	// Concurrency is the chunk-embedding worker pool size within one source.
	Concurrency int
	// Backoff is the retry budget for embedding and storage calls.
	Backoff backoff.Policy
}

// JobDeps are the collaborators a job orchestrates. Stores may be nil when
// persistence is not configured (preview runs).
type JobDeps struct {
	Chunker     interfaces.Chunker
	Embedder    interfaces.Embedder
	VectorStore interfaces.VectorStore
	Jobs        interfaces.JobStore
	Transcripts interfaces.TranscriptStore
	Workflows   interfaces.WorkflowStore
}

// Job runs the ingest → chunk → embed → store pipeline over a frozen
// selection. One goroutine per job; jobs share no mutable state. A job is
// never reused: retrying means creating a new job.
type Job struct {
	id      string
	userID  string
	cfg     config.Pipeline
	sources []models.ContentSource

	ingesters map[models.SourceKind]interfaces.Ingester
	deps      JobDeps
	opts      JobOptions

	mu                sync.Mutex
	stage             Stage
	errText           string
	subscribers       []chan Progress
	subscribersClosed bool
	results           []SourceResult
	started           bool
	workflowID        string

	contentProcessed  atomic.Int64
	totalContent      int64
	embeddingsCreated atomic.Int64
	chunksAttempted   atomic.Int64
	chunksStored      atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger
}

// NewJob creates a pending job from a frozen configuration and a non-empty
// selection of sources.
func NewJob(userID string, cfg config.Pipeline, sources []models.ContentSource, deps JobDeps, opts JobOptions) (*Job, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, config.ErrEmptySelection)
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = defaultSourceTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Backoff.MaxAttempts <= 0 {
		opts.Backoff = backoff.DefaultPolicy()
	}

	return &Job{
		id:           uuid.New().String(),
		userID:       userID,
		cfg:          cfg,
		sources:      sources,
		ingesters:    make(map[models.SourceKind]interfaces.Ingester),
		deps:         deps,
		opts:         opts,
		stage:        StagePending,
		totalContent: int64(len(sources)),
		done:         make(chan struct{}),
		logger:       util.NewLogger(zerolog.InfoLevel),
	}, nil
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// Config returns the frozen configuration the job was created from.
func (j *Job) Config() config.Pipeline {
	return j.cfg
}

// VectorStoreName returns the configured target's identifier, or "" before
// Start.
func (j *Job) VectorStoreName() string {
	if j.deps.VectorStore == nil {
		return ""
	}
	return j.deps.VectorStore.Name()
}

// SupportsNativeExport reports whether the configured vector store offers a
// bulk native export format.
func (j *Job) SupportsNativeExport() bool {
	return j.deps.VectorStore != nil && j.deps.VectorStore.SupportsNativeExport()
}

// RegisterIngester adds the ingester for one source kind. Each kind is
// registered at most once.
func (j *Job) RegisterIngester(ingester interfaces.Ingester) error {
	kind := ingester.GetSourceKind()
	if _, exists := j.ingesters[kind]; exists {
		j.logger.Error().Str("source_kind", string(kind)).Msg("Ingester already registered")
		return ErrIngesterAlreadySet
	}
	j.ingesters[kind] = ingester
	return nil
}

// Subscribe returns a channel that receives a Progress snapshot on every
// stage transition and counter milestone. The channel is closed when the job
// reaches a terminal state; subscribing after that returns an already-closed
// channel.
func (j *Job) Subscribe() <-chan Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan Progress, subscriberBuffer)
	if j.subscribersClosed {
		close(ch)
		return ch
	}
	j.subscribers = append(j.subscribers, ch)
	return ch
}

// Progress returns the current snapshot.
func (j *Job) Progress() Progress {
	j.mu.Lock()
	stage := j.stage
	errText := j.errText
	j.mu.Unlock()

	return Progress{
		JobID:             j.id,
		Stage:             stage,
		ContentProcessed:  j.contentProcessed.Load(),
		TotalContent:      j.totalContent,
		EmbeddingsCreated: j.embeddingsCreated.Load(),
		Error:             errText,
	}
}

// Results returns per-source outcomes. Stable once the job is terminal.
func (j *Job) Results() []SourceResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]SourceResult, len(j.results))
	copy(out, j.results)
	return out
}

// Done is closed when the job reaches completed or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel requests a cooperative cancel. The signal is honoured between
// source iterations; the in-flight source is never left half-committed.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start launches the job goroutine and returns immediately.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return ErrJobAlreadyStarted
	}
	j.started = true
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.mu.Unlock()

	go j.run(runCtx)
	return nil
}

func (j *Job) run(ctx context.Context) {
	defer close(j.done)

	j.initialize(ctx)

	for _, source := range j.sources {
		// Cooperative cancel, checked between source iterations only.
		if ctx.Err() != nil {
			j.fail(errCancelled)
			return
		}

		result := j.processSource(ctx, source)

		j.mu.Lock()
		j.results = append(j.results, result)
		j.mu.Unlock()

		j.contentProcessed.Add(1)
		j.notify()

		// A cancel that interrupted the in-flight source is a cancellation,
		// not a storage failure.
		if ctx.Err() != nil {
			j.fail(errCancelled)
			return
		}

		if result.Err != nil && errors.Is(result.Err, ErrStorageMajorityFailed) {
			j.fail(result.Err)
			return
		}
	}

	if ctx.Err() != nil {
		j.fail(errCancelled)
		return
	}

	j.complete(ctx)
}

func (j *Job) initialize(ctx context.Context) {
	j.setStage(StageInitializing)
	j.logger.Info().Str("job_id", j.id).Int64("total_content", j.totalContent).Msg("Job initializing")

	if j.deps.Jobs != nil {
		locator := j.sourceLocator()
		if err := j.deps.Jobs.CreateJob(ctx, j.id, j.userID, locator); err != nil {
			j.logger.Error().Err(err).Str("job_id", j.id).Msg("Failed to persist job record")
		}
	}

	if j.deps.Workflows != nil {
		cfgJSON, err := json.Marshal(j.cfg)
		if err == nil {
			workflowID, err := j.deps.Workflows.CreateWorkflow(ctx, string(cfgJSON))
			if err != nil {
				j.logger.Error().Err(err).Str("job_id", j.id).Msg("Failed to create workflow")
			} else {
				j.mu.Lock()
				j.workflowID = workflowID
				j.mu.Unlock()
				for _, source := range j.sources {
					if err := j.deps.Workflows.AddSourceToWorkflow(ctx, workflowID, source.ID); err != nil {
						j.logger.Error().Err(err).Str("source_id", source.ID).Msg("Failed to register workflow source")
					}
				}
			}
		}
	}
}

func (j *Job) sourceLocator() string {
	if len(j.sources) == 1 {
		return j.sources[0].Locator
	}
	return fmt.Sprintf("%d sources", len(j.sources))
}

// processSource runs one source through ingest → chunk → embed → store.
// Errors other than storage-majority escalation are recorded on the result
// and do not abort the job.
func (j *Job) processSource(ctx context.Context, source models.ContentSource) SourceResult {
	result := SourceResult{Source: source}

	if source.Failed {
		reason := "source failed during catalog build"
		if source.FailureReason != nil {
			reason = *source.FailureReason
		}
		result.Err = errors.New(reason)
		return result
	}

	content, err := j.ingest(ctx, source)
	if err != nil {
		j.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Source fetch failed, continuing")
		result.Err = err
		return result
	}

	j.setStage(StageChunking)
	chunks, err := j.deps.Chunker.ChunkContent(content.Text, j.cfg.Chunking.ChunkSize, j.cfg.Chunking.Overlap)
	if err != nil {
		result.Err = fmt.Errorf("chunking failed: %w", err)
		return result
	}
	for _, chunk := range chunks {
		chunk.SourceID = source.ID
	}
	j.chunksAttempted.Add(int64(len(chunks)))

	j.setStage(StageEmbedding)
	points, err := j.embedChunks(ctx, source, chunks)
	if err != nil {
		result.Err = err
		return result
	}

	j.setStage(StageStoring)
	if err := j.storePoints(ctx, points); err != nil {
		result.Err = err
		return result
	}

	j.chunksStored.Add(int64(len(points)))
	result.Points = points
	return result
}

func (j *Job) ingest(ctx context.Context, source models.ContentSource) (*models.RawContent, error) {
	j.setStage(StageIngesting)

	// Transcript cache: a video fetched by an earlier job is not re-fetched.
	if source.Kind == models.KindVideo && j.deps.Transcripts != nil {
		if record, err := j.deps.Transcripts.GetTranscriptByVideoID(ctx, source.ID); err == nil && record != nil {
			j.logger.Debug().Str("video_id", source.ID).Msg("Transcript cache hit")
			return &models.RawContent{
				SourceID:  source.ID,
				Text:      record.Text,
				Language:  record.Language,
				WordCount: record.WordCount,
			}, nil
		}
	}

	ingester, ok := j.ingesters[source.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoIngesterRegistered, source.Kind)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, j.opts.SourceTimeout)
	defer cancel()

	content, err := ingester.Ingest(fetchCtx, source)
	if err != nil {
		return nil, err
	}

	if source.Kind == models.KindVideo && j.deps.Transcripts != nil {
		record := &models.TranscriptRecord{
			JobID:     j.id,
			VideoID:   source.ID,
			Text:      content.Text,
			Language:  content.Language,
			WordCount: content.WordCount,
		}
		if err := j.deps.Transcripts.StoreTranscript(ctx, record); err != nil {
			j.logger.Error().Err(err).Str("video_id", source.ID).Msg("Failed to store transcript")
		}
	}

	return content, nil
}

// embedChunks fans chunk batches out on a worker pool. Point ids derive from
// (sourceID, chunkIndex), so re-submitting a chunk overwrites rather than
// duplicates.
func (j *Job) embedChunks(ctx context.Context, source models.ContentSource, chunks []*models.Chunk) ([]models.VectorPoint, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	pool, err := ants.NewPool(j.opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	batchSize := j.deps.Embedder.GetMaxBatchSize()
	modelName := j.deps.Embedder.GetModelName()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		points   = make([]models.VectorPoint, 0, len(chunks))
		batchErr error
	)

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			inputs := make([]string, len(batch))
			for i, chunk := range batch {
				if chunk.Body != nil {
					inputs[i] = *chunk.Body
				}
			}

			var vectors [][]float32
			err := backoff.Retry(ctx, j.opts.Backoff, func(ctx context.Context) error {
				var embedErr error
				vectors, embedErr = j.deps.Embedder.EmbedBatch(ctx, inputs)
				return embedErr
			})
			if err != nil {
				mu.Lock()
				if batchErr == nil {
					batchErr = fmt.Errorf("embedding failed for source %s: %w", source.ID, err)
				}
				mu.Unlock()
				return
			}

			batchPoints := make([]models.VectorPoint, 0, len(batch))
			for i, chunk := range batch {
				batchPoints = append(batchPoints, models.VectorPoint{
					ID:         pointID(source.ID, chunk.Index),
					SourceID:   source.ID,
					ChunkIndex: chunk.Index,
					Body:       inputs[i],
					Vector:     vectors[i],
					Model:      modelName,
					Metadata: map[string]string{
						"title": source.DisplayTitle,
						"kind":  string(source.Kind),
					},
				})
			}

			mu.Lock()
			points = append(points, batchPoints...)
			mu.Unlock()
			j.embeddingsCreated.Add(int64(len(batch)))
			j.notify()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if batchErr == nil {
				batchErr = submitErr
			}
			mu.Unlock()
		}
	}

	wg.Wait()

	if batchErr != nil {
		return nil, batchErr
	}
	return points, nil
}

// storePoints commits the whole source in one retried batch upsert. A
// failure after retries fails every chunk of the source; when that tips the
// job-wide stored count below half of attempted, the error escalates to a
// job-level failure.
func (j *Job) storePoints(ctx context.Context, points []models.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	err := backoff.Retry(ctx, j.opts.Backoff, func(ctx context.Context) error {
		return j.deps.VectorStore.UpsertBatch(ctx, points)
	})
	if err == nil {
		return nil
	}

	// An interrupted write is not a storage failure; run reports cancellation.
	if ctx.Err() != nil {
		return err
	}

	j.logger.Error().Err(err).Int("points", len(points)).Msg("Vector store write failed after retries")

	stored := j.chunksStored.Load()
	attempted := j.chunksAttempted.Load()
	if stored*2 < attempted {
		return fmt.Errorf("%w: %w", ErrStorageMajorityFailed, err)
	}
	return err
}

func pointID(sourceID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sourceID+":"+strconv.Itoa(chunkIndex))).String()
}

func (j *Job) setStage(stage Stage) {
	j.mu.Lock()
	if j.stage == stage || j.stage == StageCompleted || j.stage == StageFailed {
		j.mu.Unlock()
		return
	}
	j.stage = stage
	j.mu.Unlock()
	j.notify()
}

func (j *Job) complete(ctx context.Context) {
	j.setStage(StageCompleted)
	j.logger.Info().
		Str("job_id", j.id).
		Int64("content_processed", j.contentProcessed.Load()).
		Int64("embeddings_created", j.embeddingsCreated.Load()).
		Msg("Job completed")

	if j.deps.Jobs != nil {
		if err := j.deps.Jobs.UpdateJobStatus(ctx, j.id, models.JobStatusCompleted, nil); err != nil {
			j.logger.Error().Err(err).Str("job_id", j.id).Msg("Failed to persist completed status")
		}
	}
	j.closeSubscribers()
}

func (j *Job) fail(cause error) {
	errText := cause.Error()
	j.mu.Lock()
	if j.stage == StageCompleted || j.stage == StageFailed {
		j.mu.Unlock()
		return
	}
	j.stage = StageFailed
	j.errText = errText
	j.mu.Unlock()
	j.notify()

	j.logger.Error().Str("job_id", j.id).Str("error", errText).Msg("Job failed")

	if j.deps.Jobs != nil {
		// Persistence must outlive the job's (possibly cancelled) context.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.deps.Jobs.UpdateJobStatus(ctx, j.id, models.JobStatusFailed, &errText); err != nil {
			j.logger.Error().Err(err).Str("job_id", j.id).Msg("Failed to persist failed status")
		}
	}
	j.closeSubscribers()
}

func (j *Job) notify() {
	snapshot := j.Progress()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (j *Job) closeSubscribers() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.subscribers {
		close(ch)
	}
	j.subscribers = nil
	j.subscribersClosed = true
}
