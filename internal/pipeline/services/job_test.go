package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/backoff"
	"github.com/ragworks/ragline/internal/pipeline/config"
	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/internal/pipeline/testutil"
)

func testConfig() config.Pipeline {
	builder := config.NewBuilder().
		WithEmbeddingModel(config.EmbeddingModel{ID: "fake-embedding-model", Dimensions: 4, MaxTokens: 8191}).
		WithVectorDatabase(config.VectorDatabase{ID: "fake-store", HostingModel: "self", MaxConcurrentWrites: 4}).
		WithChunking(config.Chunking{ChunkSize: 512, Overlap: 50, MaxTokens: 8191})
	cfg, err := builder.Freeze()
	if err != nil {
		panic(err)
	}
	return cfg
}

func urlSources(n int) []models.ContentSource {
	sources := make([]models.ContentSource, 0, n)
	for i := 0; i < n; i++ {
		id := "src-" + string(rune('a'+i))
		sources = append(sources, models.ContentSource{
			ID:           id,
			Kind:         models.KindURL,
			DisplayTitle: "Source " + id,
			Locator:      "https://example.com/" + id,
		})
	}
	return sources
}

func fastBackoff() backoff.Policy {
	return backoff.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func waitForJob(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish in time")
	}
}

func TestNewJob_EmptySelection(t *testing.T) {
	_, err := NewJob("user-1", testConfig(), nil, JobDeps{}, JobOptions{})
	if !errors.Is(err, config.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if !errors.Is(err, config.ErrConfiguration) {
		t.Errorf("expected ConfigurationError family, got %v", err)
	}
}

func TestJob_CompletesAllSources(t *testing.T) {
	sources := urlSources(3)
	vectorStore := &testutil.FakeVectorStore{}
	jobStore := testutil.NewFakeJobStore()

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: vectorStore,
		Jobs:        jobStore,
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ingester := &testutil.FakeIngester{
		Kind: models.KindURL,
		Texts: map[string]string{
			"src-a": "alpha beta gamma delta",
			"src-b": "one two three four five six",
			"src-c": "lonely",
		},
	}
	if err := job.RegisterIngester(ingester); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForJob(t, job)

	progress := job.Progress()
	if progress.Stage != StageCompleted {
		t.Fatalf("stage = %s, want completed (error: %s)", progress.Stage, progress.Error)
	}
	if progress.ContentProcessed != 3 {
		t.Errorf("contentProcessed = %d, want 3", progress.ContentProcessed)
	}
	// 2 + 3 + 1 chunks across the three sources.
	if progress.EmbeddingsCreated != 6 {
		t.Errorf("embeddingsCreated = %d, want 6", progress.EmbeddingsCreated)
	}
	if got := len(vectorStore.Points()); got != 6 {
		t.Errorf("stored points = %d, want 6", got)
	}

	record, err := jobStore.GetJob(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.JobStatusCompleted {
		t.Errorf("persisted status = %s, want completed", record.Status)
	}
}

func TestJob_PartialFailure_SourceTimeout(t *testing.T) {
	sources := urlSources(5)
	vectorStore := &testutil.FakeVectorStore{}
	jobStore := testutil.NewFakeJobStore()

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: vectorStore,
		Jobs:        jobStore,
	}, JobOptions{
		SourceTimeout: 50 * time.Millisecond,
		Backoff:       fastBackoff(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Source 3 stalls past the per-source timeout; the other four succeed.
	ingester := &testutil.FakeIngester{
		Kind: models.KindURL,
		Texts: map[string]string{
			"src-a": "a b", "src-b": "c d", "src-c": "e f", "src-d": "g h", "src-e": "i j",
		},
		Delay: map[string]time.Duration{"src-c": time.Second},
	}
	if err := job.RegisterIngester(ingester); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForJob(t, job)

	progress := job.Progress()
	if progress.Stage != StageCompleted {
		t.Fatalf("stage = %s, want completed (error: %s)", progress.Stage, progress.Error)
	}
	if progress.ContentProcessed != 5 {
		t.Errorf("contentProcessed = %d, want 5", progress.ContentProcessed)
	}

	results := job.Results()
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	var failed int
	for _, result := range results {
		if result.Err != nil {
			failed++
			if result.Source.ID != "src-c" {
				t.Errorf("unexpected failed source %s: %v", result.Source.ID, result.Err)
			}
			if !errors.Is(result.Err, context.DeadlineExceeded) {
				t.Errorf("expected deadline error for src-c, got %v", result.Err)
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed sources = %d, want 1", failed)
	}
	if got := len(vectorStore.PointsForSource("src-c")); got != 0 {
		t.Errorf("points for timed-out source = %d, want 0", got)
	}
}

func TestJob_Cancellation_NoWritesForInFlightSource(t *testing.T) {
	sources := urlSources(3)
	vectorStore := &testutil.FakeVectorStore{}
	jobStore := testutil.NewFakeJobStore()

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 1},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: vectorStore,
		Jobs:        jobStore,
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The second source stalls long enough for Cancel to land mid-flight.
	ingester := &testutil.FakeIngester{
		Kind: models.KindURL,
		Texts: map[string]string{
			"src-a": "alpha beta",
			"src-b": "gamma delta",
			"src-c": "epsilon zeta",
		},
		Delay: map[string]time.Duration{"src-b": 5 * time.Second},
	}
	if err := job.RegisterIngester(ingester); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updates := job.Subscribe()
	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cancel once the first source has been processed.
	for progress := range updates {
		if progress.ContentProcessed >= 1 {
			job.Cancel()
			break
		}
	}
	waitForJob(t, job)

	progress := job.Progress()
	if progress.Stage != StageFailed {
		t.Fatalf("stage = %s, want failed", progress.Stage)
	}
	if progress.Error != "cancelled" {
		t.Errorf("error = %q, want \"cancelled\"", progress.Error)
	}

	// First source committed in full; the in-flight and pending sources
	// left nothing behind.
	if got := len(vectorStore.PointsForSource("src-a")); got != 2 {
		t.Errorf("points for src-a = %d, want 2", got)
	}
	for _, id := range []string{"src-b", "src-c"} {
		if got := len(vectorStore.PointsForSource(id)); got != 0 {
			t.Errorf("points for %s = %d, want 0", id, got)
		}
	}

	record, err := jobStore.GetJob(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.JobStatusFailed {
		t.Errorf("persisted status = %s, want failed", record.Status)
	}
	if record.Error == nil || *record.Error != "cancelled" {
		t.Errorf("persisted error = %v, want cancelled", record.Error)
	}
}

// stallingStore blocks every upsert until its context is cancelled.
type stallingStore struct {
	started chan struct{}
	once    sync.Once
}

func (s *stallingStore) UpsertBatch(ctx context.Context, _ []models.VectorPoint) error {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallingStore) Name() string { return "stalling-store" }

func (s *stallingStore) SupportsNativeExport() bool { return false }

func TestJob_Cancellation_DuringStore_ReportsCancelled(t *testing.T) {
	sources := urlSources(1)
	vectorStore := &stallingStore{started: make(chan struct{})}
	jobStore := testutil.NewFakeJobStore()

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 1},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: vectorStore,
		Jobs:        jobStore,
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := job.RegisterIngester(&testutil.FakeIngester{Kind: models.KindURL, Texts: map[string]string{"src-a": "a b c"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cancel while the vector store write is in flight.
	select {
	case <-vectorStore.started:
	case <-time.After(10 * time.Second):
		t.Fatal("store was never reached")
	}
	job.Cancel()
	waitForJob(t, job)

	progress := job.Progress()
	if progress.Stage != StageFailed {
		t.Fatalf("stage = %s, want failed", progress.Stage)
	}
	if progress.Error != "cancelled" {
		t.Errorf("error = %q, want \"cancelled\"", progress.Error)
	}

	results := job.Results()
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if errors.Is(results[0].Err, ErrStorageMajorityFailed) {
		t.Errorf("interrupted write escalated to a storage failure: %v", results[0].Err)
	}

	record, err := jobStore.GetJob(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.JobStatusFailed {
		t.Errorf("persisted status = %s, want failed", record.Status)
	}
	if record.Error == nil || *record.Error != "cancelled" {
		t.Errorf("persisted error = %v, want cancelled", record.Error)
	}
}

func TestJob_SubscribeAfterTerminal_ReturnsClosedChannel(t *testing.T) {
	sources := urlSources(1)
	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: &testutil.FakeVectorStore{},
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := job.RegisterIngester(&testutil.FakeIngester{Kind: models.KindURL, Texts: map[string]string{"src-a": "a b"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForJob(t, job)

	// A late subscription must not block a ranging consumer.
	select {
	case _, ok := <-job.Subscribe():
		if ok {
			t.Error("expected closed channel, got a value")
		}
	case <-time.After(time.Second):
		t.Fatal("receive on post-terminal subscription blocked")
	}
}

func TestJob_MonotonicCounters(t *testing.T) {
	sources := urlSources(4)
	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: &testutil.FakeVectorStore{},
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ingester := &testutil.FakeIngester{Kind: models.KindURL, Texts: map[string]string{}}
	if err := job.RegisterIngester(ingester); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updates := job.Subscribe()
	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var lastProcessed, lastEmbedded int64
	for progress := range updates {
		if progress.ContentProcessed < lastProcessed {
			t.Errorf("contentProcessed decreased: %d -> %d", lastProcessed, progress.ContentProcessed)
		}
		if progress.EmbeddingsCreated < lastEmbedded {
			t.Errorf("embeddingsCreated decreased: %d -> %d", lastEmbedded, progress.EmbeddingsCreated)
		}
		if progress.TotalContent != 4 {
			t.Errorf("totalContent = %d, want 4", progress.TotalContent)
		}
		if pct := progress.StagePercent(); pct < 0 || pct > 1 {
			t.Errorf("stagePercent = %f, want [0, 1]", pct)
		}
		lastProcessed = progress.ContentProcessed
		lastEmbedded = progress.EmbeddingsCreated
	}
	waitForJob(t, job)

	if stage := job.Progress().Stage; stage != StageCompleted {
		t.Fatalf("stage = %s, want completed", stage)
	}
}

func TestJob_EmbeddingRetryThenSuccess(t *testing.T) {
	sources := urlSources(1)
	embedder := &testutil.FakeEmbedder{Dimension: 4, FailFirst: 2}
	vectorStore := &testutil.FakeVectorStore{}

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
		Embedder:    embedder,
		VectorStore: vectorStore,
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := job.RegisterIngester(&testutil.FakeIngester{Kind: models.KindURL, Texts: map[string]string{"src-a": "a b c d"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForJob(t, job)

	if stage := job.Progress().Stage; stage != StageCompleted {
		t.Fatalf("stage = %s, want completed", stage)
	}
	if embedder.Calls() != 3 {
		t.Errorf("embedder calls = %d, want 3 (2 failures + 1 success)", embedder.Calls())
	}
	if got := len(vectorStore.Points()); got != 2 {
		t.Errorf("stored points = %d, want 2", got)
	}
}

func TestJob_StorageMajorityFailure(t *testing.T) {
	sources := urlSources(1)
	vectorStore := &testutil.FakeVectorStore{FailBatches: 100}
	jobStore := testutil.NewFakeJobStore()

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 1},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: vectorStore,
		Jobs:        jobStore,
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := job.RegisterIngester(&testutil.FakeIngester{Kind: models.KindURL, Texts: map[string]string{"src-a": "a b c"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForJob(t, job)

	progress := job.Progress()
	if progress.Stage != StageFailed {
		t.Fatalf("stage = %s, want failed", progress.Stage)
	}

	record, err := jobStore.GetJob(context.Background(), job.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != models.JobStatusFailed {
		t.Errorf("persisted status = %s, want failed", record.Status)
	}
}

func TestJob_VideoTranscriptCaching(t *testing.T) {
	source := models.ContentSource{
		ID:           "video-1",
		Kind:         models.KindVideo,
		DisplayTitle: "A Video",
		Locator:      "https://youtube.com/watch?v=video-1",
	}
	transcripts := testutil.NewFakeTranscriptStore()

	run := func() {
		job, err := NewJob("user-1", testConfig(), []models.ContentSource{source}, JobDeps{
			Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
			Embedder:    &testutil.FakeEmbedder{Dimension: 4},
			VectorStore: &testutil.FakeVectorStore{},
			Transcripts: transcripts,
		}, JobOptions{Backoff: fastBackoff()})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ingester := &testutil.FakeIngester{
			Kind:  models.KindVideo,
			Texts: map[string]string{"video-1": "spoken words from the video"},
		}
		if err := job.RegisterIngester(ingester); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := job.Start(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		waitForJob(t, job)
		if stage := job.Progress().Stage; stage != StageCompleted {
			t.Fatalf("stage = %s, want completed", stage)
		}
	}

	run()
	if transcripts.StoreCount() != 1 {
		t.Fatalf("stored transcripts = %d, want 1", transcripts.StoreCount())
	}

	// Second job hits the cache and does not re-store.
	run()
	if transcripts.StoreCount() != 1 {
		t.Errorf("stored transcripts after cached run = %d, want 1", transcripts.StoreCount())
	}
}

func TestJob_WorkflowRegistration_Idempotent(t *testing.T) {
	workflows := testutil.NewFakeWorkflowStore()
	ctx := context.Background()

	id, err := workflows.CreateWorkflow(ctx, `{"model":"fake"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := workflows.AddSourceToWorkflow(ctx, id, "src-a"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := workflows.AddSourceToWorkflow(ctx, id, "src-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := workflows.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.SourceIDs) != 2 {
		t.Errorf("source ids = %v, want exactly [src-a src-b]", record.SourceIDs)
	}
}

func TestJob_DeterministicPointIDs(t *testing.T) {
	first := pointID("src-a", 3)
	second := pointID("src-a", 3)
	other := pointID("src-a", 4)

	if first != second {
		t.Errorf("same (source, index) produced different ids: %s vs %s", first, second)
	}
	if first == other {
		t.Errorf("different indexes produced the same id: %s", first)
	}
}
