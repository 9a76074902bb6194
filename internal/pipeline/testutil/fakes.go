package testutil

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
)

// ErrFakeFailure is the error fakes return when configured to fail.
var ErrFakeFailure = errors.New("fake failure")

// FakeIngester serves canned text per source id, optionally sleeping to
// trigger per-source timeouts or failing outright for chosen ids.
type FakeIngester struct {
	Kind    models.SourceKind
	Texts   map[string]string
	FailIDs map[string]bool
	Delay   map[string]time.Duration
}

func (f *FakeIngester) GetSourceKind() models.SourceKind {
	return f.Kind
}

func (f *FakeIngester) Ingest(ctx context.Context, source models.ContentSource) (*models.RawContent, error) {
	if delay, ok := f.Delay[source.ID]; ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if f.FailIDs[source.ID] {
		return nil, ErrFakeFailure
	}

	text, ok := f.Texts[source.ID]
	if !ok {
		text = "fallback text for " + source.ID
	}
	return &models.RawContent{
		SourceID:  source.ID,
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}, nil
}

// FakeChunker splits text on whitespace into fixed-size word groups; chunk
// parameters are recorded for assertions.
type FakeChunker struct {
	WordsPerChunk int

	mu            sync.Mutex
	LastMaxTokens int
	LastOverlap   int
}

func (f *FakeChunker) GetChunkingStrategy() string {
	return "fake"
}

func (f *FakeChunker) ChunkContent(content string, maxTokens, overlapTokens int) ([]*models.Chunk, error) {
	f.mu.Lock()
	f.LastMaxTokens = maxTokens
	f.LastOverlap = overlapTokens
	f.mu.Unlock()

	per := f.WordsPerChunk
	if per <= 0 {
		per = 3
	}

	words := strings.Fields(content)
	var chunks []*models.Chunk
	for start := 0; start < len(words); start += per {
		end := start + per
		if end > len(words) {
			end = len(words)
		}
		body := strings.Join(words[start:end], " ")
		count := end - start
		chunks = append(chunks, &models.Chunk{
			Index:      len(chunks),
			Body:       &body,
			TokenCount: &count,
		})
	}
	return chunks, nil
}

// FakeEmbedder returns constant-dimension zero vectors and counts calls.
// Set FailFirst to make the first N calls fail (exercises retry paths).
type FakeEmbedder struct {
	Dimension int
	BatchSize int
	FailFirst int

	mu    sync.Mutex
	calls int
}

func (f *FakeEmbedder) EmbedBatch(_ context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if call <= f.FailFirst {
		return nil, ErrFakeFailure
	}

	dim := f.Dimension
	if dim <= 0 {
		dim = 4
	}
	vectors := make([][]float32, len(inputs))
	for i := range inputs {
		vectors[i] = make([]float32, dim)
	}
	return vectors, nil
}

func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeEmbedder) GetModelName() string { return "fake-embedding-model" }
func (f *FakeEmbedder) GetDimension() int {
	if f.Dimension <= 0 {
		return 4
	}
	return f.Dimension
}
func (f *FakeEmbedder) GetMaxTokens() int { return 8191 }
func (f *FakeEmbedder) GetMaxBatchSize() int {
	if f.BatchSize <= 0 {
		return 16
	}
	return f.BatchSize
}

// FakeVectorStore records upserted points in memory. FailBatches makes the
// first N UpsertBatch calls fail.
type FakeVectorStore struct {
	NativeExport bool
	FailBatches  int

	mu      sync.Mutex
	points  []models.VectorPoint
	batches int
}

func (f *FakeVectorStore) Name() string {
	return "fake-store"
}

func (f *FakeVectorStore) SupportsNativeExport() bool {
	return f.NativeExport
}

func (f *FakeVectorStore) UpsertBatch(_ context.Context, points []models.VectorPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches++
	if f.batches <= f.FailBatches {
		return ErrFakeFailure
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *FakeVectorStore) Points() []models.VectorPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.VectorPoint, len(f.points))
	copy(out, f.points)
	return out
}

// PointsForSource filters recorded points by source id.
func (f *FakeVectorStore) PointsForSource(sourceID string) []models.VectorPoint {
	var out []models.VectorPoint
	for _, p := range f.Points() {
		if p.SourceID == sourceID {
			out = append(out, p)
		}
	}
	return out
}

// FakeJobStore is an in-memory JobStore.
type FakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.JobRecord
}

func NewFakeJobStore() *FakeJobStore {
	return &FakeJobStore{jobs: make(map[string]*models.JobRecord)}
}

func (f *FakeJobStore) CreateJob(_ context.Context, jobID, userID, sourceLocator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = &models.JobRecord{
		ID:            jobID,
		UserID:        userID,
		SourceLocator: sourceLocator,
		Status:        models.JobStatusProcessing,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	return nil
}

func (f *FakeJobStore) UpdateJobStatus(_ context.Context, jobID string, status models.JobStatus, jobErr *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.Error = jobErr
	job.UpdatedAt = time.Now()
	return nil
}

func (f *FakeJobStore) GetJob(_ context.Context, jobID string) (*models.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	copied := *job
	return &copied, nil
}

// FakeTranscriptStore is an in-memory TranscriptStore keyed by video id.
type FakeTranscriptStore struct {
	mu      sync.Mutex
	records map[string]*models.TranscriptRecord
	stores  int
	lookups int
}

func NewFakeTranscriptStore() *FakeTranscriptStore {
	return &FakeTranscriptStore{records: make(map[string]*models.TranscriptRecord)}
}

func (f *FakeTranscriptStore) StoreTranscript(_ context.Context, record *models.TranscriptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	copied := *record
	f.records[record.VideoID] = &copied
	return nil
}

func (f *FakeTranscriptStore) GetTranscriptByVideoID(_ context.Context, videoID string) (*models.TranscriptRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	record, ok := f.records[videoID]
	if !ok {
		return nil, errors.New("transcript not found")
	}
	copied := *record
	return &copied, nil
}

func (f *FakeTranscriptStore) StoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores
}

// FakeWorkflowStore is an in-memory WorkflowStore with idempotent source
// registration.
type FakeWorkflowStore struct {
	mu        sync.Mutex
	workflows map[string]*models.WorkflowRecord
	seen      map[string]bool
	nextID    int
}

func NewFakeWorkflowStore() *FakeWorkflowStore {
	return &FakeWorkflowStore{
		workflows: make(map[string]*models.WorkflowRecord),
		seen:      make(map[string]bool),
	}
}

func (f *FakeWorkflowStore) CreateWorkflow(_ context.Context, config string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "workflow-" + strconv.Itoa(f.nextID)
	f.workflows[id] = &models.WorkflowRecord{
		ID:        id,
		Config:    config,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (f *FakeWorkflowStore) AddSourceToWorkflow(_ context.Context, workflowID, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	workflow, ok := f.workflows[workflowID]
	if !ok {
		return errors.New("workflow not found")
	}
	key := workflowID + "/" + sourceID
	if f.seen[key] {
		return nil
	}
	f.seen[key] = true
	workflow.SourceIDs = append(workflow.SourceIDs, sourceID)
	return nil
}

func (f *FakeWorkflowStore) GetWorkflow(_ context.Context, workflowID string) (*models.WorkflowRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	workflow, ok := f.workflows[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	copied := *workflow
	copied.SourceIDs = append([]string(nil), workflow.SourceIDs...)
	return &copied, nil
}
