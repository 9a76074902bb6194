package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/internal/pipeline/testutil"
)

// completedJob runs a small job to completion: two successful URL sources
// and one that fails to fetch.
func completedJob(t *testing.T, nativeExport bool) *Job {
	t.Helper()

	sources := []models.ContentSource{
		{ID: "src-a", Kind: models.KindURL, DisplayTitle: "First", Locator: "https://example.com/a"},
		{ID: "src-b", Kind: models.KindURL, DisplayTitle: "Second", Locator: "https://example.com/b"},
		{ID: "src-c", Kind: models.KindURL, DisplayTitle: "Broken", Locator: "https://example.com/c"},
	}

	job, err := NewJob("user-1", testConfig(), sources, JobDeps{
		Chunker:     &testutil.FakeChunker{WordsPerChunk: 2},
		Embedder:    &testutil.FakeEmbedder{Dimension: 4},
		VectorStore: &testutil.FakeVectorStore{NativeExport: nativeExport},
	}, JobOptions{Backoff: fastBackoff()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ingester := &testutil.FakeIngester{
		Kind: models.KindURL,
		Texts: map[string]string{
			"src-a": "alpha beta gamma delta",
			"src-b": "one two",
		},
		FailIDs: map[string]bool{"src-c": true},
	}
	if err := job.RegisterIngester(ingester); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := job.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish in time")
	}
	if stage := job.Progress().Stage; stage != StageCompleted {
		t.Fatalf("stage = %s, want completed", stage)
	}
	return job
}

func TestExport_RequiresCompletedJob(t *testing.T) {
	job, err := NewJob("user-1", testConfig(), urlSources(1), JobDeps{
		Chunker:     &testutil.FakeChunker{},
		Embedder:    &testutil.FakeEmbedder{},
		VectorStore: &testutil.FakeVectorStore{},
	}, JobOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	service := NewExportService(t.TempDir())
	_, err = service.Export(context.Background(), job, FormatJSON)
	if !errors.Is(err, ErrExport) {
		t.Fatalf("expected ErrExport, got %v", err)
	}
	if !errors.Is(err, ErrJobNotCompleted) {
		t.Errorf("expected ErrJobNotCompleted to be wrapped, got %v", err)
	}
}

func TestExport_JSON_RoundTrip(t *testing.T) {
	job := completedJob(t, false)
	service := NewExportService(t.TempDir())

	artifact, err := service.Export(context.Background(), job, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Status != ArtifactCompleted {
		t.Fatalf("status = %s, want completed", artifact.Status)
	}
	if artifact.SizeBytes <= 0 {
		t.Errorf("sizeBytes = %d, want > 0", artifact.SizeBytes)
	}

	data, err := os.ReadFile(artifact.DownloadRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var envelope exportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}

	// Two of three sources succeeded.
	if envelope.Summary.TotalDocuments != 2 {
		t.Errorf("summary.totalDocuments = %d, want 2", envelope.Summary.TotalDocuments)
	}
	if envelope.Summary.FailedSources != 1 {
		t.Errorf("summary.failedSources = %d, want 1", envelope.Summary.FailedSources)
	}
	if len(envelope.Documents) != envelope.Summary.TotalDocuments {
		t.Errorf("documents = %d, want %d", len(envelope.Documents), envelope.Summary.TotalDocuments)
	}
	// src-a has 4 words, 2 per chunk; src-b has 2 words.
	if envelope.Summary.TotalChunks != 3 {
		t.Errorf("summary.totalChunks = %d, want 3", envelope.Summary.TotalChunks)
	}
	for _, doc := range envelope.Documents {
		for _, chunk := range doc.Chunks {
			if len(chunk.Vector) != 4 {
				t.Errorf("chunk vector dimension = %d, want 4", len(chunk.Vector))
			}
		}
	}
}

func TestExport_CSV(t *testing.T) {
	job := completedJob(t, false)
	service := NewExportService(t.TempDir())

	artifact, err := service.Export(context.Background(), job, FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	file, err := os.Open(artifact.DownloadRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("artifact is not valid CSV: %v", err)
	}
	// Header + 3 chunk rows.
	if len(records) != 4 {
		t.Fatalf("csv rows = %d, want 4", len(records))
	}
	if records[0][0] != "source_id" {
		t.Errorf("header = %v, want source_id first", records[0])
	}
}

func TestExport_ExactlyOncePerJobAndFormat(t *testing.T) {
	job := completedJob(t, false)
	service := NewExportService(t.TempDir())

	first, err := service.Export(context.Background(), job, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.Export(context.Background(), job, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Error("expected cached artifact on repeated request")
	}

	// A different format is a separate artifact.
	other, err := service.Export(context.Background(), job, FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == first {
		t.Error("expected distinct artifacts per format")
	}
}

func TestExport_ConcurrentRequestsShareOneArtifact(t *testing.T) {
	job := completedJob(t, false)
	service := NewExportService(t.TempDir())

	const requests = 8
	artifacts := make([]*ExportArtifact, requests)
	errs := make([]error, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			artifacts[i], errs[i] = service.Export(context.Background(), job, FormatJSON)
		}(i)
	}
	wg.Wait()

	for i := 0; i < requests; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: unexpected error: %v", i, errs[i])
		}
		if artifacts[i] != artifacts[0] {
			t.Errorf("request %d produced a distinct artifact", i)
		}
	}
	if artifacts[0].Status != ArtifactCompleted {
		t.Errorf("status = %s, want completed", artifacts[0].Status)
	}
}

func TestExport_NativeFormatAvailability(t *testing.T) {
	service := NewExportService(t.TempDir())

	withoutNative := completedJob(t, false)
	if _, err := service.Export(context.Background(), withoutNative, FormatNative); !errors.Is(err, ErrFormatUnavailable) {
		t.Fatalf("expected ErrFormatUnavailable, got %v", err)
	}

	withNative := completedJob(t, true)
	artifact, err := service.Export(context.Background(), withNative, FormatNative)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Status != ArtifactCompleted {
		t.Errorf("status = %s, want completed", artifact.Status)
	}

	data, err := os.ReadFile(artifact.DownloadRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Each line is one point object.
	var lines int
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 3 {
		t.Errorf("native export lines = %d, want 3", lines)
	}
}

func TestExport_Parquet(t *testing.T) {
	job := completedJob(t, false)
	service := NewExportService(t.TempDir())

	artifact, err := service.Export(context.Background(), job, FormatParquet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Status != ArtifactCompleted {
		t.Fatalf("status = %s, want completed", artifact.Status)
	}
	if artifact.SizeBytes <= 0 {
		t.Errorf("sizeBytes = %d, want > 0", artifact.SizeBytes)
	}
}
