package models

import (
	"time"
)

// SourceKind identifies the closed set of ingestible content variants.
type SourceKind string

const (
	KindVideo    SourceKind = "video"
	KindURL      SourceKind = "url"
	KindDocument SourceKind = "document"
)

// Platform identifies where channel content is fetched from.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformTikTok  Platform = "tiktok"
	PlatformTwitch  Platform = "twitch"
)

// ContentSource is one unit of ingestible content. Instances are built by
// the catalog and immutable afterwards; ID is unique within one catalog
// snapshot.
type ContentSource struct {
	ID             string     `json:"id"`
	Kind           SourceKind `json:"kind"`
	Platform       Platform   `json:"platform,omitempty"`
	DisplayTitle   string     `json:"display_title"`
	ThumbnailRef   *string    `json:"thumbnail_ref,omitempty"`
	SizeOrDuration int64      `json:"size_or_duration"`
	Locator        string     `json:"locator"`
	Failed         bool       `json:"failed"`
	FailureReason  *string    `json:"failure_reason,omitempty"`
}

// RawContent is the extracted text for a source before chunking.
type RawContent struct {
	SourceID  string  `json:"source_id"`
	Text      string  `json:"text"`
	Language  *string `json:"language,omitempty"`
	WordCount int     `json:"word_count"`
}

// Chunk is a bounded segment of a source's text. The pair (SourceID, Index)
// is the chunk's stable identity used for idempotent embedding and storage.
type Chunk struct {
	ID           string  `json:"id"`
	SourceID     string  `json:"source_id"`
	Index        int     `json:"index"`
	Body         *string `json:"body"`
	ByteSize     *int    `json:"byte_size"`
	Tokenizer    *string `json:"tokenizer"`
	TokenCount   *int    `json:"token_count"`
	LeftChunkID  *string `json:"left_chunk_id"`
	RightChunkID *string `json:"right_chunk_id"`
}

// VectorPoint is one (chunk, vector, metadata) tuple ready for a vector
// store write.
type VectorPoint struct {
	ID         string            `json:"id"`
	SourceID   string            `json:"source_id"`
	ChunkIndex int               `json:"chunk_index"`
	Body       string            `json:"body"`
	Vector     []float32         `json:"vector"`
	Model      string            `json:"model"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// JobStatus is the persisted status of a processing job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobRecord is the persisted row for a processing job.
type JobRecord struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	SourceLocator string    `json:"source_locator"`
	Status        JobStatus `json:"status"`
	Error         *string   `json:"error"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TranscriptRecord is the persisted transcript of one video source.
type TranscriptRecord struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	VideoID   string    `json:"video_id"`
	Text      string    `json:"text"`
	Language  *string   `json:"language"`
	WordCount int       `json:"word_count"`
	Metadata  *string   `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowRecord groups the sources registered for one configured run.
type WorkflowRecord struct {
	ID        string    `json:"id"`
	Config    string    `json:"config"`
	SourceIDs []string  `json:"source_ids"`
	CreatedAt time.Time `json:"created_at"`
}
