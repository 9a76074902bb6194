package embedders

import (
	"errors"
	"time"
)

const timeout = 60 * time.Second

var (
	// ErrEmbedding is the root of the embedding error family; provider
	// failures wrap it so the job can count them against the source.
	ErrEmbedding = errors.New("embedding failed")

	ErrAPIKeyNotSet     = errors.New("API key not set")
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrContentEmpty     = errors.New("content is empty")
	ErrAPIRequestFailed = errors.New("API request failed")
	ErrNoEmbeddingData  = errors.New("no embedding data in response")
	ErrBatchTooLarge    = errors.New("batch exceeds provider limit")
	ErrCountMismatch    = errors.New("provider returned wrong number of embeddings")
)
