package chunkers

import (
	"errors"
	"os"
	"strings"
	"unicode"

	"github.com/ragworks/ragline/internal/pipeline/models"
	"github.com/ragworks/ragline/pkg/util"
	"github.com/rs/zerolog"

	"github.com/google/uuid"
	"github.com/tiktoken-go/tokenizer"
)

var (
	ErrContentEmpty     = errors.New("content cannot be empty")
	ErrInvalidMaxTokens = errors.New("maxTokens must be positive")
	ErrInvalidOverlap   = errors.New("overlapTokens must be between 0 and maxTokens")
)

// TokenChunker implements token-based chunking using tiktoken. When
// sentence-bounded mode is on (late-chunking capable models), chunk
// boundaries never split inside a sentence.
type TokenChunker struct {
	encoding        tokenizer.Codec
	sentenceBounded bool
	logger          zerolog.Logger
}

// NewTokenChunker creates a new token-based chunker.
func NewTokenChunker() (*TokenChunker, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)

	tokenizerName := getTokenizerFromEnv()
	encoding, err := getTokenizerEncoding(tokenizerName)
	if err != nil {
		logger.Error().Err(err).Str("tokenizer", tokenizerName).Msg("failed to get tokenizer")
		return nil, err
	}

	return &TokenChunker{
		encoding: encoding,
		logger:   logger,
	}, nil
}

// NewSentenceBoundedChunker creates a chunker that respects sentence
// boundaries, for embedding models that support late chunking.
func NewSentenceBoundedChunker() (*TokenChunker, error) {
	chunker, err := NewTokenChunker()
	if err != nil {
		return nil, err
	}
	chunker.sentenceBounded = true
	return chunker, nil
}

// GetChunkingStrategy returns the strategy name used by this chunker.
func (t *TokenChunker) GetChunkingStrategy() string {
	if t.sentenceBounded {
		return "sentence-bounded"
	}
	return "token"
}

// ChunkContent splits text into chunks of at most maxTokens tokens with
// overlapTokens of shared context between neighbours. Chunk indexes are
// assigned in order; callers stamp the source id.
func (t *TokenChunker) ChunkContent(content string, maxTokens, overlapTokens int) ([]*models.Chunk, error) {
	if content == "" {
		t.logger.Warn().Msg("content is empty")
		return nil, ErrContentEmpty
	}
	if maxTokens <= 0 {
		t.logger.Warn().Msg("maxTokens must be positive")
		return nil, ErrInvalidMaxTokens
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		t.logger.Warn().Msg("overlapTokens must be between 0 and maxTokens")
		return nil, ErrInvalidOverlap
	}

	if t.sentenceBounded {
		return t.chunkBySentences(content, maxTokens, overlapTokens)
	}
	return t.chunkByTokens(content, maxTokens, overlapTokens)
}

func (t *TokenChunker) chunkByTokens(content string, maxTokens, overlapTokens int) ([]*models.Chunk, error) {
	tokens, _, err := t.encoding.Encode(content)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize content")
		return nil, err
	}

	totalTokens := len(tokens)

	// If content fits in one chunk, return it as-is
	if totalTokens <= maxTokens {
		return []*models.Chunk{t.newChunk(content, 0, totalTokens)}, nil
	}

	var chunks []*models.Chunk
	stepSize := maxTokens - overlapTokens

	for i := 0; i < totalTokens; i += stepSize {
		end := i + maxTokens
		if end > totalTokens {
			end = totalTokens
		}

		chunkTokens := tokens[i:end]
		chunkText, err := t.encoding.Decode(chunkTokens)
		if err != nil {
			t.logger.Err(err).Msg("failed to decode chunk tokens")
			return nil, err
		}

		chunks = appendLinked(chunks, t.newChunk(chunkText, len(chunks), len(chunkTokens)))

		if end >= totalTokens {
			break
		}
	}

	return chunks, nil
}

// chunkBySentences packs whole sentences into chunks, so no boundary ever
// splits inside a sentence. Overlap carries trailing sentences of up to
// overlapTokens tokens into the next chunk.
func (t *TokenChunker) chunkBySentences(content string, maxTokens, overlapTokens int) ([]*models.Chunk, error) {
	sentences := splitSentences(content)

	counts := make([]int, len(sentences))
	for i, sentence := range sentences {
		tokens, _, err := t.encoding.Encode(sentence)
		if err != nil {
			t.logger.Err(err).Msg("failed to tokenize sentence")
			return nil, err
		}
		counts[i] = len(tokens)
	}

	var chunks []*models.Chunk
	var current []string
	var currentCounts []int
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.Join(current, " ")
		chunks = appendLinked(chunks, t.newChunk(body, len(chunks), currentTokens))
	}

	for i, sentence := range sentences {
		// A single oversized sentence still becomes its own chunk; it is
		// never split.
		if currentTokens+counts[i] > maxTokens && len(current) > 0 {
			flush()

			// Seed the next chunk with trailing overlap sentences.
			var carry []string
			var carryCounts []int
			carryTokens := 0
			for j := len(current) - 1; j >= 0; j-- {
				if carryTokens+currentCounts[j] > overlapTokens {
					break
				}
				carry = append([]string{current[j]}, carry...)
				carryCounts = append([]int{currentCounts[j]}, carryCounts...)
				carryTokens += currentCounts[j]
			}
			current = carry
			currentCounts = carryCounts
			currentTokens = carryTokens
		}

		current = append(current, sentence)
		currentCounts = append(currentCounts, counts[i])
		currentTokens += counts[i]
	}
	flush()

	return chunks, nil
}

func (t *TokenChunker) newChunk(body string, index, tokenCount int) *models.Chunk {
	return &models.Chunk{
		ID:         uuid.New().String(),
		Index:      index,
		Body:       &body,
		ByteSize:   intPtr(len([]byte(body))),
		Tokenizer:  stringPtr(getTokenizerFromEnv()),
		TokenCount: intPtr(tokenCount),
	}
}

// appendLinked appends a chunk maintaining left/right neighbour links.
func appendLinked(chunks []*models.Chunk, chunk *models.Chunk) []*models.Chunk {
	if len(chunks) > 0 {
		previous := chunks[len(chunks)-1]
		previous.RightChunkID = &chunk.ID
		chunk.LeftChunkID = &previous.ID
	}
	return append(chunks, chunk)
}

// CountTokens returns the number of tokens in the given text.
func (t *TokenChunker) CountTokens(text string) (int, error) {
	tokens, _, err := t.encoding.Encode(text)
	if err != nil {
		t.logger.Err(err).Msg("failed to tokenize text")
		return 0, err
	}
	return len(tokens), nil
}

// splitSentences breaks text on sentence-final punctuation followed by
// whitespace. Newlines are also treated as boundaries.
func splitSentences(content string) []string {
	var sentences []string
	var builder strings.Builder

	runes := []rune(content)
	for i, r := range runes {
		builder.WriteRune(r)
		boundary := false
		switch r {
		case '.', '!', '?':
			boundary = i == len(runes)-1 || unicode.IsSpace(runes[i+1])
		case '\n':
			boundary = true
		}
		if boundary {
			if s := strings.TrimSpace(builder.String()); s != "" {
				sentences = append(sentences, s)
			}
			builder.Reset()
		}
	}
	if s := strings.TrimSpace(builder.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// Helper functions.
func intPtr(i int) *int {
	return &i
}

func stringPtr(s string) *string {
	return &s
}

// getTokenizerFromEnv returns the tokenizer name from environment or default.
func getTokenizerFromEnv() string {
	tokenizerName := os.Getenv("CHUNKER_TOKENIZER")
	if tokenizerName == "" {
		return "cl100k_base"
	}
	return tokenizerName
}

// getTokenizerEncoding returns the tokenizer encoding for the given name.
func getTokenizerEncoding(name string) (tokenizer.Codec, error) {
	switch strings.ToLower(name) {
	case "cl100k_base":
		return tokenizer.Get(tokenizer.Cl100kBase)
	case "p50k_base":
		return tokenizer.Get(tokenizer.P50kBase)
	case "r50k_base":
		return tokenizer.Get(tokenizer.R50kBase)
	default:
		// Default to cl100k_base for unknown tokenizers
		return tokenizer.Get(tokenizer.Cl100kBase)
	}
}
