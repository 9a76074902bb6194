package vectorstores

import (
	"errors"
	"strconv"
)

var (
	// ErrStorage is the root of the vector store error family; exhausted
	// retries on it escalate to a job-level failure.
	ErrStorage = errors.New("vector store write failed")

	ErrEmptyBatch       = errors.New("batch is empty")
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// vectorLiteral renders a float32 vector in the bracketed text form both
// libsql and pgvector accept.
func vectorLiteral(vector []float32) string {
	buf := make([]byte, 0, len(vector)*8+2)
	buf = append(buf, '[')
	for i, v := range vector {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	return string(append(buf, ']'))
}
