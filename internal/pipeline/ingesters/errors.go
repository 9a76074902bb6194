package ingesters

import "errors"

var (
	// ErrSourceFetch is the root of the per-source fetch error family; it is
	// recorded against the source, never fatal to the job.
	ErrSourceFetch = errors.New("source fetch failed")

	ErrEmptyContent     = errors.New("source produced no text")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrUnsupportedFile  = errors.New("unsupported document type")
	ErrFileTooLarge     = errors.New("document exceeds size limit")
	ErrWrongSourceKind  = errors.New("source kind not handled by this ingester")
)
