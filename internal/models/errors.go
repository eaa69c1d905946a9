package models

import "errors"

// Pipeline error taxonomy. Provider failures are typed separately by the
// provider package; everything else wraps one of these sentinels.
var (
	// ErrExtraction: the source text could not be obtained.
	ErrExtraction = errors.New("extraction failed")
	// ErrTokenization: the text could not be tokenized under the configured profile.
	ErrTokenization = errors.New("tokenization failed")
	// ErrPersistence: the result artifact could not be written.
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidBudget: a token budget must be positive.
	ErrInvalidBudget = errors.New("token budget must be positive")
	// ErrNoChunkSucceeded: every chunk of a document exhausted its retries.
	ErrNoChunkSucceeded = errors.New("no chunk produced a response")
	// ErrEmptyDocument: extraction returned no usable text.
	ErrEmptyDocument = errors.New("document is empty")
)
