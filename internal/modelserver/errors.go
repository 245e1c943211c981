package modelserver

import "errors"

var (
	// ErrUnreachable indicates the model server could not be contacted.
	ErrUnreachable = errors.New("model server unreachable")

	// ErrEmbedding indicates an embedding request failed after retries.
	ErrEmbedding = errors.New("embedding failed")

	// ErrGeneration indicates a chat generation stream failed or stalled.
	ErrGeneration = errors.New("generation failed")
)
