package modelserver

import "time"

// embedRequest is the body of POST /api/embeddings.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the reply to POST /api/embeddings.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// chatRequest is the body of POST /api/chat. Stream is always true; the
// server replies with newline-delimited JSON fragments.
type chatRequest struct {
	Model   string      `json:"model"`
	Prompt  string      `json:"prompt"`
	Stream  bool        `json:"stream"`
	Options chatOptions `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

// chatFragment is one NDJSON line of a streamed chat reply.
type chatFragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ModelInfo describes one installed model as reported by GET /api/tags.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// tagsResponse is the reply to GET /api/tags.
type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}
