package store

import "time"

// DocumentMeta carries the file-level metadata denormalized onto every
// chunk row of a document.
type DocumentMeta struct {
	FilePath     string
	FileName     string
	FileType     string
	FileSize     int64
	ModifiedTime float64
}

// ChunkRow is one chunk to be persisted for a document.
type ChunkRow struct {
	Index     int
	Content   string
	Embedding []float32
}

// Hit is a single retrieval result row.
type Hit struct {
	FilePath       string  `json:"file_path"`
	ChunkIndex     int     `json:"chunk_index"`
	FileName       string  `json:"file_name"`
	FileType       string  `json:"file_type"`
	ContentPreview string  `json:"preview"`
	Content        string  `json:"content"`
	FileSize       int64   `json:"file_size"`
	Similarity     float64 `json:"similarity"`
}

// DocSummary is one row of the document list: per-path metadata plus the
// number of chunks stored for it.
type DocSummary struct {
	FilePath     string  `json:"file_path"`
	FileName     string  `json:"file_name"`
	FileType     string  `json:"file_type"`
	FileSize     int64   `json:"file_size"`
	ModifiedTime float64 `json:"modified_time"`
	ChunkCount   int     `json:"chunk_count"`
}

// SearchParams bundles the knobs of a similarity search.
type SearchParams struct {
	TopK          int
	MinSimilarity float64
	FileType      string
}

// previewLen is the number of leading characters stored in content_preview.
const previewLen = 200

// preview truncates content for list UIs, respecting rune boundaries.
func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen])
}

// UnixSeconds converts a time to the fractional unix seconds stored in
// modified_time. Ingestion uses it for the skip-existing comparison, so
// producer and store agree on the representation.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
