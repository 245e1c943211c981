// Package scanner walks a directory tree and summarizes what lives
// there: bytes per file category, bytes per directory, and the document
// paths worth ingesting.
package scanner

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/wherespace/internal/extract"
)

// progressEvery is how many files pass between progress log lines.
const progressEvery = 1000

// defaultSkipDirs are directory names never descended into.
var defaultSkipDirs = map[string]struct{}{
	"AppData":                   {},
	"node_modules":              {},
	".git":                      {},
	".cache":                    {},
	"__pycache__":               {},
	"Library":                   {},
	"$RECYCLE.BIN":              {},
	"System Volume Information": {},
}

// categories maps lowercase extensions (without dot) to a reporting
// bucket. Anything unlisted counts as "other".
var categories = map[string]string{
	"pdf": "documents", "docx": "documents", "doc": "documents",
	"txt": "documents", "md": "documents", "rst": "documents",
	"csv": "data", "tsv": "data", "json": "data", "xml": "data",
	"html": "web", "htm": "web",
	"jpg": "images", "jpeg": "images", "png": "images", "gif": "images",
	"svg": "images", "webp": "images",
	"mp3": "media", "mp4": "media", "mov": "media", "wav": "media",
	"zip": "archives", "tar": "archives", "gz": "archives", "7z": "archives",
	"go": "code", "py": "code", "js": "code", "ts": "code", "rs": "code",
	"c": "code", "h": "code", "java": "code",
}

// DirSummary is the aggregate size of one directory's direct children.
type DirSummary struct {
	Path       string `json:"path"`
	TotalBytes int64  `json:"total_bytes"`
	FileCount  int    `json:"file_count"`
}

// Report is the result of one scan.
type Report struct {
	Root            string           `json:"root"`
	FilesSeen       int              `json:"files_seen"`
	BytesByCategory map[string]int64 `json:"bytes_by_category"`
	Directories     []DirSummary     `json:"directories"`
	// Documents are ingestion candidates grouped by parent directory,
	// following the order of Directories.
	Documents []string `json:"documents"`
}

// Scanner walks directory trees.
type Scanner struct {
	skipDirs map[string]struct{}
	logger   *zap.Logger
}

// New returns a Scanner. extraSkip names are skipped in addition to the
// defaults.
func New(extraSkip []string, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]struct{}, len(defaultSkipDirs)+len(extraSkip))
	for name := range defaultSkipDirs {
		skip[name] = struct{}{}
	}
	for _, name := range extraSkip {
		skip[name] = struct{}{}
	}
	return &Scanner{skipDirs: skip, logger: logger.Named("scanner")}
}

// Scan walks root and returns the aggregate report. Permission errors
// are logged and skipped; they never fail the scan.
func (s *Scanner) Scan(root string) (*Report, error) {
	report := &Report{
		Root:            root,
		BytesByCategory: make(map[string]int64),
	}
	dirBytes := make(map[string]int64)
	dirFiles := make(map[string]int)
	docsByDir := make(map[string][]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("skipping unreadable entry", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if _, skip := s.skipDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Debug("stat failed", zap.String("path", path), zap.Error(err))
			return nil
		}

		report.FilesSeen++
		if report.FilesSeen%progressEvery == 0 {
			s.logger.Info("scan progress", zap.Int("files", report.FilesSeen))
		}

		report.BytesByCategory[categoryOf(path)] += info.Size()
		parent := filepath.Dir(path)
		dirBytes[parent] += info.Size()
		dirFiles[parent]++

		if extract.Supported(path) {
			docsByDir[parent] = append(docsByDir[parent], path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Directories by descending total size; name ascending on ties so
	// the ordering is stable across runs.
	for dir, bytes := range dirBytes {
		report.Directories = append(report.Directories, DirSummary{
			Path:       dir,
			TotalBytes: bytes,
			FileCount:  dirFiles[dir],
		})
	}
	sort.Slice(report.Directories, func(i, j int) bool {
		a, b := report.Directories[i], report.Directories[j]
		if a.TotalBytes != b.TotalBytes {
			return a.TotalBytes > b.TotalBytes
		}
		return a.Path < b.Path
	})

	for _, dir := range report.Directories {
		docs := docsByDir[dir.Path]
		sort.Strings(docs)
		report.Documents = append(report.Documents, docs...)
	}
	return report, nil
}

// categoryOf buckets a path by extension.
func categoryOf(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if cat, ok := categories[ext]; ok {
		return cat
	}
	return "other"
}
