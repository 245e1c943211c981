// Package extract turns files on disk into plain UTF-8 text.
//
// Dispatch is by extension. Every parser failure is soft: the caller
// gets ok=false and a log line, never an error that would abort the
// ingestion of other documents.
package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Kind classifies a file by how its text is extracted.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindDOCX
	KindPlainText
	KindDelimited
	KindMarkup
)

// MinUsefulLen is the minimum extracted length considered worth
// indexing. Shorter results are treated as no content.
const MinUsefulLen = 50

// DefaultMaxSize caps how large a file the extractor will read.
const DefaultMaxSize = 10 << 20

// kinds maps lowercase extensions (without dot) to their parser family.
var kinds = map[string]Kind{
	"pdf":  KindPDF,
	"docx": KindDOCX,
	"txt":  KindPlainText,
	"md":   KindPlainText,
	"rst":  KindPlainText,
	"json": KindPlainText,
	"csv":  KindDelimited,
	"tsv":  KindDelimited,
	"html": KindMarkup,
	"htm":  KindMarkup,
	"xml":  KindMarkup,
}

// KindFor classifies a path by its extension, case-insensitively.
func KindFor(path string) Kind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return kinds[ext]
}

// Supported reports whether the path's extension has a parser.
func Supported(path string) bool {
	return KindFor(path) != KindUnknown
}

// Extractor reads files and produces indexable text.
type Extractor struct {
	maxSize int64
	logger  *zap.Logger
}

// New returns an Extractor with the given size cap. A maxSize of zero
// uses DefaultMaxSize.
func New(maxSize int64, logger *zap.Logger) *Extractor {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{maxSize: maxSize, logger: logger.Named("extract")}
}

// Extract returns the text content of the file at path. ok is false
// when the file is unsupported, oversized, unparseable, or yields less
// than MinUsefulLen characters.
func (e *Extractor) Extract(path string) (text string, ok bool) {
	kind := KindFor(path)
	if kind == KindUnknown {
		return "", false
	}

	info, err := os.Stat(path)
	if err != nil {
		e.logger.Warn("stat failed, skipping", zap.String("path", path), zap.Error(err))
		return "", false
	}
	if info.Size() > e.maxSize {
		e.logger.Warn("file exceeds size cap, skipping",
			zap.String("path", path),
			zap.Int64("size", info.Size()),
			zap.Int64("max", e.maxSize))
		return "", false
	}

	switch kind {
	case KindPDF:
		text, err = extractPDF(path)
	case KindDOCX:
		text, err = extractDOCX(path)
	case KindDelimited:
		text, err = e.extractDelimited(path)
	case KindMarkup:
		text, err = extractMarkup(path)
	default:
		text, err = readPermissive(path)
	}
	if err != nil {
		e.logger.Warn("extraction failed, skipping", zap.String("path", path), zap.Error(err))
		return "", false
	}

	text = strings.TrimSpace(text)
	if len(text) < MinUsefulLen {
		return "", false
	}
	return text, true
}

// readPermissive reads a file as UTF-8, replacing invalid byte
// sequences rather than failing.
func readPermissive(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
}

// extractPDF concatenates page text in page order, one newline between
// pages.
func extractPDF(path string) (_ string, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(content)
	}
	return b.String(), nil
}

// extractDelimited parses CSV or TSV, emitting one line per record with
// fields joined by ", ". Row boundaries survive as newlines.
func (e *Extractor) extractDelimited(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	r := csv.NewReader(bytes.NewReader(data))
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		r.Comma = '\t'
	}
	r.FieldsPerRecord = -1

	var b strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(record, ", "))
	}
	return b.String(), nil
}

// extractMarkup converts HTML to markdown so headings and emphasis
// survive as chunker-friendly text. XML falls back to a permissive read
// since it has no rendering.
func extractMarkup(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return readPermissive(path)
	}
	raw, err := readPermissive(path)
	if err != nil {
		return "", err
	}
	return htmltomarkdown.ConvertString(raw)
}
