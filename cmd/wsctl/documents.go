package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var ingestMaxDocuments int

// documentsCmd lists indexed documents
var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List indexed documents",
	RunE:  runDocuments,
}

// flushCmd deletes the whole index
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Delete every indexed chunk",
	RunE:  runFlush,
}

// ingestCmd ingests a directory
var ingestCmd = &cobra.Command{
	Use:   "ingest <directory>",
	Short: "Ingest the documents under a directory",
	Long: `Extract, chunk, embed, and index the supported documents under a
directory. The daemon must be able to see the path.

Examples:
  wsctl ingest ~/Documents/notes
  wsctl ingest /srv/shared/reports --max-documents 200`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// scanCmd summarizes a directory without ingesting
var scanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Summarize a directory's contents without ingesting",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

// reindexCmd rebuilds the ANN index
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the ANN index sized to the current chunk count",
	RunE:  runReindex,
}

// deleteCmd removes one document from the index
var deleteCmd = &cobra.Command{
	Use:   "delete <file_path>",
	Short: "Delete one document's chunks from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestMaxDocuments, "max-documents", 0, "cap the number of documents this run")
}

type documentEntry struct {
	FilePath   string `json:"file_path"`
	FileName   string `json:"file_name"`
	FileType   string `json:"file_type"`
	FileSize   int64  `json:"file_size"`
	ChunkCount int    `json:"chunk_count"`
}

type documentsResponse struct {
	Documents []documentEntry `json:"documents"`
	Count     int             `json:"count"`
}

type ingestResponse struct {
	RunID    string  `json:"run_id"`
	Ingested int     `json:"ingested"`
	Skipped  int     `json:"skipped"`
	Failed   int     `json:"failed"`
	Chunks   int     `json:"chunks"`
	TookSec  float64 `json:"took_sec"`
	Failures []struct {
		Path   string `json:"path"`
		Reason string `json:"reason"`
	} `json:"failures"`
}

type scanResponse struct {
	FilesSeen       int              `json:"files_seen"`
	BytesByCategory map[string]int64 `json:"bytes_by_category"`
	Directories     []struct {
		Path       string `json:"path"`
		TotalBytes int64  `json:"total_bytes"`
		FileCount  int    `json:"file_count"`
	} `json:"directories"`
	Documents []string `json:"documents"`
}

func runDocuments(cmd *cobra.Command, args []string) error {
	var docs documentsResponse
	if err := getJSON("/api/list_documents", &docs); err != nil {
		return err
	}

	if docs.Count == 0 {
		fmt.Println("No documents indexed.")
		return nil
	}
	for _, d := range docs.Documents {
		fmt.Printf("%-40s %5s %8d bytes %4d chunks\n", d.FileName, d.FileType, d.FileSize, d.ChunkCount)
	}
	fmt.Printf("\n%d document(s)\n", docs.Count)
	return nil
}

func runFlush(cmd *cobra.Command, args []string) error {
	var resp struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	if err := postJSON("/api/flush_documents", map[string]string{}, &resp); err != nil {
		return err
	}
	fmt.Printf("Deleted %d chunk(s)\n", resp.DeletedCount)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	req := map[string]any{"path": path}
	if ingestMaxDocuments > 0 {
		req["max_documents"] = ingestMaxDocuments
	}

	var resp ingestResponse
	if err := postJSON("/api/ingest_directory", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Run %s: %d ingested, %d skipped, %d failed (%d chunks, %.1fs)\n",
		resp.RunID, resp.Ingested, resp.Skipped, resp.Failed, resp.Chunks, resp.TookSec)
	for _, f := range resp.Failures {
		fmt.Printf("  failed: %s (%s)\n", f.Path, f.Reason)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	var resp struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	if err := postJSON("/api/delete_document", map[string]string{"file_path": args[0]}, &resp); err != nil {
		return err
	}
	fmt.Printf("Deleted %d chunk(s) for %s\n", resp.DeletedCount, args[0])
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	if err := postJSON("/api/reindex", map[string]string{}, nil); err != nil {
		return err
	}
	fmt.Println("Index rebuilt.")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	var resp scanResponse
	if err := postJSON("/api/scan_directory", map[string]string{"path": path}, &resp); err != nil {
		return err
	}

	fmt.Printf("Scanned %d file(s), %d ingestible document(s)\n\n", resp.FilesSeen, len(resp.Documents))
	for cat, bytes := range resp.BytesByCategory {
		fmt.Printf("  %-10s %12d bytes\n", cat, bytes)
	}
	fmt.Println("\nLargest directories:")
	for i, d := range resp.Directories {
		if i == 10 {
			break
		}
		fmt.Printf("  %12d bytes  %s (%d files)\n", d.TotalBytes, d.Path, d.FileCount)
	}
	return nil
}
