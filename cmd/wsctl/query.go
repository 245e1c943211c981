package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	queryDirect    bool
	searchTopK     int
	searchFileType string
)

// queryCmd runs a streamed query
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question against the indexed documents",
	Long: `Stream a generated answer for a question. By default the answer is
grounded in retrieved document chunks with cited sources; --direct
bypasses retrieval and asks the model directly.

Examples:
  wsctl query "what did the Q3 report say about revenue"
  wsctl query --direct "what is connection pooling"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// searchCmd returns matching chunks without generation
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "List the chunks matching a query, without generation",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

// cacheCmd inspects or clears the query cache
var cacheCmd = &cobra.Command{
	Use:   "cache [clear]",
	Short: "Show query cache statistics, or clear the cache",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCache,
}

func init() {
	queryCmd.Flags().BoolVar(&queryDirect, "direct", false, "bypass retrieval and query the model directly")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "number of chunks to return")
	searchCmd.Flags().StringVar(&searchFileType, "file-type", "", "restrict to one file type (extension without dot)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	endpoint := "/api/query_stream"
	if queryDirect {
		endpoint = "/api/query_direct_stream"
	}

	reqJSON, err := json.Marshal(map[string]string{"query": question})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	// No client timeout: generation streams for as long as it streams.
	resp, err := http.Post(serverURL+endpoint, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	// Tokens stream until a blank line; after it comes the JSON source
	// record.
	reader := bufio.NewReader(resp.Body)
	var trailer bytes.Buffer
	inTrailer := false
	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			if !inTrailer && strings.HasPrefix(chunk, "{\"sources\"") {
				inTrailer = true
			}
			if inTrailer {
				trailer.WriteString(chunk)
			} else {
				fmt.Print(chunk)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
	}
	fmt.Println()

	if trailer.Len() > 0 {
		var rec struct {
			Sources []struct {
				FileName   string  `json:"file_name"`
				Similarity float64 `json:"similarity"`
			} `json:"sources"`
		}
		if err := json.Unmarshal(trailer.Bytes(), &rec); err == nil && len(rec.Sources) > 0 {
			fmt.Fprintln(os.Stderr, "\nSources:")
			for i, s := range rec.Sources {
				fmt.Fprintf(os.Stderr, "  [%d] %s (%.2f)\n", i+1, s.FileName, s.Similarity)
			}
		}
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	req := map[string]any{"query": strings.Join(args, " ")}
	if searchTopK > 0 {
		req["top_k"] = searchTopK
	}
	if searchFileType != "" {
		req["file_type"] = searchFileType
	}

	var resp struct {
		Hits []struct {
			FileName   string  `json:"file_name"`
			ChunkIndex int     `json:"chunk_index"`
			Similarity float64 `json:"similarity"`
			Preview    string  `json:"preview"`
		} `json:"hits"`
		Count int `json:"count"`
	}
	if err := postJSON("/api/search", req, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No matching chunks.")
		return nil
	}
	for i, h := range resp.Hits {
		fmt.Printf("[%d] %s #%d (%.2f)\n    %s\n", i+1, h.FileName, h.ChunkIndex, h.Similarity, h.Preview)
	}
	return nil
}

func runCache(cmd *cobra.Command, args []string) error {
	if len(args) == 1 && args[0] == "clear" {
		if err := postJSON("/api/clear_cache", map[string]string{}, nil); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	}

	var stats struct {
		Size    int     `json:"size"`
		Hits    int64   `json:"hits"`
		Misses  int64   `json:"misses"`
		HitRate float64 `json:"hit_rate"`
	}
	if err := getJSON("/api/cache_stats", &stats); err != nil {
		return err
	}
	fmt.Printf("Entries:  %d\n", stats.Size)
	fmt.Printf("Hits:     %d\n", stats.Hits)
	fmt.Printf("Misses:   %d\n", stats.Misses)
	fmt.Printf("Hit rate: %.1f%%\n", stats.HitRate*100)
	return nil
}
