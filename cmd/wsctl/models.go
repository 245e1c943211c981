package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// statusCmd reports daemon state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the daemon's current model, persistence state, and index counts.

Examples:
  wsctl status
  wsctl status --server http://localhost:8080`,
	RunE: runStatus,
}

// modelsCmd lists installed models
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List installed chat models grouped by family",
	RunE:  runModels,
}

// setModelCmd selects the chat model
var setModelCmd = &cobra.Command{
	Use:   "set-model <name>",
	Short: "Select and persist the chat model",
	Long: `Select the chat model used for query generation. The choice is
verified on disk before the command reports success.

Examples:
  wsctl set-model llama3.1
  wsctl set-model qwen2.5:7b`,
	Args: cobra.ExactArgs(1),
	RunE: runSetModel,
}

type statusResponse struct {
	CurrentModel   string `json:"current_model"`
	PersistedModel string `json:"persisted_model"`
	PersistenceOK  bool   `json:"persistence_ok"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
}

type modelEntry struct {
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	SizeBytes int64  `json:"size_bytes"`
}

type modelsResponse struct {
	Models       map[string][]modelEntry `json:"models"`
	CurrentModel string                  `json:"current_model"`
}

type setModelResponse struct {
	Success  bool   `json:"success"`
	Model    string `json:"model"`
	Verified bool   `json:"verified"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status statusResponse
	if err := getJSON("/api/status", &status); err != nil {
		return err
	}

	fmt.Printf("Model:      %s\n", status.CurrentModel)
	fmt.Printf("Persisted:  %s (ok=%t)\n", status.PersistedModel, status.PersistenceOK)
	fmt.Printf("Documents:  %d\n", status.DocumentCount)
	fmt.Printf("Chunks:     %d\n", status.ChunkCount)
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	var models modelsResponse
	if err := getJSON("/api/models", &models); err != nil {
		return err
	}

	families := make([]string, 0, len(models.Models))
	for fam := range models.Models {
		families = append(families, fam)
	}
	sort.Strings(families)

	for _, fam := range families {
		fmt.Printf("%s:\n", fam)
		for _, m := range models.Models[fam] {
			marker := " "
			if m.Name == models.CurrentModel {
				marker = "*"
			}
			fmt.Printf("  %s %-30s %6.1f GB\n", marker, m.Name, float64(m.SizeBytes)/1e9)
		}
	}
	return nil
}

func runSetModel(cmd *cobra.Command, args []string) error {
	var resp setModelResponse
	if err := postJSON("/api/set_model", map[string]string{"model": args[0]}, &resp); err != nil {
		return err
	}
	if !resp.Verified {
		fmt.Printf("Model set to %s, but persistence could not be verified\n", resp.Model)
		return nil
	}
	fmt.Printf("Model set to %s (persisted)\n", resp.Model)
	return nil
}
