// Package modelstate persists the currently selected chat model as a
// small JSON file. Writes are atomic and verified by reading back, so a
// "model set" reply to the UI means the choice survives a restart.
package modelstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// DefaultModel is used when no state file exists or it cannot be read.
const DefaultModel = "llama3.1"

type stateFile struct {
	CurrentModel string `json:"current_model"`
	UpdatedAt    string `json:"updated_at"`
}

// State is the in-memory view backed by the JSON file at path.
type State struct {
	mu       sync.Mutex
	path     string
	model    string
	fallback string
	logger   *zap.Logger
}

// Load reads the state file and returns a State. Any read or parse
// error falls back to defaultModel (or DefaultModel when empty); the
// daemon must come up even with a corrupt state file.
func Load(path, defaultModel string, logger *zap.Logger) *State {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("modelstate")

	s := &State{path: path, fallback: defaultModel, logger: logger}
	s.model = s.read()
	return s
}

// read returns the persisted model or the fallback.
func (s *State) read() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("reading model state failed, using default",
				zap.String("path", s.path), zap.Error(err))
		}
		return s.fallback
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil || f.CurrentModel == "" {
		s.logger.Warn("model state file corrupt, using default",
			zap.String("path", s.path), zap.Error(err))
		return s.fallback
	}
	return f.CurrentModel
}

// Get returns the current model.
func (s *State) Get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Set updates the in-memory model, writes the file atomically, and
// verifies persistence twice: once by re-reading the raw file, once by
// re-running the load path. The in-memory value stays set even when
// verification fails, so the error describes a durability problem, not
// a selection problem.
func (s *State) Set(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = model

	data, err := json.MarshalIndent(stateFile{
		CurrentModel: model,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model state: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write model state: %w", err)
	}

	// First verification: the bytes on disk parse to what we wrote.
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("verify model state: read back: %w", err)
	}
	var f stateFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("verify model state: parse read back: %w", err)
	}
	if f.CurrentModel != model {
		return fmt.Errorf("verify model state: read back %q, wrote %q", f.CurrentModel, model)
	}

	// Second verification: the normal load path agrees.
	if got := s.read(); got != model {
		return fmt.Errorf("verify model state: reload returned %q, wrote %q", got, model)
	}

	s.logger.Info("model selection persisted", zap.String("model", model))
	return nil
}

// Persisted reports what a fresh process would load, alongside whether
// it matches the in-memory selection. Used by the status endpoint.
func (s *State) Persisted() (model string, matches bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	persisted := s.read()
	return persisted, persisted == s.model
}
