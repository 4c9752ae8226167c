package runner

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// SummaryStore persists completed session summaries. The engine treats
// save failures as a notice, never as a reason to fail the session.
type SummaryStore interface {
	SaveSummary(summary SessionSummary) error
}

// HistoryStore keeps session summaries in a JSON file under the data
// directory, newest last.
type HistoryStore struct {
	logger  *log.Logger
	dataDir string
	mu      sync.Mutex
}

var _ SummaryStore = (*HistoryStore)(nil)

// NewHistoryStore creates a store rooted at dataDir.
func NewHistoryStore(dataDir string, logger *log.Logger) *HistoryStore {
	if dataDir == "" {
		panic("HistoryStore: dataDir cannot be empty")
	}
	if logger == nil {
		panic("HistoryStore: logger cannot be nil")
	}
	return &HistoryStore{logger: logger, dataDir: dataDir}
}

func (h *HistoryStore) sessionsFile() string {
	return filepath.Join(h.dataDir, "sessions.json")
}

// SaveSummary appends one summary to the history file.
func (h *HistoryStore) SaveSummary(summary SessionSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	summaries, err := h.loadLocked()
	if err != nil {
		// A corrupt history file should not swallow new sessions; start a
		// fresh list and keep the old file contents in the log.
		h.logger.Printf("HistoryStore: existing history unreadable, starting fresh: %v", err)
		summaries = nil
	}
	summaries = append(summaries, summary)

	if err := os.MkdirAll(h.dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	raw, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session history: %w", err)
	}
	if err := os.WriteFile(h.sessionsFile(), raw, 0644); err != nil {
		return fmt.Errorf("write session history: %w", err)
	}

	h.logger.Printf("HistoryStore: saved session %s (%d total)", summary.ID, len(summaries))
	return nil
}

// AllSummaries returns every stored summary, oldest first. A missing file
// is an empty history.
func (h *HistoryStore) AllSummaries() ([]SessionSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadLocked()
}

// loadLocked reads the history file. Must be called with mu held.
func (h *HistoryStore) loadLocked() ([]SessionSummary, error) {
	raw, err := os.ReadFile(h.sessionsFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session history: %w", err)
	}

	var summaries []SessionSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil, fmt.Errorf("parse session history: %w", err)
	}
	return summaries, nil
}
