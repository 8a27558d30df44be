package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"swapexec/pkg/execution"
)

const (
	DefaultFileName = ".swapexec-history.json"

	// MaxEntries bounds the file; the oldest entries are dropped first.
	MaxEntries = 500
)

// Outcome is how a recorded run ended.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeReverted  Outcome = "reverted"
	OutcomeFailed    Outcome = "failed"
)

// Entry is one executed (or attempted) run.
type Entry struct {
	ID          string         `json:"id"`
	Time        time.Time      `json:"time"`
	Kind        string         `json:"kind"`
	Summary     string         `json:"summary"`
	Outcome     Outcome        `json:"outcome"`
	ErrorKind   execution.Kind `json:"error_kind,omitempty"`
	Error       string         `json:"error,omitempty"`
	TxHash      string         `json:"tx_hash,omitempty"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	GasUsed     uint64         `json:"gas_used,omitempty"`
}

type fileFormat struct {
	Entries []Entry `json:"entries"`
}

// Journal is an append-only history of runs kept in a JSON file.
type Journal struct {
	filePath string
	mu       sync.RWMutex
	entries  []Entry
}

// Open loads the journal at filePath, or $HOME/.swapexec-history.json when
// filePath is empty. A missing file is an empty journal.
func Open(filePath string) (*Journal, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}

	j := &Journal{filePath: filePath}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return j, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	var stored fileFormat
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	j.entries = stored.Entries
	return j, nil
}

// Record appends e, filling in the ID and time when unset, and persists the
// journal.
func (j *Journal) Record(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, e)
	if over := len(j.entries) - MaxEntries; over > 0 {
		j.entries = append([]Entry(nil), j.entries[over:]...)
	}
	return e, j.save()
}

// save writes the journal. Callers hold the lock.
func (j *Journal) save() error {
	data, err := json.MarshalIndent(fileFormat{Entries: j.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(j.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := j.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tempFile, j.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(j.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.entries[i])
	}
	return out
}

// Get finds an entry by ID or unique ID prefix.
func (j *Journal) Get(id string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var found *Entry
	for i := range j.entries {
		if !strings.HasPrefix(j.entries[i].ID, id) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("history entry '%s' is ambiguous", id)
		}
		e := j.entries[i]
		found = &e
	}
	if found == nil {
		return nil, fmt.Errorf("history entry '%s' not found", id)
	}
	return found, nil
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.filePath
}

// NewEntry describes the result of a run. A failed run that still produced
// a receipt (a revert) keeps the receipt's hash and block.
func NewEntry(kind, summary string, receipt *execution.Receipt, err error) Entry {
	e := Entry{Kind: kind, Summary: summary, Outcome: OutcomeConfirmed}
	if err != nil {
		e.Outcome = OutcomeFailed
		e.ErrorKind = execution.KindOf(err)
		e.Error = err.Error()

		var execErr *execution.Error
		if errors.As(err, &execErr) && execErr.Receipt != nil {
			receipt = execErr.Receipt
		}
		if e.ErrorKind == execution.KindTransactionReverted {
			e.Outcome = OutcomeReverted
		}
	}
	if receipt != nil {
		e.TxHash = receipt.TxHash.Hex()
		e.BlockNumber = receipt.BlockNumber
		e.GasUsed = receipt.GasUsed
	}
	return e
}
