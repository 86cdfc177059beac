package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPersistence is matched by every I/O failure reported by a Store.
var ErrPersistence = errors.New("persistence io")

// IOError wraps a failed store operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }
func (e *IOError) Is(target error) bool {
	return target == ErrPersistence
}

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
// For "file", Path is a directory; for "sqlite", a database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	HistoryMax  int           // history entries kept; 0 means 1000
}

// State is the persisted seed and shuffle state.
type State struct {
	Seed        int64 `yaml:"seed" json:"seed"`
	UserSetSeed bool  `yaml:"user-set-seed" json:"user_set_seed"`
	Shuffled    bool  `yaml:"is-shuffled" json:"is_shuffled"`
	// LastShuffle is unix milliseconds; 0 means never.
	LastShuffle int64 `yaml:"last-shuffle-time" json:"last_shuffle_time"`
}

// LastShuffleTime returns LastShuffle as a time, zero if never.
func (s State) LastShuffleTime() time.Time {
	if s.LastShuffle == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.LastShuffle)
}

// Record is one shuffle or restore outcome.
type Record struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Action   string    `json:"action"`
	Mode     string    `json:"mode,omitempty"`
	Seed     int64     `json:"seed"`
	Recipes  int       `json:"recipes"`
	Skipped  int       `json:"skipped,omitempty"`
	Announce bool      `json:"announce,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

// Store is the persistence API used by the catalog and the history recorder.
type Store interface {
	// LoadState returns ok=false when no state has been saved yet.
	LoadState(ctx context.Context) (st State, ok bool, err error)
	SaveState(ctx context.Context, st State) error
	AppendHistory(ctx context.Context, r Record) error
	// History returns up to limit records, newest first.
	History(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

const defaultHistoryMax = 1000
