package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.yaml.in/yaml/v3"

	logx "reshuffle/pkg/logx"
)

// fileStore keeps state in a small YAML document and history as JSON Lines.
//
// Files:
//   - <dir>/data.yml       (rewritten atomically via tmp + rename)
//   - <dir>/history.jsonl  (append-only, compacted to the newest half of HistoryMax)
type fileStore struct {
	log logx.Logger

	mu          sync.Mutex
	statePath   string
	historyPath string
	historyFile *os.File
	lines       int
	max         int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("mkdir", err)
	}
	s := &fileStore{
		log:         log,
		statePath:   filepath.Join(dir, "data.yml"),
		historyPath: filepath.Join(dir, "history.jsonl"),
		max:         cfg.HistoryMax,
	}
	recs, err := readHistory(s.historyPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ioErr("read history", err)
	}
	s.lines = len(recs)

	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, ioErr("open history", err)
	}
	s.historyFile = hf
	log.Debug("file store opened", logx.String("dir", dir), logx.Int("history", s.lines))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return nil
	}
	err := s.historyFile.Close()
	s.historyFile = nil
	return ioErr("close", err)
}

func (s *fileStore) LoadState(ctx context.Context) (State, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, ioErr("read state", err)
	}
	var raw struct {
		Seed        *int64 `yaml:"seed"`
		UserSetSeed bool   `yaml:"user-set-seed"`
		Shuffled    bool   `yaml:"is-shuffled"`
		LastShuffle int64  `yaml:"last-shuffle-time"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return State{}, false, ioErr("decode state", err)
	}
	// A data file without a seed counts as unsaved so the caller generates one.
	if raw.Seed == nil {
		return State{Shuffled: raw.Shuffled, LastShuffle: raw.LastShuffle}, false, nil
	}
	return State{Seed: *raw.Seed, UserSetSeed: raw.UserSetSeed, Shuffled: raw.Shuffled, LastShuffle: raw.LastShuffle}, true, nil
}

func (s *fileStore) SaveState(ctx context.Context, st State) error {
	_ = ctx
	b, err := yaml.Marshal(st)
	if err != nil {
		return ioErr("encode state", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ioErr("write state", writeAtomic(s.statePath, b, 0o600))
}

func (s *fileStore) AppendHistory(ctx context.Context, r Record) error {
	_ = ctx
	b, err := json.Marshal(r)
	if err != nil {
		return ioErr("encode history", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil {
		return ioErr("append history", os.ErrClosed)
	}
	if _, err := s.historyFile.Write(b); err != nil {
		return ioErr("append history", err)
	}
	s.lines++
	if s.lines > s.max {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) History(ctx context.Context, limit int) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := readHistory(s.historyPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ioErr("read history", err)
	}
	return newestFirst(recs, limit), nil
}

func (s *fileStore) compactLocked() error {
	recs, err := readHistory(s.historyPath)
	if err != nil {
		return err
	}
	keep := s.max / 2
	if keep < 1 {
		keep = 1
	}
	if len(recs) > keep {
		recs = recs[len(recs)-keep:]
	}
	var buf []byte
	for _, r := range recs {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		buf = append(append(buf, b...), '\n')
	}
	if err := s.historyFile.Close(); err != nil {
		return err
	}
	s.historyFile = nil
	if err := writeAtomic(s.historyPath, buf, 0o600); err != nil {
		return err
	}
	hf, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.historyFile = hf
	s.lines = len(recs)
	return nil
}

func readHistory(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

func writeAtomic(path string, b []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
