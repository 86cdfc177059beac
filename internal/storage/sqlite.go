//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "reshuffle/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	max int

	appends    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required when storage.driver=sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ioErr("mkdir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ioErr("open", err)
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, max: cfg.HistoryMax, pruneEvery: 100}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, ioErr("migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return ioErr("close", s.db.Close())
}

func (s *sqliteStore) LoadState(ctx context.Context) (State, bool, error) {
	var (
		st                State
		userSet, shuffled int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seed, user_set_seed, is_shuffled, last_shuffle_ms FROM state WHERE id = 1`,
	).Scan(&st.Seed, &userSet, &shuffled, &st.LastShuffle)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, ioErr("load state", err)
	}
	st.UserSetSeed = userSet != 0
	st.Shuffled = shuffled != 0
	return st, true, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(id, seed, user_set_seed, is_shuffled, last_shuffle_ms) VALUES(1,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET seed=excluded.seed, user_set_seed=excluded.user_set_seed,
		   is_shuffled=excluded.is_shuffled, last_shuffle_ms=excluded.last_shuffle_ms`,
		st.Seed, boolInt(st.UserSetSeed), boolInt(st.Shuffled), st.LastShuffle,
	)
	return ioErr("save state", err)
}

func (s *sqliteStore) AppendHistory(ctx context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, at, action, mode, seed, recipes, skipped, announce, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.At.UTC().Format(time.RFC3339Nano), r.Action, nullStr(r.Mode), r.Seed,
		r.Recipes, r.Skipped, boolInt(r.Announce), nullStr(r.Error), r.TookMS,
	)
	if err != nil {
		return ioErr("append history", err)
	}
	if s.appends.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("history prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) History(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = s.max
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, action, mode, seed, recipes, skipped, announce, err, took_ms
		 FROM history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ioErr("query history", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			at       string
			mode, e  sql.NullString
			announce int
		)
		if err := rows.Scan(&r.ID, &at, &r.Action, &mode, &r.Seed, &r.Recipes, &r.Skipped, &announce, &e, &r.TookMS); err != nil {
			return nil, ioErr("scan history", err)
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Mode = mode.String
		r.Error = e.String
		r.Announce = announce != 0
		out = append(out, r)
	}
	return out, ioErr("iterate history", rows.Err())
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE seq <= (SELECT MAX(seq) FROM history) - ?`, s.max)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
