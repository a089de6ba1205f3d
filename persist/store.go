// Package persist provides crash-consistent durable storage for the ledger
// snapshot and the risk state.
//
// A commit writes to a staging file, fsyncs it, rotates the current
// canonical file into a backup set, then atomically renames the staging
// file over the canonical path and fsyncs the directory. The canonical file
// is therefore always either the prior fully-valid snapshot or the new one,
// never a torn write. After the rename the store re-reads and re-parses the
// canonical file; a failure there surfaces as a CommitVerificationError and
// is never swallowed, because callers depend on a successful return meaning
// durability actually happened.
package persist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// ParseFunc validates serialized state and extracts its cycle counter.
// State files without a cycle counter (the risk state) return 0.
type ParseFunc func(data []byte) (cycles int64, err error)

// CommitVerificationError reports a post-commit self-check failure: the
// canonical file did not read back as a valid snapshot.
type CommitVerificationError struct {
	Path string
	Err  error
}

func (e *CommitVerificationError) Error() string {
	return fmt.Sprintf("commit verification failed for %s: %v", e.Path, e.Err)
}

func (e *CommitVerificationError) Unwrap() error { return e.Err }

// ErrNoSnapshot means no readable snapshot exists and the path carries no
// fresh-deployment marker. This is data loss, not a fresh start, and the
// caller must not initialize an empty ledger over it.
var ErrNoSnapshot = errors.New("no readable snapshot and no fresh-deployment marker")

// ErrLocked means another process holds the advisory lock for the path.
var ErrLocked = errors.New("state file locked by another process")

// LoadResult describes where Load found usable state.
type LoadResult struct {
	Data       []byte
	Fresh      bool   // fresh deployment: no state, marker present
	FromBackup bool   // canonical was unreadable, a backup was used
	Source     string // path actually read
	CyclesLost int64  // potential cycles lost when a backup was used
}

// Store manages one canonical state file, its staging path, its rotating
// backups, and the advisory lock serializing access across processes.
type Store struct {
	path    string
	backups int
	parse   ParseFunc
	lock    *flock.Flock
	log     zerolog.Logger
}

// NewStore creates a store for the canonical path, retaining the given
// number of rotating backups (0 disables backups).
func NewStore(path string, backups int, parse ParseFunc, log zerolog.Logger) *Store {
	return &Store{
		path:    path,
		backups: backups,
		parse:   parse,
		lock:    flock.New(path + ".lock"),
		log:     log,
	}
}

// Path returns the canonical file path.
func (s *Store) Path() string { return s.path }

func (s *Store) stagingPath() string { return s.path + ".tmp" }
func (s *Store) freshPath() string   { return s.path + ".fresh" }

func (s *Store) backupPath(gen int) string {
	return fmt.Sprintf("%s.bak.%d", s.path, gen)
}

// Acquire takes the process-lifetime advisory lock tied to the canonical
// path. It does not block: a second instance on the same path fails fast
// with ErrLocked instead of clobbering the first one's commits.
func (s *Store) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", s.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, s.lock.Path())
	}
	return nil
}

// Release drops the advisory lock on clean shutdown.
func (s *Store) Release() error {
	return s.lock.Unlock()
}

// MarkFresh writes the explicit never-initialized marker. Only a fresh
// deployment step does this; its presence is the one condition under which
// Load hands back an empty state.
func (s *Store) MarkFresh() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(s.freshPath(), []byte("fresh\n"), 0644); err != nil {
		return fmt.Errorf("write fresh marker: %w", err)
	}
	return nil
}

// Commit durably replaces the canonical file with data.
func (s *Store) Commit(data []byte) error {
	staging := s.stagingPath()

	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}

	// Rotate the current canonical file into the backup set. A rotation
	// failure costs a backup generation, not the commit.
	if err := s.rotateBackups(); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("backup rotation failed")
	}

	if err := os.Rename(staging, s.path); err != nil {
		return fmt.Errorf("rename staging over canonical: %w", err)
	}
	if err := syncDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("fsync state dir: %w", err)
	}

	// Self check: the canonical file must read back as valid state.
	readBack, err := os.ReadFile(s.path)
	if err != nil {
		return &CommitVerificationError{Path: s.path, Err: err}
	}
	if _, err := s.parse(readBack); err != nil {
		return &CommitVerificationError{Path: s.path, Err: err}
	}

	// First durable commit retires the fresh-deployment marker.
	if err := os.Remove(s.freshPath()); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Msg("remove fresh marker failed")
	}
	return nil
}

// Load returns the newest parseable state. The canonical file is tried
// first, then backups newest to oldest; a backup hit is reported with the
// number of cycles potentially lost. With nothing readable, the explicit
// fresh marker is the only path to an empty state.
func (s *Store) Load() (LoadResult, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		if _, perr := s.parse(data); perr == nil {
			return LoadResult{Data: data, Source: s.path}, nil
		} else {
			s.log.Error().Err(perr).Str("path", s.path).
				Msg("canonical state unreadable, trying backups")
		}
	} else if !os.IsNotExist(err) {
		return LoadResult{}, fmt.Errorf("read canonical state: %w", err)
	}

	// Scan all parseable backups to bound the loss estimate: the torn
	// canonical file would have carried at least maxSeen+1 cycles.
	var (
		best     []byte
		bestSrc  string
		bestCyc  int64 = -1
		maxSeen  int64 = -1
		anyExist bool
	)
	for gen := 1; gen <= s.backups; gen++ {
		bdata, berr := os.ReadFile(s.backupPath(gen))
		if berr != nil {
			continue
		}
		anyExist = true
		cyc, perr := s.parse(bdata)
		if perr != nil {
			s.log.Warn().Err(perr).Str("path", s.backupPath(gen)).
				Msg("backup unreadable")
			continue
		}
		if cyc > maxSeen {
			maxSeen = cyc
		}
		if best == nil {
			best, bestSrc, bestCyc = bdata, s.backupPath(gen), cyc
		}
	}

	if best != nil {
		lost := maxSeen - bestCyc + 1
		s.log.Warn().
			Str("source", bestSrc).
			Int64("cycles_potentially_lost", lost).
			Msg("data loss: recovered from backup")
		return LoadResult{
			Data:       best,
			FromBackup: true,
			Source:     bestSrc,
			CyclesLost: lost,
		}, nil
	}

	if _, err := os.Stat(s.freshPath()); err == nil && !anyExist {
		return LoadResult{Fresh: true}, nil
	}
	return LoadResult{}, fmt.Errorf("%w: %s", ErrNoSnapshot, s.path)
}

// rotateBackups shifts bak.N-1 -> bak.N ... and copies the canonical file
// to bak.1. Missing generations are skipped.
func (s *Store) rotateBackups() error {
	if s.backups <= 0 {
		return nil
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}
	for gen := s.backups - 1; gen >= 1; gen-- {
		src := s.backupPath(gen)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, s.backupPath(gen+1)); err != nil {
			return fmt.Errorf("rotate %s: %w", src, err)
		}
	}
	return copyFile(s.path, s.backupPath(1))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
