// Package history serves per-fight artifacts written under a logs root, one
// directory per unix timestamp.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"combat-meter/internal/config"
	"combat-meter/internal/constants"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidUID       = errors.New("invalid uid")
	ErrInvalidPath      = errors.New("invalid path")
	ErrNotFound         = errors.New("history artifact not found")
)

var digits = regexp.MustCompile(`^\d+$`)

func IsDigits(s string) bool {
	return digits.MatchString(s)
}

type Store struct {
	fs     afero.Fs
	root   string
	logger zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (*Store, error) {
	return NewStore(afero.NewOsFs(), cfg.LogsDir, logger)
}

func NewStore(fsys afero.Fs, root string, logger zerolog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve logs dir: %w", err)
	}
	return &Store{fs: fsys, root: filepath.Clean(abs), logger: logger}, nil
}

func (s *Store) Root() string {
	return s.root
}

// safeJoin resolves segments under the root and refuses anything that ends up
// outside it.
func (s *Store) safeJoin(segments ...string) (string, error) {
	abs := filepath.Join(append([]string{s.root}, segments...)...)
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		s.logger.Error().Strs("segments", segments).Str("resolved", abs).Msg("path escapes history root")
		return "", ErrInvalidPath
	}
	return abs, nil
}

func (s *Store) resolve(timestamp string, rest ...string) (string, error) {
	if !IsDigits(timestamp) {
		return "", ErrInvalidTimestamp
	}
	return s.safeJoin(append([]string{timestamp}, rest...)...)
}

// List returns the timestamp directories under the root, newest first.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read history root: %w", err)
	}

	out := []string{}
	for _, e := range entries {
		if e.IsDir() && IsDigits(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] > out[j]
	})
	if len(out) > constants.HistoryListLimit {
		out = out[:constants.HistoryListLimit]
	}
	return out, nil
}

// Summary returns the decoded summary file of one fight.
func (s *Store) Summary(timestamp string) (json.RawMessage, error) {
	path, err := s.resolve(timestamp, constants.HistorySummaryFile)
	if err != nil {
		return nil, err
	}
	return s.readJSON(path)
}

// UserData returns the full user dump of one fight.
func (s *Store) UserData(timestamp string) (json.RawMessage, error) {
	path, err := s.resolve(timestamp, constants.HistoryAllUsersFile)
	if err != nil {
		return nil, err
	}
	return s.readJSON(path)
}

// UserSkill returns one player's skill file of one fight.
func (s *Store) UserSkill(timestamp, uid string) (json.RawMessage, error) {
	if !IsDigits(uid) {
		return nil, ErrInvalidUID
	}
	path, err := s.resolve(timestamp, constants.HistoryUsersDir, uid+".json")
	if err != nil {
		return nil, err
	}
	return s.readJSON(path)
}

// OpenLog opens the raw fight log for download. The caller closes it.
func (s *Store) OpenLog(timestamp string) (afero.File, os.FileInfo, error) {
	path, err := s.resolve(timestamp, constants.HistoryLogFile)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open fight log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat fight log: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

func (s *Store) readJSON(path string) (json.RawMessage, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("decode %s: malformed json", filepath.Base(path))
	}
	return json.RawMessage(data), nil
}
