// Package forceupdate lets the remote side force a re-download of mods whose
// version already matches. The remote publishes an opaque token per mod; a
// token that differs from the one recorded in the local log means the mod
// must be refreshed.
package forceupdate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/JohannesGoodbye/ClientsideModUpdate/internal/remote"
	"github.com/spf13/afero"
)

// Log maps mod identifiers to the last applied force-update token
type Log map[string]string

// Clone returns a copy of the log
func (l Log) Clone() Log {
	out := make(Log, len(l))
	for id, token := range l {
		out[id] = token
	}
	return out
}

// ParseTokens reads a forceupdate.txt body: one "id token" pair per line,
// the token being the remainder of the line. Lines without a token are
// skipped.
func ParseTokens(data []byte) map[string]string {
	tokens := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		i := strings.IndexFunc(line, unicode.IsSpace)
		if i <= 0 {
			continue
		}
		tokens[line[:i]] = strings.TrimSpace(line[i:])
	}
	return tokens
}

// Store persists the log as a JSON object
type Store struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewStore creates a store for the log file at path
func NewStore(fs afero.Fs, path string, logger *slog.Logger) *Store {
	return &Store{
		fs:     fs,
		path:   path,
		logger: logger,
	}
}

// Path returns the log file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the log. A missing file yields an empty log; an unreadable or
// corrupt file is removed and an empty log is returned.
func (s *Store) Load() Log {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no force-update log found", "path", s.path)
		} else {
			s.logger.Warn("failed to read force-update log", "path", s.path, "error", err)
		}
		return make(Log)
	}

	var log Log
	if err := json.Unmarshal(data, &log); err != nil || log == nil {
		s.logger.Warn("force-update log is corrupt, discarding it", "path", s.path, "error", err)
		if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove corrupt force-update log", "path", s.path, "error", err)
		}
		return make(Log)
	}

	s.logger.Debug("force-update log loaded", "path", s.path, "entries", len(log))
	return log
}

// Save replaces the log file atomically
func (s *Store) Save(log Log) error {
	if log == nil {
		log = make(Log)
	}

	data, err := json.MarshalIndent(log, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode force-update log: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".modupdater-log-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = s.fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write force-update log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write force-update log: %w", err)
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace force-update log: %w", err)
	}
	return nil
}

// Oracle surfaces the current remote token per mod. The remote list and the
// previous log are each loaded once, on first use.
type Oracle struct {
	client remote.Client
	url    string
	store  *Store
	logger *slog.Logger

	remote   map[string]string
	previous Log
}

// NewOracle creates an oracle reading tokens from layout's force-update list
func NewOracle(client remote.Client, layout remote.Layout, store *Store, logger *slog.Logger) *Oracle {
	return &Oracle{
		client: client,
		url:    layout.ForceUpdateURL(),
		store:  store,
		logger: logger,
	}
}

// Token returns the current remote token for id, or "" when the remote
// defines none. It does not compare against the log.
func (o *Oracle) Token(ctx context.Context, id string) string {
	return o.Remote(ctx)[id]
}

// Previous returns the token recorded for id in the persisted log
func (o *Oracle) Previous(id string) string {
	return o.PreviousLog()[id]
}

// Remote returns the full remote token list. A failed fetch yields an empty
// list for the rest of the run.
func (o *Oracle) Remote(ctx context.Context) map[string]string {
	if o.remote != nil {
		return o.remote
	}

	data, err := o.client.Get(ctx, o.url)
	if err != nil {
		o.logger.Warn("failed to fetch force-update list", "url", o.url, "error", err)
		o.remote = make(map[string]string)
		return o.remote
	}

	o.remote = ParseTokens(data)
	o.logger.Debug("fetched force-update list", "entries", len(o.remote))
	return o.remote
}

// PreviousLog returns the persisted log as loaded at first use
func (o *Oracle) PreviousLog() Log {
	if o.previous == nil {
		o.previous = o.store.Load()
	}
	return o.previous
}
