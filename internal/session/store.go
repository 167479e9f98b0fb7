package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/clawd-mascot/mascot/internal/harness"
)

// MaxRecentDirectories bounds the recent working-directory list.
const MaxRecentDirectories = 5

var sessionFiles = map[harness.Kind]string{
	harness.KindClaude: "session.txt",
	harness.KindCodex:  "codex_session.txt",
}

// Snapshot is a consistent view of the store taken under one lock.
type Snapshot struct {
	Backend   harness.Kind
	SessionID string
	WorkDir   string
	Modes     Modes
}

// Store holds cross-turn state. Every method is one short critical section;
// disk writes happen after the lock is released.
type Store struct {
	mu       sync.Mutex
	backend  harness.Kind
	sessions map[harness.Kind]string
	workDir  string
	recent   []string

	modes   Modes
	dataDir string
	logger  *log.Logger
}

// NewStore builds an empty store. Sessions are never restored from disk; the
// session files are write-only history. An empty dataDir disables persistence.
func NewStore(backend harness.Kind, modes Modes, dataDir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		backend:  backend,
		sessions: map[harness.Kind]string{},
		modes:    modes,
		dataDir:  strings.TrimSpace(dataDir),
		logger:   logger,
	}
}

// Backend returns the active backend.
func (s *Store) Backend() harness.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// SetBackend switches the backend for subsequent turns.
func (s *Store) SetBackend(kind harness.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = kind
}

// Modes returns the startup feature flags.
func (s *Store) Modes() Modes {
	return s.modes
}

// Snapshot returns the state a new turn starts from.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Backend:   s.backend,
		SessionID: s.sessions[s.backend],
		WorkDir:   s.workDir,
		Modes:     s.modes,
	}
}

// SessionID returns the in-memory session for kind, or "".
func (s *Store) SessionID(kind harness.Kind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[kind]
}

// SetSessionID records and persists the session for kind. Empty ids are ignored.
func (s *Store) SetSessionID(kind harness.Kind, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	s.sessions[kind] = id
	s.mu.Unlock()

	s.persist(kind, id)
}

// ClearSession forgets the session for kind. The file on disk is left alone.
func (s *Store) ClearSession(kind harness.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, kind)
}

// ClearSessions forgets every backend's session.
func (s *Store) ClearSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[harness.Kind]string{}
}

// WorkingDirectory returns the override, or "" when unset.
func (s *Store) WorkingDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workDir
}

// SetWorkingDirectory validates path, makes it the override, records it as most
// recent and clears both backends' sessions.
func (s *Store) SetWorkingDirectory(path string) error {
	path = strings.TrimSpace(path)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("Directory does not exist: %s", path) //nolint:staticcheck // user-facing message
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workDir = path
	s.recent = pushRecent(s.recent, path)
	s.sessions = map[harness.Kind]string{}
	return nil
}

// RecentDirectories returns most-recent-first working directories.
func (s *Store) RecentDirectories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recent...)
}

// SessionPath returns the history file for kind, or "" when persistence is off.
func (s *Store) SessionPath(kind harness.Kind) string {
	name, ok := sessionFiles[kind]
	if !ok || s.dataDir == "" {
		return ""
	}
	return filepath.Join(s.dataDir, name)
}

// LastPersisted reads the most recently written session id for kind.
func (s *Store) LastPersisted(kind harness.Kind) (string, error) {
	path := s.SessionPath(kind)
	if path == "" {
		return "", errors.New("session persistence is disabled")
	}
	// #nosec G304 -- path is derived from the application data directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RemovePersisted deletes the history file for kind. A missing file is not an error.
func (s *Store) RemovePersisted(kind harness.Kind) error {
	path := s.SessionPath(kind)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (s *Store) persist(kind harness.Kind, id string) {
	path := s.SessionPath(kind)
	if path == "" {
		return
	}
	if err := writeSessionFile(path, id); err != nil {
		s.logger.Warn("persist session failed", "backend", kind, "path", path, "error", err)
	}
}

func writeSessionFile(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func pushRecent(recent []string, path string) []string {
	out := make([]string, 0, MaxRecentDirectories)
	out = append(out, path)
	for _, existing := range recent {
		if existing == path {
			continue
		}
		if len(out) == MaxRecentDirectories {
			break
		}
		out = append(out, existing)
	}
	return out
}
