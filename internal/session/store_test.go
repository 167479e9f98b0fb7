package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawd-mascot/mascot/internal/harness"
	"github.com/clawd-mascot/mascot/internal/logging"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "claude-mascot")
	return NewStore(harness.KindClaude, Modes{}, dataDir, logging.Discard()), dataDir
}

func TestSetThenClearSession(t *testing.T) {
	store, _ := newTestStore(t)

	store.SetSessionID(harness.KindClaude, "abc")
	assert.Equal(t, "abc", store.SessionID(harness.KindClaude))

	store.ClearSession(harness.KindClaude)
	assert.Empty(t, store.SessionID(harness.KindClaude))
}

func TestClearSessionKeepsHistoryFile(t *testing.T) {
	store, dataDir := newTestStore(t)

	store.SetSessionID(harness.KindClaude, "abc")
	store.ClearSession(harness.KindClaude)

	data, err := os.ReadFile(filepath.Join(dataDir, "session.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	last, err := store.LastPersisted(harness.KindClaude)
	require.NoError(t, err)
	assert.Equal(t, "abc", last)
}

func TestPersistUsesPerBackendFiles(t *testing.T) {
	store, dataDir := newTestStore(t)

	store.SetSessionID(harness.KindClaude, "claude-1")
	store.SetSessionID(harness.KindCodex, "thread-1")

	claude, err := os.ReadFile(filepath.Join(dataDir, "session.txt"))
	require.NoError(t, err)
	codex, err := os.ReadFile(filepath.Join(dataDir, "codex_session.txt"))
	require.NoError(t, err)
	assert.Equal(t, "claude-1", string(claude))
	assert.Equal(t, "thread-1", string(codex))
}

func TestPersistFailureIsNotFatal(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := NewStore(harness.KindClaude, Modes{}, filepath.Join(blocker, "nested"), logging.Discard())
	store.SetSessionID(harness.KindClaude, "abc")

	assert.Equal(t, "abc", store.SessionID(harness.KindClaude))
}

func TestNewStoreDoesNotRestoreSessions(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "session.txt"), []byte("old"), 0o600))

	store := NewStore(harness.KindClaude, Modes{}, dataDir, logging.Discard())
	assert.Empty(t, store.SessionID(harness.KindClaude))
}

func TestSetWorkingDirectoryClearsBothSessions(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetSessionID(harness.KindCodex, "thread-1")

	dir := t.TempDir()
	require.NoError(t, store.SetWorkingDirectory(dir))

	assert.Empty(t, store.SessionID(harness.KindClaude))
	assert.Empty(t, store.SessionID(harness.KindCodex))
	assert.Equal(t, dir, store.WorkingDirectory())
	assert.Equal(t, []string{dir}, store.RecentDirectories())
}

func TestSetWorkingDirectoryRejectsMissingAndFiles(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetSessionID(harness.KindClaude, "keep")

	missing := filepath.Join(t.TempDir(), "nope")
	err := store.SetWorkingDirectory(missing)
	require.Error(t, err)
	assert.Equal(t, "Directory does not exist: "+missing, err.Error())

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	require.Error(t, store.SetWorkingDirectory(file))

	assert.Equal(t, "keep", store.SessionID(harness.KindClaude))
	assert.Empty(t, store.RecentDirectories())
}

func TestRecentDirectoriesDedupAndBound(t *testing.T) {
	store, _ := newTestStore(t)
	root := t.TempDir()
	dirs := make([]string, 6)
	for i := range dirs {
		dirs[i] = filepath.Join(root, fmt.Sprintf("d%d", i))
		require.NoError(t, os.Mkdir(dirs[i], 0o750))
	}

	require.NoError(t, store.SetWorkingDirectory(dirs[0]))
	require.NoError(t, store.SetWorkingDirectory(dirs[1]))
	require.NoError(t, store.SetWorkingDirectory(dirs[0]))
	assert.Equal(t, []string{dirs[0], dirs[1]}, store.RecentDirectories())

	for _, dir := range dirs[1:] {
		require.NoError(t, store.SetWorkingDirectory(dir))
	}
	assert.Equal(t, []string{dirs[5], dirs[4], dirs[3], dirs[2], dirs[1]}, store.RecentDirectories())
}

func TestSnapshotUsesActiveBackend(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetSessionID(harness.KindClaude, "c")
	store.SetSessionID(harness.KindCodex, "x")

	assert.Equal(t, "c", store.Snapshot().SessionID)
	store.SetBackend(harness.KindCodex)
	snap := store.Snapshot()
	assert.Equal(t, harness.KindCodex, snap.Backend)
	assert.Equal(t, "x", snap.SessionID)
}

func TestConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(t)
	dir := t.TempDir()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.SetSessionID(harness.KindCodex, fmt.Sprintf("s%d", i))
			_ = store.SetWorkingDirectory(dir)
			_ = store.Snapshot()
			_ = store.RecentDirectories()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []string{dir}, store.RecentDirectories())
}

func TestRecentListReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, store.SetWorkingDirectory(dir))

	recent := store.RecentDirectories()
	recent[0] = "mutated"
	assert.Equal(t, []string{dir}, store.RecentDirectories())
}

func TestRemovePersistedDeletesHistoryFile(t *testing.T) {
	store, _ := newTestStore(t)

	store.SetSessionID(harness.KindCodex, "th-1")
	require.FileExists(t, store.SessionPath(harness.KindCodex))

	require.NoError(t, store.RemovePersisted(harness.KindCodex))
	assert.NoFileExists(t, store.SessionPath(harness.KindCodex))
	require.NoError(t, store.RemovePersisted(harness.KindCodex))

	last, err := store.LastPersisted(harness.KindCodex)
	require.NoError(t, err)
	assert.Empty(t, last)
}
