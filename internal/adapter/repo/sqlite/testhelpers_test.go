package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/ai-doc-summarizer/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeClock hands out strictly increasing instants so ordering assertions
// don't depend on wall-clock resolution.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seedProvider(t *testing.T, reg *sqlite.RegistryRepo, id string, priority int) {
	t.Helper()
	_, err := reg.UpsertProvider(context.Background(), domain.Provider{
		ID: id, Name: id, Credential: "key-" + id, Priority: priority, Enabled: true,
	})
	require.NoError(t, err)
}

func seedModel(t *testing.T, reg *sqlite.RegistryRepo, id, providerID string, perMinute, perDay int) {
	t.Helper()
	_, err := reg.UpsertModel(context.Background(), domain.Model{
		ID: id, ProviderID: providerID, ModelName: id,
		PerMinuteLimit: perMinute, PerDayLimit: perDay, Enabled: true,
	})
	require.NoError(t, err)
}
