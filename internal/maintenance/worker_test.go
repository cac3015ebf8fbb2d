package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/r3data-core/rdatacore/internal/clock"
	"github.com/r3data-core/rdatacore/internal/version"
)

type fakeVersions struct {
	mu              sync.Mutex
	entityKeys      []struct{ EntityType, EntityID string }
	definitionIDs   []string
	prunedEntities  int
	prunedDefs      int
}

func (f *fakeVersions) DistinctEntityKeys(context.Context) ([]struct{ EntityType, EntityID string }, error) {
	return f.entityKeys, nil
}

func (f *fakeVersions) DistinctDefinitionIDs(context.Context) ([]string, error) {
	return f.definitionIDs, nil
}

func (f *fakeVersions) PruneEntityVersions(context.Context, string, string, version.PruningPolicy) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedEntities++
	return 1, nil
}

func (f *fakeVersions) PruneDefinitionVersions(context.Context, string, version.PruningPolicy) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedDefs++
	return 1, nil
}

type fakeRuns struct {
	mu           sync.Mutex
	reaped       int
	logsDeleted  bool
}

func (f *fakeRuns) ReapStale(context.Context, int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaped++
	return 1, nil
}

func (f *fakeRuns) DeleteOldLogs(context.Context, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsDeleted = true
	return 3, nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated int
}

func (f *fakeCache) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_TickRunsAllFourTasks(t *testing.T) {
	maxVersions := 10

	versions := &fakeVersions{
		entityKeys:    []struct{ EntityType, EntityID string }{{EntityType: "article", EntityID: "1"}},
		definitionIDs: []string{"def-1"},
	}
	runs := &fakeRuns{}
	cache := &fakeCache{}

	w := &Worker{
		versions: versions, runs: runs, cache: cache, clock: clock.New(),
		cfg:    Config{VersionPolicy: version.PruningPolicy{Enabled: true, MaxVersions: &maxVersions}, StaleRunAfter: time.Minute, RunLogRetention: time.Hour},
		logger: testLogger(),
	}

	w.tick(context.Background())

	assert.Equal(t, 1, versions.prunedEntities)
	assert.Equal(t, 1, versions.prunedDefs)
	assert.Equal(t, 1, runs.reaped)
	assert.True(t, runs.logsDeleted)
	assert.Equal(t, 1, cache.invalidated)
}

func TestWorker_TickToleratesNilCache(t *testing.T) {
	versions := &fakeVersions{}
	runs := &fakeRuns{}

	w := &Worker{
		versions: versions, runs: runs, cache: nil, clock: clock.New(),
		cfg:    Config{StaleRunAfter: time.Minute, RunLogRetention: time.Hour},
		logger: testLogger(),
	}

	assert.NotPanics(t, func() { w.tick(context.Background()) })
}
