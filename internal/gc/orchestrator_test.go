package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

// fakeBackend implements MetadataStore, VersionFileSource, ListFilesSource,
// FileDeleter and LogGarbageCollector with simple in-memory bookkeeping, so
// a full Orchestrator.Run can be exercised without any real collaborator.
type fakeBackend struct {
	versionFiles map[CollectionID]*VersionFile
	lineageFiles map[string]*LineageFile
	softDeleted  map[CollectionID]bool
	updatedAt    map[CollectionID]time.Time

	filesByVersion map[CollectionVersion][]string

	marked      map[CollectionID][]Version
	deletedRows map[CollectionID][]Version
	finalized   []CollectionID
	deletedBlobs []string
	logGCCalls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		versionFiles:   make(map[CollectionID]*VersionFile),
		lineageFiles:   make(map[string]*LineageFile),
		softDeleted:    make(map[CollectionID]bool),
		updatedAt:      make(map[CollectionID]time.Time),
		filesByVersion: make(map[CollectionVersion][]string),
		marked:         make(map[CollectionID][]Version),
		deletedRows:    make(map[CollectionID][]Version),
	}
}

func (b *fakeBackend) GetVersionFile(ctx context.Context, path string) (*VersionFile, error) {
	for _, vf := range b.versionFiles {
		if versionFilePathFor(vf.CollectionID) == path {
			return vf, nil
		}
	}
	return nil, ErrCollectionNotFound
}

func (b *fakeBackend) GetLineageFile(ctx context.Context, path string) (*LineageFile, error) {
	lf, ok := b.lineageFiles[path]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return lf, nil
}

func (b *fakeBackend) ListFiles(ctx context.Context, vf *VersionFile, version Version) ([]string, error) {
	return b.filesByVersion[CollectionVersion{CollectionID: vf.CollectionID, Version: version}], nil
}

func (b *fakeBackend) MarkVersionsDeleted(ctx context.Context, req MarkVersionsRequest) error {
	b.marked[req.CollectionID] = req.VersionsToDelete
	return nil
}

func (b *fakeBackend) DeleteVersions(ctx context.Context, req DeleteVersionsRequest) error {
	b.deletedRows[req.CollectionID] = req.Versions
	return nil
}

func (b *fakeBackend) FinishCollectionDeletion(ctx context.Context, tenant, database string, id CollectionID) error {
	b.finalized = append(b.finalized, id)
	return nil
}

func (b *fakeBackend) BatchGetCollectionSoftDeleteStatus(ctx context.Context, ids []CollectionID) (map[CollectionID]bool, error) {
	out := make(map[CollectionID]bool, len(ids))
	for _, id := range ids {
		out[id] = b.softDeleted[id]
	}
	return out, nil
}

func (b *fakeBackend) GetCollections(ctx context.Context, ids []CollectionID, includeSoftDeleted bool) ([]CollectionMeta, error) {
	out := make([]CollectionMeta, 0, len(ids))
	for _, id := range ids {
		out = append(out, CollectionMeta{ID: id, UpdatedAt: b.updatedAt[id]})
	}
	return out, nil
}

func (b *fakeBackend) DeleteFiles(ctx context.Context, paths []string) ([]string, error) {
	b.deletedBlobs = append(b.deletedBlobs, paths...)
	return paths, nil
}

func (b *fakeBackend) GarbageCollectLogs(ctx context.Context, req DeleteUnusedLogsRequest) error {
	b.logGCCalls++
	return nil
}

func (b *fakeBackend) addCollection(cid CollectionID, ages []time.Duration, now time.Time, filesPerVersion int) *VersionFile {
	vf := buildLinearVersionFile(cid, ages, now)
	for i := range vf.History {
		vf.History[i].CurrentLogPosition = LogPosition(i * 10)
		var paths []string
		for f := 0; f < filesPerVersion; f++ {
			paths = append(paths, CollectionVersion{CollectionID: cid, Version: Version(i)}.String()+"/blob")
		}
		vf.History[i].FileReferences = paths
		b.filesByVersion[CollectionVersion{CollectionID: cid, Version: Version(i)}] = paths
	}
	vf.Immutable = CollectionImmutableInfo{Tenant: "tenant-1", DatabaseName: "db-1", RootCollectionID: cid}
	b.versionFiles[cid] = vf
	b.updatedAt[cid] = now
	return vf
}

func baseConfig(cid CollectionID, now time.Time) Config {
	return Config{
		CollectionID:                           cid,
		VersionFilePath:                         versionFilePathFor(cid),
		VersionAbsoluteCutoffTime:               now.Add(-24 * time.Hour),
		CollectionSoftDeleteAbsoluteCutoffTime:  now.Add(-24 * time.Hour),
		MinVersionsToKeep:                       2,
		CleanupMode:                             ModeDelete,
	}
}

func TestOrchestrator_NoOpWhenNothingOlderThanCutoff(t *testing.T) {
	now := time.Now()
	cid := newCollectionID(t)
	backend := newFakeBackend()
	backend.addCollection(cid, []time.Duration{time.Hour, 0}, now, 1)

	o := New(baseConfig(cid, now), backend, backend, backend, backend, backend, NewDispatcher(2), klog.Background())
	resp, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), resp.NumFilesDeleted)
	assert.Equal(t, uint32(0), resp.NumVersionsDeleted)
	assert.Empty(t, backend.deletedBlobs)
}

func TestOrchestrator_SingleCollectionTrim(t *testing.T) {
	now := time.Now()
	cid := newCollectionID(t)
	backend := newFakeBackend()
	backend.addCollection(cid, []time.Duration{
		5 * 24 * time.Hour,
		4 * 24 * time.Hour,
		3 * 24 * time.Hour,
		2 * 24 * time.Hour,
		0,
	}, now, 1)

	o := New(baseConfig(cid, now), backend, backend, backend, backend, backend, NewDispatcher(4), klog.Background())
	resp, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint32(3), resp.NumVersionsDeleted)
	assert.Equal(t, uint32(3), resp.NumFilesDeleted)
	assert.ElementsMatch(t, []Version{0, 1, 2}, backend.deletedRows[cid])
	assert.Empty(t, backend.finalized)
}

func TestOrchestrator_DryRunDeletesNothing(t *testing.T) {
	now := time.Now()
	cid := newCollectionID(t)
	backend := newFakeBackend()
	backend.addCollection(cid, []time.Duration{
		5 * 24 * time.Hour,
		4 * 24 * time.Hour,
		3 * 24 * time.Hour,
		2 * 24 * time.Hour,
		0,
	}, now, 1)

	cfg := baseConfig(cid, now)
	cfg.CleanupMode = ModeDryRun

	o := New(cfg, backend, backend, backend, backend, backend, NewDispatcher(4), klog.Background())
	resp, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), resp.NumVersionsDeleted)
	assert.Equal(t, uint32(0), resp.NumFilesDeleted)
	assert.Empty(t, backend.deletedBlobs)
	assert.Empty(t, backend.deletedRows)
	assert.Empty(t, backend.finalized)
}

func TestOrchestrator_SoftDeletedCollectionCascadesToHardDelete(t *testing.T) {
	now := time.Now()
	cid := newCollectionID(t)
	backend := newFakeBackend()
	backend.addCollection(cid, []time.Duration{time.Hour, 0}, now, 1)
	backend.softDeleted[cid] = true
	backend.updatedAt[cid] = now.Add(-48 * time.Hour)

	o := New(baseConfig(cid, now), backend, backend, backend, backend, backend, NewDispatcher(2), klog.Background())
	resp, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint32(2), resp.NumVersionsDeleted)
	assert.Equal(t, []CollectionID{cid}, backend.finalized)
}

func TestOrchestrator_EmptyFileListOnNonRootVersionIsInvariantViolation(t *testing.T) {
	now := time.Now()
	cid := newCollectionID(t)
	backend := newFakeBackend()
	backend.addCollection(cid, []time.Duration{
		5 * 24 * time.Hour,
		4 * 24 * time.Hour,
		3 * 24 * time.Hour,
		2 * 24 * time.Hour,
		0,
	}, now, 1)
	// Blow away version 2's file references to trigger the defensive check.
	backend.filesByVersion[CollectionVersion{CollectionID: cid, Version: 2}] = nil

	o := New(baseConfig(cid, now), backend, backend, backend, backend, backend, NewDispatcher(4), klog.Background())
	_, err := o.Run(context.Background())
	assert.Error(t, err)
}
