package gc

import (
	"context"
	"fmt"

	"github.com/chroma-core/collectiongc/internal/gcerrors"
)

// ListFilesSource resolves the blob paths referenced by a specific version,
// implementing the ListFiles sub-operator's dependency.
type ListFilesSource interface {
	ListFiles(ctx context.Context, vf *VersionFile, version Version) ([]string, error)
}

// ListFiles resolves the flat list of blob paths referenced by (vf, version)
// across all of that version's segments.
func ListFiles(ctx context.Context, src ListFilesSource, vf *VersionFile, version Version) ([]string, error) {
	paths, err := src.ListFiles(ctx, vf, version)
	if err != nil {
		return nil, gcerrors.New(gcerrors.KindListFiles, fmt.Sprintf("%s@%d", vf.CollectionID, version), err)
	}
	return paths, nil
}

// MetadataVersionMarker is the subset of the metadata store surface the
// MarkVersions and DeleteVersions operators use.
type MetadataVersionMarker interface {
	MarkVersionsDeleted(ctx context.Context, req MarkVersionsRequest) error
	DeleteVersions(ctx context.Context, req DeleteVersionsRequest) error
}

// MarkVersionsRequest is the payload for a single collection's soft mark.
// epoch_id and oldest_version_to_keep are deliberately omitted here: they
// are deprecated, unused fields on upstream's schema.
type MarkVersionsRequest struct {
	CollectionID     CollectionID
	Tenant           string
	Database         string
	VersionsToDelete []Version
	VersionFilePath  string
}

// MarkVersions marks the given collection's to-be-deleted versions as
// deleted (a reversible soft mark) in the metadata store.
func MarkVersions(ctx context.Context, store MetadataVersionMarker, req MarkVersionsRequest) error {
	if err := store.MarkVersionsDeleted(ctx, req); err != nil {
		return gcerrors.New(gcerrors.KindMarkVersions, req.CollectionID.String(), err)
	}
	return nil
}

// DeleteVersionsRequest is the payload for removing marked version rows,
// consuming the already-deleted file list as proof the blobs are gone.
type DeleteVersionsRequest struct {
	CollectionID      CollectionID
	Tenant            string
	Database          string
	Versions          []Version
	VersionFilePath   string
	DeletedFilesProof []string
}

// DeleteVersions removes marked version rows from the metadata store.
func DeleteVersions(ctx context.Context, store MetadataVersionMarker, req DeleteVersionsRequest) error {
	if err := store.DeleteVersions(ctx, req); err != nil {
		return gcerrors.New(gcerrors.KindDeleteVersions, req.CollectionID.String(), err)
	}
	return nil
}

// FileDeleter deletes a batch of blob paths from object storage.
type FileDeleter interface {
	DeleteFiles(ctx context.Context, paths []string) ([]string, error)
}

// DeleteUnusedFiles deletes paths from object storage, or — in DryRun —
// logs what would have been deleted and returns an empty list.
func DeleteUnusedFiles(ctx context.Context, store FileDeleter, paths []string, mode CleanupMode, logf func(msg string, kv ...any)) ([]string, error) {
	if mode == ModeDryRun {
		logf("would delete unused files", "count", len(paths), "paths", paths)
		return nil, nil
	}
	deleted, err := store.DeleteFiles(ctx, paths)
	if err != nil {
		return nil, gcerrors.New(gcerrors.KindDeleteFiles, "", err)
	}
	return deleted, nil
}

// LogGarbageCollector truncates write-ahead log prefixes and destroys logs
// for collections being hard-deleted.
type LogGarbageCollector interface {
	GarbageCollectLogs(ctx context.Context, req DeleteUnusedLogsRequest) error
}

// DeleteUnusedLogsRequest is the Delete-Unused-Logs operator's input: the
// collections whose entire log must be destroyed (hard-delete candidates)
// and the per-collection minimum offset to retain for everyone else.
type DeleteUnusedLogsRequest struct {
	CollectionsToDestroy        []CollectionID
	CollectionsToGarbageCollect map[CollectionID]LogPosition
	Mode                        CleanupMode
	EnableLogGC                 bool
	IgnoreMinVersionsForWAL3    bool
}

// DeleteUnusedLogs truncates/destroys WAL prefixes per req. When
// req.EnableLogGC is false this is a no-op: the master switch lives above
// the orchestrator's own DryRun/Delete distinction.
func DeleteUnusedLogs(ctx context.Context, logs LogGarbageCollector, req DeleteUnusedLogsRequest, logf func(msg string, kv ...any)) error {
	if !req.EnableLogGC {
		logf("log gc disabled, skipping")
		return nil
	}
	if req.Mode == ModeDryRun {
		logf("would gc logs", "destroy", len(req.CollectionsToDestroy), "truncate", len(req.CollectionsToGarbageCollect),
			"collectionsToDestroy", req.CollectionsToDestroy, "minRetainedOffsets", req.CollectionsToGarbageCollect)
		return nil
	}
	if err := logs.GarbageCollectLogs(ctx, req); err != nil {
		return gcerrors.New(gcerrors.KindDeleteLogs, "", err)
	}
	return nil
}

// MinRetainedLogOffset computes the minimum Kept version v*>0 for a
// collection and returns current_log_position(v*)+1 — the first log entry
// not yet materialized at v* that must be preserved. Returns ok=false when
// the collection has no Kept version greater than 0, meaning it contributes
// no retention constraint.
func MinRetainedLogOffset(vf *VersionFile, classification map[Version]VersionAction) (LogPosition, bool, error) {
	var (
		found   bool
		minKept Version
	)
	for v, action := range classification {
		if action != ActionKeep || v == 0 {
			continue
		}
		if !found || v < minKept {
			minKept = v
			found = true
		}
	}
	if !found {
		return 0, false, nil
	}
	vi, ok := vf.VersionAt(minKept)
	if !ok {
		return 0, false, gcerrors.Newf(gcerrors.KindInvariantViolation, vf.CollectionID.String(),
			"kept version %d missing from version file history", minKept)
	}
	return vi.CurrentLogPosition + 1, true, nil
}
