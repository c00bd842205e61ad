// Package gc implements the garbage collection orchestrator for versioned,
// forkable collections: it reconstructs a collection's lineage graph,
// classifies versions for retention, reference-counts blob files across the
// surviving set, and drives deletion of files, write-ahead log prefixes,
// version rows, and (when eligible) whole soft-deleted collections.
package gc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CollectionID is the opaque, stable identifier of a collection.
type CollectionID uuid.UUID

func (c CollectionID) String() string { return uuid.UUID(c).String() }

// ParseCollectionID parses s as a CollectionID. On failure it returns a plain
// wrapped uuid error; it is not classified as a gcerrors.KindUnparsableID
// error, here or by its callers in this module.
func ParseCollectionID(s string) (CollectionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CollectionID{}, fmt.Errorf("parsing collection id %q: %w", s, err)
	}
	return CollectionID(u), nil
}

// Version is a monotonically increasing, non-negative version number within
// one collection. Version 0 is the bootstrap version.
type Version int64

// LogPosition is an unsigned offset into a collection's write-ahead log.
type LogPosition uint64

// VersionInfo is one entry in a collection's version history.
type VersionInfo struct {
	Version            Version
	CurrentLogPosition LogPosition
	CreatedAt          time.Time
	FileReferences     []string
}

// LineageEntry, when present on a VersionFile, records that the collection
// was forked from a parent at a specific version.
type LineageEntry struct {
	ParentCollectionID CollectionID
	ForkVersion        Version
}

// CollectionImmutableInfo is the portion of a VersionFile that never changes
// across the collection's lifetime.
type CollectionImmutableInfo struct {
	Tenant           string
	DatabaseID       string
	DatabaseName     string
	RootCollectionID CollectionID
}

// VersionFile is the content blob describing one collection's full version
// history plus its immutable identity and optional lineage entry.
type VersionFile struct {
	CollectionID CollectionID
	Immutable    CollectionImmutableInfo
	History      []VersionInfo
	Lineage      *LineageEntry
}

// VersionAt returns the VersionInfo for v, if present.
func (vf *VersionFile) VersionAt(v Version) (VersionInfo, bool) {
	for _, vi := range vf.History {
		if vi.Version == v {
			return vi, true
		}
	}
	return VersionInfo{}, false
}

// LineageFile is the manifest, held at the root of a fork tree, listing all
// collections derived from it.
type LineageFile struct {
	RootCollectionID CollectionID
	Derived          []CollectionID
}

// VersionAction classifies a single (collection, version) pair under the
// retention policy.
type VersionAction int

const (
	ActionKeep VersionAction = iota
	ActionDelete
)

func (a VersionAction) String() string {
	if a == ActionKeep {
		return "keep"
	}
	return "delete"
}

// CleanupMode controls whether destructive writes are actually issued.
type CleanupMode int

const (
	ModeDryRun CleanupMode = iota
	ModeDelete
)

func (m CleanupMode) String() string {
	if m == ModeDryRun {
		return "dry_run"
	}
	return "delete"
}

// CollectionVersion identifies a node in the VersionGraph: a specific
// version of a specific collection.
type CollectionVersion struct {
	CollectionID CollectionID
	Version      Version
}

func (cv CollectionVersion) String() string {
	return fmt.Sprintf("%s@%d", cv.CollectionID, cv.Version)
}

// FileRefCount maps a blob path to the number of surviving (Kept) versions
// that reference it. A path present with count 0 is known-unreferenced and
// therefore a deletion candidate; a path absent from the map was never
// considered by this run.
type FileRefCount map[string]uint32

// Response is the orchestrator's successful output.
type Response struct {
	CollectionID       CollectionID
	NumFilesDeleted    uint32
	NumVersionsDeleted uint32
}
