package gc

import "time"

// Config enumerates the orchestrator's construction parameters explicitly
// rather than as a free-form option bag.
type Config struct {
	CollectionID    CollectionID
	VersionFilePath string
	// LineageFilePath is optional; when non-empty, collectionID is treated
	// as (possibly) a non-root member of a fork tree and, after
	// collectionID's own version file, the lineage manifest at this path is
	// loaded to find the tree's root and other members.
	LineageFilePath string

	VersionAbsoluteCutoffTime              time.Time
	CollectionSoftDeleteAbsoluteCutoffTime time.Time
	MinVersionsToKeep                      uint32

	CleanupMode CleanupMode
	EnableLogGC bool
	// EnableDangerousOptionToIgnoreMinVersionsForWAL3 is forwarded opaquely
	// to the log operator without orchestrator-level interpretation.
	EnableDangerousOptionToIgnoreMinVersionsForWAL3 bool
}
