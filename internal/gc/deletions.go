package gc

import (
	"sort"
	"time"
)

// Classification is the per-collection, per-version retention verdict
// produced by ComputeVersionsToDelete.
type Classification map[CollectionID]map[Version]VersionAction

// AnyDelete reports whether any (collection, version) pair was classified
// Delete.
func (c Classification) AnyDelete() bool {
	for _, versions := range c {
		for _, a := range versions {
			if a == ActionDelete {
				return true
			}
		}
	}
	return false
}

// DeleteVersionsFor returns the sorted list of versions classified Delete
// for collection c.
func (c Classification) DeleteVersionsFor(collection CollectionID) []Version {
	var out []Version
	for v, a := range c[collection] {
		if a == ActionDelete {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ComputeVersionsToDelete classifies every (collection, version) node in the
// graph as Keep or Delete. A version is Delete if either (a) its collection
// is in softDeleted, or (b) its creation time is before cutoff and keeping
// it would still leave at least minVersionsToKeep live (not-yet-classified-
// Delete) versions newer than it in the same collection.
//
// Adapted from the retention-window bookkeeping a namespace deletion
// controller performs when walking an ordered history to decide what
// survives a finalization pass, generalized here to collection version
// history instead of namespace content kinds.
func ComputeVersionsToDelete(
	graph *VersionGraph,
	versionFiles map[CollectionID]*VersionFile,
	softDeleted map[CollectionID]struct{},
	cutoff time.Time,
	minVersionsToKeep uint32,
) Classification {
	result := make(Classification)

	byCollection := make(map[CollectionID][]VersionInfo)
	for _, node := range graph.Nodes() {
		vf := versionFiles[node.CollectionID]
		if vf == nil {
			continue
		}
		if vi, ok := vf.VersionAt(node.Version); ok {
			byCollection[node.CollectionID] = append(byCollection[node.CollectionID], vi)
		}
	}

	for cid, versions := range byCollection {
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })

		_, softDel := softDeleted[cid]
		result[cid] = make(map[Version]VersionAction, len(versions))

		// Walk newest-first, counting how many newer versions are being
		// kept so far, to decide whether keeping this one would still leave
		// minVersionsToKeep newer live versions (policy (b)).
		keptNewerCount := uint32(0)
		for i := len(versions) - 1; i >= 0; i-- {
			vi := versions[i]
			var action VersionAction
			switch {
			case softDel:
				action = ActionDelete
			case vi.CreatedAt.Before(cutoff) && keptNewerCount >= minVersionsToKeep:
				action = ActionDelete
			default:
				action = ActionKeep
			}
			result[cid][vi.Version] = action
			if action == ActionKeep {
				keptNewerCount++
			}
		}
	}

	return result
}
