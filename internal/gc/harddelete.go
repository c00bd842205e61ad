package gc

import (
	"context"
	"fmt"

	"github.com/chroma-core/collectiongc/internal/gcerrors"
	"k8s.io/klog/v2"
)

// CollectionFinalizer hard-deletes a soft-deleted collection's metadata row.
// This is the metadata store's finish_collection_deletion RPC.
type CollectionFinalizer interface {
	FinishCollectionDeletion(ctx context.Context, tenant, database string, collectionID CollectionID) error
}

// HardDeleteEligible computes, in reverse topological order (children
// before parents), which soft-deleted collections may be hard-deleted: a
// collection is eligible only if every descendant in the dependency graph
// (inclusive of itself) is also soft-deleted.
//
// Adapted from the analogous cascade check a namespace controller performs
// (a namespace only finalizes once its own content is gone) before issuing
// its own irreversible delete.
func HardDeleteEligible(dep *CollectionDependencyGraph, eligibleSoftDeleted map[CollectionID]struct{}) ([]CollectionID, error) {
	order, err := dep.ReverseTopoOrder()
	if err != nil {
		return nil, err
	}

	var toFinalize []CollectionID
	for _, c := range order {
		if _, soft := eligibleSoftDeleted[c]; !soft {
			continue
		}
		descendants := dep.Descendants(c)
		allSoftDeleted := true
		for d := range descendants {
			if _, ok := eligibleSoftDeleted[d]; !ok {
				allSoftDeleted = false
				break
			}
		}
		if allSoftDeleted {
			toFinalize = append(toFinalize, c)
		}
	}
	return toFinalize, nil
}

// HardDelete issues finish_collection_deletion sequentially, in the order
// computed by HardDeleteEligible, so the lineage manifest never references
// a non-existent parent mid-run (children finalize first). A NotFound
// failure for a single collection is tolerated and logged — it means a
// racing run already finalized it — any other error aborts the run.
func HardDelete(
	ctx context.Context,
	finalizer CollectionFinalizer,
	logger klog.Logger,
	order []CollectionID,
	tenant, database string,
	isNotFound func(error) bool,
) error {
	for _, c := range order {
		if err := finalizer.FinishCollectionDeletion(ctx, tenant, database, c); err != nil {
			if isNotFound != nil && isNotFound(err) {
				logger.V(2).Info("collection already hard-deleted by a racing run", "collection", c)
				continue
			}
			return gcerrors.New(gcerrors.KindSysDbMethodFailed, c.String(), fmt.Errorf("finish_collection_deletion: %w", err))
		}
		logger.V(1).Info("hard-deleted collection", "collection", c)
	}
	return nil
}
