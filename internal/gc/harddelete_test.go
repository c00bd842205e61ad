package gc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func TestHardDeleteEligible_CascadesOnlyWhenEveryDescendantSoftDeleted(t *testing.T) {
	parent := newCollectionID(t)
	keptChild := newCollectionID(t)
	deletedChild := newCollectionID(t)

	dep := newCollectionDependencyGraph()
	dep.addEdge(parent, keptChild)
	dep.addEdge(parent, deletedChild)

	eligible := map[CollectionID]struct{}{parent: {}, deletedChild: {}}

	toFinalize, err := HardDeleteEligible(dep, eligible)
	require.NoError(t, err)
	// parent is ineligible because keptChild is not soft-deleted; only
	// deletedChild (a leaf with no descendants) is finalized.
	assert.ElementsMatch(t, []CollectionID{deletedChild}, toFinalize)
}

func TestHardDeleteEligible_FullTreeSoftDeletedCascadesToRoot(t *testing.T) {
	parent := newCollectionID(t)
	child := newCollectionID(t)
	grandchild := newCollectionID(t)

	dep := newCollectionDependencyGraph()
	dep.addEdge(parent, child)
	dep.addEdge(child, grandchild)

	eligible := map[CollectionID]struct{}{parent: {}, child: {}, grandchild: {}}

	toFinalize, err := HardDeleteEligible(dep, eligible)
	require.NoError(t, err)
	assert.Equal(t, []CollectionID{grandchild, child, parent}, toFinalize)
}

type fakeFinalizer struct {
	finalized []CollectionID
	notFound  map[CollectionID]bool
	failWith  error
}

func (f *fakeFinalizer) FinishCollectionDeletion(ctx context.Context, tenant, database string, id CollectionID) error {
	if f.notFound[id] {
		return errors.Join(ErrCollectionNotFound, errNotFoundSentinel)
	}
	if f.failWith != nil {
		return f.failWith
	}
	f.finalized = append(f.finalized, id)
	return nil
}

var errNotFoundSentinel = errors.New("not found in store")

func TestHardDelete_TreatsNotFoundAsAlreadyFinalized(t *testing.T) {
	a, b := newCollectionID(t), newCollectionID(t)
	finalizer := &fakeFinalizer{notFound: map[CollectionID]bool{a: true}}

	err := HardDelete(context.Background(), finalizer, klog.Background(), []CollectionID{a, b}, "tenant", "db", isNotFoundMetadataError)
	require.NoError(t, err)
	assert.Equal(t, []CollectionID{b}, finalizer.finalized)
}

func TestHardDelete_AbortsOnOtherErrors(t *testing.T) {
	a, b := newCollectionID(t), newCollectionID(t)
	finalizer := &fakeFinalizer{failWith: errors.New("db connection reset")}

	err := HardDelete(context.Background(), finalizer, klog.Background(), []CollectionID{a, b}, "tenant", "db", isNotFoundMetadataError)
	require.Error(t, err)
	assert.Empty(t, finalizer.finalized)
}
