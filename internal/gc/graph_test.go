package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var fixedNow = time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

type fakeVersionFileSource struct {
	versionFiles map[string]*VersionFile
	lineageFiles map[string]*LineageFile
}

func (f *fakeVersionFileSource) GetVersionFile(ctx context.Context, path string) (*VersionFile, error) {
	vf, ok := f.versionFiles[path]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return vf, nil
}

func (f *fakeVersionFileSource) GetLineageFile(ctx context.Context, path string) (*LineageFile, error) {
	lf, ok := f.lineageFiles[path]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return lf, nil
}

func TestBuildVersionGraph_SingleCollectionNoLineage(t *testing.T) {
	cid := newCollectionID(t)
	vf := buildLinearVersionFile(cid, []time.Duration{time.Hour, 0}, fixedNow)

	src := &fakeVersionFileSource{versionFiles: map[string]*VersionFile{"v": vf}}

	result, err := BuildVersionGraph(context.Background(), src, klog.Background(), cid, "v", "")
	require.NoError(t, err)
	assert.Equal(t, cid, result.RootCollectionID)
	assert.Len(t, result.VersionFiles, 1)
	assert.True(t, result.Graph.Has(CollectionVersion{CollectionID: cid, Version: 0}))
	assert.True(t, result.Graph.Has(CollectionVersion{CollectionID: cid, Version: 1}))

	root, err := result.Graph.Root()
	require.NoError(t, err)
	assert.Equal(t, CollectionVersion{CollectionID: cid, Version: 0}, root)
}

func TestBuildVersionGraph_ForkedChildLinksToParentVersion(t *testing.T) {
	parent := newCollectionID(t)
	child := newCollectionID(t)

	parentVF := buildLinearVersionFile(parent, []time.Duration{2 * time.Hour, time.Hour, 0}, fixedNow)
	childVF := &VersionFile{
		CollectionID: child,
		Lineage:      &LineageEntry{ParentCollectionID: parent, ForkVersion: 1},
		History: []VersionInfo{
			{Version: 0, CreatedAt: fixedNow, FileReferences: []string{"blob"}},
		},
	}

	src := &fakeVersionFileSource{
		versionFiles: map[string]*VersionFile{
			versionFilePathFor(child):  childVF,
			versionFilePathFor(parent): parentVF,
		},
		lineageFiles: map[string]*LineageFile{
			"lineage": {RootCollectionID: parent, Derived: []CollectionID{child}},
		},
	}

	result, err := BuildVersionGraph(context.Background(), src, klog.Background(), child, versionFilePathFor(child), "lineage")
	require.NoError(t, err)
	assert.Equal(t, parent, result.RootCollectionID)
	assert.ElementsMatch(t, []CollectionID{parent, child}, result.Dependency.Collections())
	assert.Equal(t, []CollectionID{child}, result.Dependency.Children(parent))

	path, err := result.Graph.AncestorsToRoot(CollectionVersion{CollectionID: child, Version: 0})
	require.NoError(t, err)
	assert.Equal(t, []CollectionVersion{
		{CollectionID: parent, Version: 0},
		{CollectionID: parent, Version: 1},
		{CollectionID: child, Version: 0},
	}, path)
}

func TestReverseTopoOrder_ChildrenBeforeParents(t *testing.T) {
	dep := newCollectionDependencyGraph()
	parent := newCollectionID(t)
	child := newCollectionID(t)
	grandchild := newCollectionID(t)
	dep.addEdge(parent, child)
	dep.addEdge(child, grandchild)

	order, err := dep.ReverseTopoOrder()
	require.NoError(t, err)

	pos := make(map[CollectionID]int, len(order))
	for i, c := range order {
		pos[c] = i
	}
	assert.Less(t, pos[grandchild], pos[child])
	assert.Less(t, pos[child], pos[parent])
}

func TestReverseTopoOrder_DetectsCycle(t *testing.T) {
	dep := newCollectionDependencyGraph()
	a := newCollectionID(t)
	b := newCollectionID(t)
	dep.addEdge(a, b)
	dep.addEdge(b, a)

	_, err := dep.ReverseTopoOrder()
	assert.Error(t, err)
}
