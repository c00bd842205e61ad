package gc

import (
	"context"
	"fmt"

	"github.com/chroma-core/collectiongc/internal/gcerrors"
	"k8s.io/klog/v2"
)

// VersionGraph is an arena-backed directed graph over CollectionVersion
// nodes: edges connect consecutive versions within one collection, and a
// parent's fork-point version to the child's v0. Nodes live in an arena
// slice addressed by integer index; node identity lookups go through the
// nodesByID side map from node to arena index.
type VersionGraph struct {
	nodes    []CollectionVersion
	nodesByID map[CollectionVersion]int
	edges    map[int][]int // parent index -> child indices
	roots    []int
}

func newVersionGraph() *VersionGraph {
	return &VersionGraph{
		nodesByID: make(map[CollectionVersion]int),
		edges:     make(map[int][]int),
	}
}

// addNode inserts cv if absent and returns its index.
func (g *VersionGraph) addNode(cv CollectionVersion) int {
	if idx, ok := g.nodesByID[cv]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, cv)
	g.nodesByID[cv] = idx
	return idx
}

func (g *VersionGraph) addEdge(from, to CollectionVersion) {
	fi := g.addNode(from)
	ti := g.addNode(to)
	g.edges[fi] = append(g.edges[fi], ti)
}

// Nodes returns every (CollectionID, Version) node in the graph.
func (g *VersionGraph) Nodes() []CollectionVersion {
	return append([]CollectionVersion(nil), g.nodes...)
}

// Has reports whether cv is a node in the graph.
func (g *VersionGraph) Has(cv CollectionVersion) bool {
	_, ok := g.nodesByID[cv]
	return ok
}

// Root returns the single node with no incoming edges.
func (g *VersionGraph) Root() (CollectionVersion, error) {
	if len(g.roots) != 1 {
		return CollectionVersion{}, gcerrors.Newf(gcerrors.KindInvariantViolation, "graph.Root",
			"expected exactly one root node, found %d", len(g.roots))
	}
	return g.nodes[g.roots[0]], nil
}

// AncestorsToRoot returns the path from the root node to cv (inclusive of
// cv), used by the empty-file-set defensive check.
func (g *VersionGraph) AncestorsToRoot(cv CollectionVersion) ([]CollectionVersion, error) {
	idx, ok := g.nodesByID[cv]
	if !ok {
		return nil, gcerrors.Newf(gcerrors.KindInvariantViolation, "graph.AncestorsToRoot", "node %s not in graph", cv)
	}
	parentOf := make(map[int]int, len(g.nodes))
	for from, tos := range g.edges {
		for _, to := range tos {
			parentOf[to] = from
		}
	}
	path := []CollectionVersion{cv}
	for {
		p, ok := parentOf[idx]
		if !ok {
			break
		}
		path = append([]CollectionVersion{g.nodes[p]}, path...)
		idx = p
	}
	return path, nil
}

// CollectionDependencyGraph is the quotient of a VersionGraph that collapses
// versions per collection: nodes are CollectionIDs, edges are parent->child
// by fork relationship.
type CollectionDependencyGraph struct {
	collections []CollectionID
	index       map[CollectionID]int
	children    map[CollectionID][]CollectionID
	parent      map[CollectionID]CollectionID
}

func newCollectionDependencyGraph() *CollectionDependencyGraph {
	return &CollectionDependencyGraph{
		index:    make(map[CollectionID]int),
		children: make(map[CollectionID][]CollectionID),
		parent:   make(map[CollectionID]CollectionID),
	}
}

func (d *CollectionDependencyGraph) addCollection(c CollectionID) {
	if _, ok := d.index[c]; ok {
		return
	}
	d.index[c] = len(d.collections)
	d.collections = append(d.collections, c)
}

func (d *CollectionDependencyGraph) addEdge(parent, child CollectionID) {
	d.addCollection(parent)
	d.addCollection(child)
	d.children[parent] = append(d.children[parent], child)
	d.parent[child] = parent
}

// Collections returns every collection id in the dependency graph.
func (d *CollectionDependencyGraph) Collections() []CollectionID {
	return append([]CollectionID(nil), d.collections...)
}

// Children returns c's direct fork children.
func (d *CollectionDependencyGraph) Children(c CollectionID) []CollectionID {
	return d.children[c]
}

// Descendants returns the set of collections reachable from c, inclusive of
// c itself.
func (d *CollectionDependencyGraph) Descendants(c CollectionID) map[CollectionID]struct{} {
	out := map[CollectionID]struct{}{c: {}}
	stack := []CollectionID{c}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range d.children[cur] {
			if _, seen := out[child]; !seen {
				out[child] = struct{}{}
				stack = append(stack, child)
			}
		}
	}
	return out
}

// ReverseTopoOrder returns collections in reverse topological order
// (children before parents). Returns InvariantViolation if the dependency
// graph is cyclic.
func (d *CollectionDependencyGraph) ReverseTopoOrder() ([]CollectionID, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[CollectionID]int, len(d.collections))
	var order []CollectionID

	var visit func(c CollectionID) error
	visit = func(c CollectionID) error {
		switch color[c] {
		case black:
			return nil
		case gray:
			return gcerrors.Newf(gcerrors.KindInvariantViolation, "dependency_graph.ReverseTopoOrder", "cycle detected at %s", c)
		}
		color[c] = gray
		for _, child := range d.children[c] {
			if err := visit(child); err != nil {
				return err
			}
		}
		color[c] = black
		order = append(order, c) // children appended before their parent
		return nil
	}

	for _, c := range d.collections {
		if color[c] == white {
			if err := visit(c); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// VersionFileSource resolves a version file (and, for the fork-tree root,
// its lineage file) from object storage, implementing the BuildGraph
// sub-operator's sole external dependency.
type VersionFileSource interface {
	GetVersionFile(ctx context.Context, path string) (*VersionFile, error)
	GetLineageFile(ctx context.Context, path string) (*LineageFile, error)
}

// GraphBuildResult is BuildGraph's output.
type GraphBuildResult struct {
	VersionFiles map[CollectionID]*VersionFile
	Graph        *VersionGraph
	Dependency   *CollectionDependencyGraph
	// RootCollectionID is the fork tree root named by the lineage file, or
	// the run's own collection when no lineage file is given. The
	// orchestrator reads tenant/database from this collection's version file
	// for every downstream operator call, even when the run targets a forked
	// child collection.
	RootCollectionID CollectionID
}

// BuildVersionGraph fetches the version file for collectionID and, if
// lineageFilePath is non-empty, the lineage manifest at the fork tree's
// root, then walks the resulting family to build the full VersionGraph and
// its CollectionDependencyGraph quotient. Adapted from a live-watch
// dependency-graph builder, generalized to a one-shot batch build.
func BuildVersionGraph(
	ctx context.Context,
	src VersionFileSource,
	logger klog.Logger,
	collectionID CollectionID,
	versionFilePath string,
	lineageFilePath string,
) (*GraphBuildResult, error) {
	versionFiles := make(map[CollectionID]*VersionFile)

	root := collectionID
	rootVF, err := src.GetVersionFile(ctx, versionFilePath)
	if err != nil {
		return nil, gcerrors.New(gcerrors.KindBuildGraph, collectionID.String(), fmt.Errorf("loading version file: %w", err))
	}
	versionFiles[collectionID] = rootVF

	var family []CollectionID
	if lineageFilePath != "" {
		lf, err := src.GetLineageFile(ctx, lineageFilePath)
		if err != nil {
			return nil, gcerrors.New(gcerrors.KindBuildGraph, collectionID.String(), fmt.Errorf("loading lineage file: %w", err))
		}
		root = lf.RootCollectionID
		family = append(family, lf.RootCollectionID)
		family = append(family, lf.Derived...)
	} else {
		family = append(family, collectionID)
	}

	for _, c := range family {
		if _, ok := versionFiles[c]; ok {
			continue
		}
		// Only collectionID's own version file path is supplied by the
		// caller; every other family member's file is fetched at the path
		// versionFilePathFor derives from its collection id.
		vf, err := src.GetVersionFile(ctx, versionFilePathFor(c))
		if err != nil {
			return nil, gcerrors.New(gcerrors.KindMissingVersionFile, c.String(), err)
		}
		versionFiles[c] = vf
	}

	graph := newVersionGraph()
	dep := newCollectionDependencyGraph()

	for cid, vf := range versionFiles {
		dep.addCollection(cid)
		prev := Version(-1)
		for _, vi := range vf.History {
			node := CollectionVersion{CollectionID: cid, Version: vi.Version}
			graph.addNode(node)
			if prev >= 0 {
				graph.addEdge(CollectionVersion{CollectionID: cid, Version: prev}, node)
			}
			prev = vi.Version
		}
		if vf.Lineage != nil {
			dep.addEdge(vf.Lineage.ParentCollectionID, cid)
			graph.addEdge(
				CollectionVersion{CollectionID: vf.Lineage.ParentCollectionID, Version: vf.Lineage.ForkVersion},
				CollectionVersion{CollectionID: cid, Version: 0},
			)
		}
	}

	// Determine root nodes (no incoming edge).
	hasIncoming := make(map[int]bool, len(graph.nodes))
	for _, tos := range graph.edges {
		for _, to := range tos {
			hasIncoming[to] = true
		}
	}
	for i := range graph.nodes {
		if !hasIncoming[i] {
			graph.roots = append(graph.roots, i)
		}
	}

	logger.V(4).Info("built version graph", "nodes", len(graph.nodes), "collections", len(versionFiles), "root", root)

	return &GraphBuildResult{
		VersionFiles:     versionFiles,
		Graph:            graph,
		Dependency:       dep,
		RootCollectionID: root,
	}, nil
}

// versionFilePathFor derives a version file's object-store path from a
// collection id as "version_files/<id>". Centralized here so
// BuildVersionGraph has one seam to adapt if the path convention changes.
func versionFilePathFor(c CollectionID) string {
	return fmt.Sprintf("version_files/%s", c.String())
}
