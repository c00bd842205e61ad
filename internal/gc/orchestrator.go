package gc

import (
	"context"
	"fmt"

	"github.com/chroma-core/collectiongc/internal/gcerrors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
)

// Orchestrator drives the garbage collection pipeline: BuildGraph ->
// ComputeDeletions -> fan-out(MarkVersions, ListFiles) -> DeleteLogs &
// DeleteFiles -> DeleteVersions -> HardDelete -> Respond.
//
// It is the sole mutator of its own fields; every sub-task communicates
// back through a result channel instead of touching orchestrator state
// directly, which is why no field below needs a lock even though sub-tasks
// run concurrently on the Dispatcher's worker pool.
type Orchestrator struct {
	cfg Config

	metadata   MetadataStore
	versions   VersionFileSource
	files      ListFilesSource
	fileStore  FileDeleter
	logs       LogGarbageCollector
	dispatcher *Dispatcher
	logger     klog.Logger

	// run-scoped state, populated as the state machine advances.
	versionFiles map[CollectionID]*VersionFile
	graph        *VersionGraph
	dependency   *CollectionDependencyGraph
	rootCollectionID CollectionID
	tenant       string
	database     string

	eligibleSoftDeleted map[CollectionID]struct{}
	classification      Classification

	pendingMark sets.Set[CollectionID]
	pendingList sets.Set[CollectionVersion]

	fileRefCounts FileRefCount

	pendingFilesCh chan filesEvent
	pendingLogsCh  chan logsEvent

	numFilesDeleted    uint32
	numVersionsDeleted uint32
}

// New constructs an Orchestrator for one run. The Dispatcher must already
// be started (or will be started by Run) by the caller.
func New(
	cfg Config,
	metadata MetadataStore,
	versions VersionFileSource,
	files ListFilesSource,
	fileStore FileDeleter,
	logs LogGarbageCollector,
	dispatcher *Dispatcher,
	logger klog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		metadata:   metadata,
		versions:   versions,
		files:      files,
		fileStore:  fileStore,
		logs:       logs,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type markEvent struct {
	collection CollectionID
	err        error
}

type listEvent struct {
	cv    CollectionVersion
	paths []string
	err   error
}

type filesEvent struct {
	deleted []string
	err     error
}

type logsEvent struct {
	err error
}

type versionsEvent struct {
	collection CollectionID
	numDeleted uint32
	err        error
}

// Run executes the full pipeline and returns the final Response, or the
// first error encountered: the first error terminates the run, there is no
// partial success. A panic during the run is recovered and returned as a
// Panic-kind error.
func (o *Orchestrator) Run(ctx context.Context) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(nil, "garbage collector run panicked", "panic", r)
			resp, err = nil, gcerrors.Newf(gcerrors.KindPanic, o.cfg.CollectionID.String(), "%v", r)
		}
	}()

	o.dispatcher.Start(ctx)

	// --- State 1 & 2: Init -> AwaitGraph ---
	if err := o.buildGraph(ctx); err != nil {
		return nil, err
	}
	if err := o.resolveSoftDeleteEligibility(ctx); err != nil {
		return nil, err
	}

	// --- State 2 tail: ComputeDeletions (pure, run inline) ---
	o.classification = ComputeVersionsToDelete(
		o.graph, o.versionFiles, o.eligibleSoftDeleted,
		o.cfg.VersionAbsoluteCutoffTime, o.cfg.MinVersionsToKeep,
	)

	// --- State 3: AwaitClassification ---
	if len(o.classification) == 0 {
		o.logger.V(2).Info("no versions classified, nothing to do", "collection", o.cfg.CollectionID)
		return &Response{CollectionID: o.cfg.CollectionID}, nil
	}

	if err := o.fanOutMarkAndList(ctx); err != nil {
		return nil, err
	}

	// --- State 5: AwaitDestructive ---
	deletedFiles, err := o.deleteFilesAndLogs(ctx)
	if err != nil {
		return nil, err
	}
	o.numFilesDeleted = uint32(len(deletedFiles))

	if o.cfg.CleanupMode == ModeDryRun {
		return &Response{CollectionID: o.cfg.CollectionID}, nil
	}

	// --- State 5 tail & 6: DeleteVersions fan-out / AwaitVersionRemoval ---
	if err := o.deleteVersions(ctx, deletedFiles); err != nil {
		return nil, err
	}

	// --- State 7: HardDelete ---
	if err := o.hardDelete(ctx); err != nil {
		return nil, err
	}

	return &Response{
		CollectionID:       o.cfg.CollectionID,
		NumFilesDeleted:    o.numFilesDeleted,
		NumVersionsDeleted: o.numVersionsDeleted,
	}, nil
}

func (o *Orchestrator) buildGraph(ctx context.Context) error {
	result, err := BuildVersionGraph(ctx, o.versions, o.logger, o.cfg.CollectionID, o.cfg.VersionFilePath, o.cfg.LineageFilePath)
	if err != nil {
		return err
	}
	o.versionFiles = result.VersionFiles
	o.graph = result.Graph
	o.dependency = result.Dependency
	o.rootCollectionID = result.RootCollectionID

	rootVF, ok := o.versionFiles[o.rootCollectionID]
	if !ok {
		return gcerrors.New(gcerrors.KindMissingVersionFile, o.rootCollectionID.String(),
			fmt.Errorf("root collection has no version file"))
	}
	o.tenant = rootVF.Immutable.Tenant
	o.database = rootVF.Immutable.DatabaseName
	if o.tenant == "" || o.database == "" {
		return gcerrors.Newf(gcerrors.KindInvariantViolation, o.rootCollectionID.String(),
			"root version file missing tenant/database immutable info")
	}
	return nil
}

func (o *Orchestrator) resolveSoftDeleteEligibility(ctx context.Context) error {
	ids := o.dependency.Collections()
	metas, err := o.metadata.GetCollections(ctx, ids, true)
	if err != nil {
		return gcerrors.New(gcerrors.KindSysDbMethodFailed, "get_collections", err)
	}
	statuses, err := o.metadata.BatchGetCollectionSoftDeleteStatus(ctx, ids)
	if err != nil {
		return gcerrors.New(gcerrors.KindSysDbMethodFailed, "batch_get_collection_soft_delete_status", err)
	}

	o.eligibleSoftDeleted = make(map[CollectionID]struct{})
	for _, m := range metas {
		if statuses[m.ID] && m.UpdatedAt.Before(o.cfg.CollectionSoftDeleteAbsoluteCutoffTime) {
			o.eligibleSoftDeleted[m.ID] = struct{}{}
		}
	}
	return nil
}

// fanOutMarkAndList dispatches one MarkVersions per collection and one
// ListFiles per classified (collection, version), then drains both result
// streams until the pending sets are empty, updating file_ref_counts as
// ListFiles results arrive.
func (o *Orchestrator) fanOutMarkAndList(ctx context.Context) error {
	o.pendingMark = sets.New[CollectionID]()
	o.pendingList = sets.New[CollectionVersion]()
	o.fileRefCounts = make(FileRefCount)

	markCh := make(chan markEvent, len(o.classification))
	var listCount int
	for cid := range o.classification {
		o.pendingMark.Insert(cid)
		for v := range o.classification[cid] {
			o.pendingList.Insert(CollectionVersion{CollectionID: cid, Version: v})
			listCount++
		}
	}
	listCh := make(chan listEvent, listCount)

	for cid := range o.classification {
		cid := cid
		toDelete := o.classification.DeleteVersionsFor(cid)
		vf := o.versionFiles[cid]
		o.dispatcher.Spawn(func(ctx context.Context) {
			err := MarkVersions(ctx, o.metadata, MarkVersionsRequest{
				CollectionID:     cid,
				Tenant:           o.tenant,
				Database:         o.database,
				VersionsToDelete: toDelete,
				VersionFilePath:  versionFilePathFor(vf.CollectionID),
			})
			markCh <- markEvent{collection: cid, err: err}
		})
	}

	for cid, versions := range o.classification {
		cid := cid
		vf := o.versionFiles[cid]
		for v := range versions {
			v := v
			o.dispatcher.Spawn(func(ctx context.Context) {
				paths, err := ListFiles(ctx, o.files, vf, v)
				listCh <- listEvent{cv: CollectionVersion{CollectionID: cid, Version: v}, paths: paths, err: err}
			})
		}
	}

	logsDispatched := false
	filesDispatched := false
	var filesEventCh chan filesEvent
	var logsEventCh chan logsEvent

	for o.pendingMark.Len() > 0 || o.pendingList.Len() > 0 {
		select {
		case ev := <-markCh:
			if ev.err != nil {
				return ev.err
			}
			o.pendingMark.Delete(ev.collection)
		case ev := <-listCh:
			if ev.err != nil {
				return ev.err
			}
			if err := o.applyListResult(ev); err != nil {
				return err
			}
			o.pendingList.Delete(ev.cv)
		}

		if !logsDispatched && o.pendingMark.Len() == 0 {
			logsDispatched = true
			logsEventCh = make(chan logsEvent, 1)
			req := o.buildLogGCRequest()
			o.dispatcher.Spawn(func(ctx context.Context) {
				err := DeleteUnusedLogs(ctx, o.logs, req, o.logf)
				logsEventCh <- logsEvent{err: err}
			})
		}
		if !filesDispatched && o.pendingMark.Len() == 0 && o.pendingList.Len() == 0 {
			filesDispatched = true
			filesEventCh = make(chan filesEvent, 1)
			paths := o.fileRefCounts.unreferencedPaths()
			o.dispatcher.Spawn(func(ctx context.Context) {
				deleted, err := DeleteUnusedFiles(ctx, o.fileStore, paths, o.cfg.CleanupMode, o.logf)
				filesEventCh <- filesEvent{deleted: deleted, err: err}
			})
		}
	}

	o.pendingFilesCh = filesEventCh
	o.pendingLogsCh = logsEventCh
	return nil
}

// applyListResult enforces the empty-file-set defense and updates
// file_ref_counts: Keep versions increment every referenced path
// (inserting 0 first if absent); Delete versions only ensure the path is
// present, at 0, so the zero-set difference is a single pass over the map.
func (o *Orchestrator) applyListResult(ev listEvent) error {
	cid, v := ev.cv.CollectionID, ev.cv.Version
	if len(ev.paths) == 0 {
		abort := v > 0
		if !abort {
			ancestors, err := o.graph.AncestorsToRoot(ev.cv)
			if err != nil {
				return err
			}
			for _, a := range ancestors {
				if a.Version > 0 {
					abort = true
					break
				}
			}
		}
		if abort {
			return gcerrors.Newf(gcerrors.KindInvariantViolation, ev.cv.String(), "no file paths for version %d", v)
		}
	}

	action := o.classification[cid][v]
	for _, p := range ev.paths {
		if _, ok := o.fileRefCounts[p]; !ok {
			o.fileRefCounts[p] = 0
		}
		if action == ActionKeep {
			o.fileRefCounts[p]++
		}
	}
	return nil
}

func (frc FileRefCount) unreferencedPaths() []string {
	var out []string
	for p, n := range frc {
		if n == 0 {
			out = append(out, p)
		}
	}
	return out
}

func (o *Orchestrator) buildLogGCRequest() DeleteUnusedLogsRequest {
	toDestroy := make([]CollectionID, 0, len(o.eligibleSoftDeleted))
	for c := range o.eligibleSoftDeleted {
		toDestroy = append(toDestroy, c)
	}

	toGC := make(map[CollectionID]LogPosition)
	for cid, versions := range o.classification {
		vf := o.versionFiles[cid]
		offset, ok, err := MinRetainedLogOffset(vf, versions)
		if err != nil || !ok {
			continue
		}
		toGC[cid] = offset
	}

	return DeleteUnusedLogsRequest{
		CollectionsToDestroy:        toDestroy,
		CollectionsToGarbageCollect: toGC,
		Mode:                        o.cfg.CleanupMode,
		EnableLogGC:                 o.cfg.EnableLogGC,
		IgnoreMinVersionsForWAL3:    o.cfg.EnableDangerousOptionToIgnoreMinVersionsForWAL3,
	}
}

// deleteFilesAndLogs waits for the DeleteFiles and DeleteLogs tasks
// dispatched at the tail of fanOutMarkAndList to both complete and returns
// the list of files actually deleted.
func (o *Orchestrator) deleteFilesAndLogs(ctx context.Context) ([]string, error) {
	var (
		filesDone, logsDone bool
		deleted             []string
	)
	for !filesDone || !logsDone {
		select {
		case ev := <-o.pendingFilesCh:
			if ev.err != nil {
				return nil, ev.err
			}
			deleted = ev.deleted
			filesDone = true
		case ev := <-o.pendingLogsCh:
			if ev.err != nil {
				return nil, ev.err
			}
			logsDone = true
		case <-ctx.Done():
			return nil, gcerrors.New(gcerrors.KindAborted, "", ctx.Err())
		}
	}
	return deleted, nil
}

func (o *Orchestrator) deleteVersions(ctx context.Context, deletedFiles []string) error {
	type job struct {
		cid      CollectionID
		versions []Version
	}
	var jobs []job
	for cid := range o.classification {
		versions := o.classification.DeleteVersionsFor(cid)
		if len(versions) > 0 {
			jobs = append(jobs, job{cid: cid, versions: versions})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	resultCh := make(chan versionsEvent, len(jobs))
	for _, j := range jobs {
		j := j
		vf := o.versionFiles[j.cid]
		o.dispatcher.Spawn(func(ctx context.Context) {
			err := DeleteVersions(ctx, o.metadata, DeleteVersionsRequest{
				CollectionID:      j.cid,
				Tenant:            o.tenant,
				Database:          o.database,
				Versions:          j.versions,
				VersionFilePath:   versionFilePathFor(vf.CollectionID),
				DeletedFilesProof: deletedFiles,
			})
			resultCh <- versionsEvent{collection: j.cid, numDeleted: uint32(len(j.versions)), err: err}
		})
	}

	pending := len(jobs)
	for pending > 0 {
		select {
		case ev := <-resultCh:
			if ev.err != nil {
				return ev.err
			}
			o.numVersionsDeleted += ev.numDeleted
			pending--
			o.logger.V(4).Info("version removal completed", "collection", ev.collection, "num_pending_tasks", pending)
		case <-ctx.Done():
			return gcerrors.New(gcerrors.KindAborted, "", ctx.Err())
		}
	}
	return nil
}

func (o *Orchestrator) hardDelete(ctx context.Context) error {
	order, err := HardDeleteEligible(o.dependency, o.eligibleSoftDeleted)
	if err != nil {
		return err
	}
	return HardDelete(ctx, o.metadata, o.logger, order, o.tenant, o.database, isNotFoundMetadataError)
}

func (o *Orchestrator) logf(msg string, kv ...any) {
	o.logger.V(2).Info(msg, kv...)
}
