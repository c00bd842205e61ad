package gc

import (
	"context"
	"errors"
	"time"
)

// ErrCollectionNotFound is the sentinel a MetadataStore implementation
// should wrap into errors it returns when a collection row no longer
// exists, so isNotFoundMetadataError can recognize a racing finalize
// without the orchestrator depending on any one backend's error type.
var ErrCollectionNotFound = errors.New("collection not found")

func isNotFoundMetadataError(err error) bool {
	return errors.Is(err, ErrCollectionNotFound)
}

// CollectionMeta is the subset of a collection's metadata-store row the
// orchestrator needs to decide soft-delete eligibility.
type CollectionMeta struct {
	ID        CollectionID
	Tenant    string
	Database  string
	UpdatedAt time.Time
}

// MetadataStore is the full metadata-store surface the orchestrator consumes
// directly: soft-delete status lookups, collection rows, and the two
// version-mutating RPCs reused from operators.go.
type MetadataStore interface {
	MetadataVersionMarker
	CollectionFinalizer

	BatchGetCollectionSoftDeleteStatus(ctx context.Context, ids []CollectionID) (map[CollectionID]bool, error)
	GetCollections(ctx context.Context, ids []CollectionID, includeSoftDeleted bool) ([]CollectionMeta, error)
}
