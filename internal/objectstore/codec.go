package objectstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chroma-core/collectiongc/internal/gc"
)

// VersionFile and LineageFile are persisted elsewhere as length-delimited
// protocol messages; this service only ever reads them, never creates them.
// The wire type below is a thin JSON-based stand-in for the real
// collection-store protobuf schema — this package owns decoding, not the
// message definition, so swapping in the actual generated protobuf types is
// a one-file change confined here.
type wireVersionInfo struct {
	Version            int64    `json:"version"`
	CurrentLogPosition uint64   `json:"current_log_position"`
	CreatedAtUnix      int64    `json:"created_at_unix"`
	FileReferences     []string `json:"file_references"`
}

type wireLineageEntry struct {
	ParentCollectionID string `json:"parent_collection_id"`
	ForkVersion        int64  `json:"fork_version"`
}

type wireVersionFile struct {
	CollectionID     string             `json:"collection_id"`
	Tenant           string             `json:"tenant"`
	DatabaseID       string             `json:"database_id"`
	DatabaseName     string             `json:"database_name"`
	RootCollectionID string             `json:"root_collection_id"`
	History          []wireVersionInfo  `json:"history"`
	Lineage          *wireLineageEntry  `json:"lineage,omitempty"`
}

type wireLineageFile struct {
	RootCollectionID string   `json:"root_collection_id"`
	Derived          []string `json:"derived"`
}

func decodeVersionFile(data []byte) (*gc.VersionFile, error) {
	var w wireVersionFile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding version file: %w", err)
	}

	cid, err := gc.ParseCollectionID(w.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("version file collection id: %w", err)
	}
	root, err := gc.ParseCollectionID(w.RootCollectionID)
	if err != nil {
		return nil, fmt.Errorf("version file root collection id: %w", err)
	}

	vf := &gc.VersionFile{
		CollectionID: cid,
		Immutable: gc.CollectionImmutableInfo{
			Tenant:           w.Tenant,
			DatabaseID:       w.DatabaseID,
			DatabaseName:     w.DatabaseName,
			RootCollectionID: root,
		},
	}
	for _, vi := range w.History {
		vf.History = append(vf.History, gc.VersionInfo{
			Version:            gc.Version(vi.Version),
			CurrentLogPosition: gc.LogPosition(vi.CurrentLogPosition),
			CreatedAt:           time.Unix(vi.CreatedAtUnix, 0).UTC(),
			FileReferences:      vi.FileReferences,
		})
	}
	if w.Lineage != nil {
		parent, err := gc.ParseCollectionID(w.Lineage.ParentCollectionID)
		if err != nil {
			return nil, fmt.Errorf("lineage parent collection id: %w", err)
		}
		vf.Lineage = &gc.LineageEntry{
			ParentCollectionID: parent,
			ForkVersion:        gc.Version(w.Lineage.ForkVersion),
		}
	}
	return vf, nil
}

func decodeLineageFile(data []byte) (*gc.LineageFile, error) {
	var w wireLineageFile
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding lineage file: %w", err)
	}
	root, err := gc.ParseCollectionID(w.RootCollectionID)
	if err != nil {
		return nil, fmt.Errorf("lineage file root collection id: %w", err)
	}
	lf := &gc.LineageFile{RootCollectionID: root}
	for _, d := range w.Derived {
		id, err := gc.ParseCollectionID(d)
		if err != nil {
			return nil, fmt.Errorf("lineage file derived collection id: %w", err)
		}
		lf.Derived = append(lf.Derived, id)
	}
	return lf, nil
}
