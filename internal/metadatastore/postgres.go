// Package metadatastore implements gc.MetadataStore against Postgres using
// the same *sql.DB, PrepareContext/QueryContext, and row-scan conventions
// as this module's other database-backed code, adapted from
// protojson-encoded resource rows to the collection/version rows this
// service owns.
package metadatastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	sqldblogger "github.com/simukti/sqldb-logger"

	"github.com/chroma-core/collectiongc/internal/gc"
)

// Store is a Postgres-backed implementation of gc.MetadataStore.
type Store struct {
	db *sql.DB
}

// Open opens (and query-logs) a Postgres connection at dsn.
func Open(dsn string, logger sqldblogger.Logger) (*Store, error) {
	driver, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db := sqldblogger.OpenDriver(dsn, driver.Driver(), logger)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, such as the query-logging
// connection the run command opens or a test's own connection.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// BatchGetCollectionSoftDeleteStatus implements the metadata store's
// soft-delete lookup surface.
func (s *Store) BatchGetCollectionSoftDeleteStatus(ctx context.Context, ids []gc.CollectionID) (map[gc.CollectionID]bool, error) {
	out := make(map[gc.CollectionID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	stmt, err := s.db.PrepareContext(ctx, `SELECT id, is_deleted FROM collections WHERE id = ANY($1)`)
	if err != nil {
		return nil, fmt.Errorf("preparing soft-delete status query: %w", err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, pq.Array(collectionIDStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("querying soft-delete status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idStr string
		var deleted bool
		if err := rows.Scan(&idStr, &deleted); err != nil {
			return nil, fmt.Errorf("scanning soft-delete status row: %w", err)
		}
		id, err := gc.ParseCollectionID(idStr)
		if err != nil {
			return nil, err
		}
		out[id] = deleted
	}
	return out, rows.Err()
}

// GetCollections implements the metadata store's collection row lookup.
func (s *Store) GetCollections(ctx context.Context, ids []gc.CollectionID, includeSoftDeleted bool) ([]gc.CollectionMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, tenant, database_name, updated_at FROM collections WHERE id = ANY($1)`
	if !includeSoftDeleted {
		query += ` AND NOT is_deleted`
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing get_collections query: %w", err)
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, pq.Array(collectionIDStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var out []gc.CollectionMeta
	for rows.Next() {
		var m gc.CollectionMeta
		var idStr string
		if err := rows.Scan(&idStr, &m.Tenant, &m.Database, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		m.ID, err = gc.ParseCollectionID(idStr)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkVersionsDeleted soft-marks versions as deleted; reversible until
// DeleteVersions removes the row entirely.
func (s *Store) MarkVersionsDeleted(ctx context.Context, req gc.MarkVersionsRequest) error {
	if len(req.VersionsToDelete) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE collection_versions SET is_deleted = true
		 WHERE collection_id = $1 AND version = ANY($2)`,
		req.CollectionID.String(), pq.Array(versionInts(req.VersionsToDelete)),
	)
	if err != nil {
		return fmt.Errorf("marking versions deleted: %w", err)
	}
	return nil
}

// DeleteVersions removes marked version rows, consuming the deleted-files
// list as proof the corresponding blobs are already gone; only the number of
// deleted files is recorded in an audit row, and the list itself is neither
// stored nor validated here.
func (s *Store) DeleteVersions(ctx context.Context, req gc.DeleteVersionsRequest) error {
	if len(req.Versions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete_versions transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM collection_versions WHERE collection_id = $1 AND version = ANY($2)`,
		req.CollectionID.String(), pq.Array(versionInts(req.Versions)),
	); err != nil {
		return fmt.Errorf("deleting version rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collection_version_deletion_audit (collection_id, deleted_file_count) VALUES ($1, $2)`,
		req.CollectionID.String(), len(req.DeletedFilesProof),
	); err != nil {
		return fmt.Errorf("recording deletion audit row: %w", err)
	}
	return tx.Commit()
}

// FinishCollectionDeletion hard-deletes a soft-deleted collection's row.
func (s *Store) FinishCollectionDeletion(ctx context.Context, tenant, database string, collectionID gc.CollectionID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE id = $1 AND tenant = $2 AND database_name = $3 AND is_deleted`,
		collectionID.String(), tenant, database,
	)
	if err != nil {
		return fmt.Errorf("finishing collection deletion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("collection %s: %w", collectionID, gc.ErrCollectionNotFound)
	}
	return nil
}

func collectionIDStrings(ids []gc.CollectionID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func versionInts(vs []gc.Version) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = int64(v)
	}
	return out
}
