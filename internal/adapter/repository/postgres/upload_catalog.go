// Package postgres keeps a catalog of uploaded capture files.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

const uploadsTableName = "uploaded_objects"

const createUploadsTable = `
	CREATE TABLE IF NOT EXISTS uploaded_objects (
		object_key  TEXT PRIMARY KEY,
		capture_id  TEXT NOT NULL,
		node_id     TEXT NOT NULL,
		bytes       BIGINT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL
	);`

const upsertUpload = `
	INSERT INTO uploaded_objects (object_key, capture_id, node_id, bytes, uploaded_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (object_key) DO UPDATE SET
		capture_id = EXCLUDED.capture_id,
		node_id = EXCLUDED.node_id,
		bytes = EXCLUDED.bytes,
		uploaded_at = EXCLUDED.uploaded_at;`

// undefinedTable is the PostgreSQL error code for a missing relation.
const undefinedTable = "42P01"

// UploadCatalog implements domain.UploadCatalog for PostgreSQL. Re-uploads of the
// same key overwrite the earlier row.
type UploadCatalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewUploadCatalog creates a new PostgreSQL upload catalog.
func NewUploadCatalog(db *sql.DB, logger *slog.Logger) *UploadCatalog {
	return &UploadCatalog{db: db, logger: logger.With("component", "upload_catalog")}
}

// EnsureSchema creates the catalog table when it does not exist.
func (c *UploadCatalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, createUploadsTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", uploadsTableName, err)
	}
	return nil
}

// RecordUpload upserts obj.
func (c *UploadCatalog) RecordUpload(ctx context.Context, obj domain.UploadedObject) error {
	_, err := c.db.ExecContext(ctx, upsertUpload, obj.Key, obj.CaptureID, obj.NodeID, obj.Bytes, obj.UploadedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			c.logger.Error("Upload catalog table is missing", "table", uploadsTableName)
		}
		return fmt.Errorf("failed to record upload of %s: %w", obj.Key, err)
	}
	c.logger.Debug("Recorded upload", "key", obj.Key, "bytes", obj.Bytes)
	return nil
}
