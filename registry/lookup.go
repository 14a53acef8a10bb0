package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrDocumentNotFound is returned by FilenameAndPath when documentID does
// not exist.
var ErrDocumentNotFound = errors.New("registry: document not found")

// FilenameAndPath resolves the filename and storage path a worker needs to
// hand to its OCR processor and to satisfy CompleteOCR's filename check,
// implementing workerpool.DocumentLookup.
func (r *Registry) FilenameAndPath(ctx context.Context, documentID uuid.UUID) (string, string, error) {
	var filename, storagePath string
	err := retryDo(r, ctx, "registry.filename_and_path", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `
			SELECT filename, storage_path FROM documents WHERE id = $1
		`, documentID).Scan(&filename, &storagePath)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrDocumentNotFound
		}
		return "", "", err
	}
	return filename, storagePath, nil
}

// MinConfidenceOverride resolves documentID's owning user and returns that
// user's `ocr_min_confidence` override, or nil if they have none set,
// implementing workerpool.DocumentLookup.
func (r *Registry) MinConfidenceOverride(ctx context.Context, documentID uuid.UUID) (*float64, error) {
	var override *float64
	err := retryDo(r, ctx, "registry.min_confidence_override_for_document", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `
			SELECT u.ocr_min_confidence
			FROM documents d JOIN users u ON u.id = d.user_id
			WHERE d.id = $1
		`, documentID).Scan(&override)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return override, nil
}
