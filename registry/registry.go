// Package registry implements the content-addressed document registry
// (spec.md section 4.3): create-with-dedup, hash lookup, and the two OCR
// lifecycle transitions a document can undergo outside the guardrails
// transaction (mark_failed, reset_for_retry).
//
// Create's existence-check-then-insert-then-classify shape is grounded on
// the teacher's writer.DynamoDBWriter: check first to avoid the failure path
// when possible, but treat the store's own constraint violation as the
// authoritative signal, not the pre-check.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/retrypolicy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// OCRStatus is the document's OCR lifecycle state, spec.md section 3.
type OCRStatus string

const (
	OCRPending    OCRStatus = "pending"
	OCRProcessing OCRStatus = "processing"
	OCRCompleted  OCRStatus = "completed"
	OCRFailed     OCRStatus = "failed"
)

// Document mirrors the Document entity of spec.md section 3.
type Document struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Filename            string
	OriginalFilename    string
	StoragePath         string
	Size                int64
	MimeType            string
	Content             *string
	OCRText             *string
	OCRStatus           OCRStatus
	OCRError            *string
	OCRConfidence       *float64
	OCRWordCount        *int
	OCRProcessingTimeMs *int
	OCRRetryCount       int
	OCRFailureReason    *string
	SHA256              string
	Tags                []string
	CreatedAt           time.Time
	UpdatedAt           time.Time

	SourceType *string
	SourcePath *string
}

// ErrDuplicateContent is returned by Create when (user_id, sha256) already
// exists, carrying the winning row's id per spec.md section 4.3.
type ErrDuplicateContent struct {
	ExistingID uuid.UUID
}

func (e *ErrDuplicateContent) Error() string {
	return "duplicate content for user: existing document " + e.ExistingID.String()
}

// ErrNotFailed is returned by ResetForRetry when the document is not
// currently in the failed state.
var ErrNotFailed = errors.New("registry: document is not in failed state")

// Registry is the document-registry store.
type Registry struct {
	db     dbpool.Querier
	policy retrypolicy.Policy
}

// New constructs a Registry over db using the default retry policy. logger
// receives a warning on each retried database call; nil logs nothing.
func New(db dbpool.Querier, logger *zap.Logger) *Registry {
	policy := retrypolicy.Default()
	policy.Logger = logger
	return &Registry{db: db, policy: policy}
}

func classifyPgError(err error) retrypolicy.Kind {
	if errors.Is(err, pgx.ErrNoRows) {
		return retrypolicy.Precondition
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return retrypolicy.Conflict
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrypolicy.Cancelled
	}
	return retrypolicy.Transient
}

// retryDo runs fn through r's retry policy with the standard Postgres error
// classifier, saving every other method in this package from repeating the
// same three arguments.
func retryDo(r *Registry, ctx context.Context, label string, fn func(context.Context) error) error {
	return retrypolicy.Do(ctx, r.policy, label, classifyPgError, fn)
}

// Create inserts doc, first checking for an existing (user_id, sha256) row
// to avoid the failure path when possible, per spec.md section 4.3. A
// unique-violation from the INSERT itself — the authoritative signal — is
// classified as *ErrDuplicateContent regardless of what the pre-check saw.
func (r *Registry) Create(ctx context.Context, doc *Document) (*Document, error) {
	if existing, err := r.FindByUserAndHash(ctx, doc.UserID, doc.SHA256); err == nil && existing != nil {
		return nil, &ErrDuplicateContent{ExistingID: existing.ID}
	}

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.OCRStatus == "" {
		doc.OCRStatus = OCRPending
	}

	err := retrypolicy.Do(ctx, r.policy, "registry.create", classifyPgError, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO documents (
				id, user_id, filename, original_filename, storage_path, size,
				mime_type, sha256, tags, ocr_status, ocr_retry_count,
				source_type, source_path
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, doc.ID, doc.UserID, doc.Filename, doc.OriginalFilename, doc.StoragePath,
			doc.Size, doc.MimeType, doc.SHA256, doc.Tags, doc.OCRStatus, doc.OCRRetryCount,
			doc.SourceType, doc.SourcePath)
		return err
	})

	if err != nil {
		var classified *retrypolicy.Classified
		if errors.As(err, &classified) && classified.Kind == retrypolicy.Conflict {
			existing, findErr := r.FindByUserAndHash(ctx, doc.UserID, doc.SHA256)
			if findErr == nil && existing != nil {
				return nil, &ErrDuplicateContent{ExistingID: existing.ID}
			}
		}
		return nil, err
	}

	return doc, nil
}

// FindByUserAndHash looks up the single document owned by userID with the
// given content hash, spec.md section 4.3. Returns (nil, nil) if absent.
func (r *Registry) FindByUserAndHash(ctx context.Context, userID uuid.UUID, sha256 string) (*Document, error) {
	var doc Document
	err := retrypolicy.Do(ctx, r.policy, "registry.find_by_user_and_hash", classifyPgError, func(ctx context.Context) error {
		row := r.db.QueryRow(ctx, `
			SELECT id, user_id, filename, original_filename, storage_path, size,
			       mime_type, content, ocr_text, ocr_status, ocr_error,
			       ocr_confidence, ocr_word_count, ocr_processing_time_ms,
			       ocr_retry_count, ocr_failure_reason, sha256, tags,
			       created_at, updated_at, source_type, source_path
			FROM documents WHERE user_id = $1 AND sha256 = $2
		`, userID, sha256)
		return scanDocument(row, &doc)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func scanDocument(row pgx.Row, doc *Document) error {
	return row.Scan(
		&doc.ID, &doc.UserID, &doc.Filename, &doc.OriginalFilename, &doc.StoragePath,
		&doc.Size, &doc.MimeType, &doc.Content, &doc.OCRText, &doc.OCRStatus, &doc.OCRError,
		&doc.OCRConfidence, &doc.OCRWordCount, &doc.OCRProcessingTimeMs,
		&doc.OCRRetryCount, &doc.OCRFailureReason, &doc.SHA256, &doc.Tags,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.SourceType, &doc.SourcePath,
	)
}

// MarkFailed sets ocr_status='failed' and records the failure classification,
// spec.md section 4.3.
func (r *Registry) MarkFailed(ctx context.Context, id uuid.UUID, reason, errMessage string) error {
	return retrypolicy.Do(ctx, r.policy, "registry.mark_failed", classifyPgError, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			UPDATE documents
			SET ocr_status = 'failed', ocr_failure_reason = $2, ocr_error = $3, updated_at = now()
			WHERE id = $1
		`, id, reason, errMessage)
		return err
	})
}

// ResetForRetry clears OCR outputs and sets the document back to pending,
// bumping ocr_retry_count, only if it is currently failed — spec.md section
// 4.3. Returns ErrNotFailed if the document is in any other state.
func (r *Registry) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	var rowsAffected int64
	err := retrypolicy.Do(ctx, r.policy, "registry.reset_for_retry", classifyPgError, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE documents
			SET ocr_status = 'pending',
			    ocr_text = NULL,
			    ocr_error = NULL,
			    ocr_confidence = NULL,
			    ocr_word_count = NULL,
			    ocr_processing_time_ms = NULL,
			    ocr_failure_reason = NULL,
			    ocr_retry_count = ocr_retry_count + 1,
			    updated_at = now()
			WHERE id = $1 AND ocr_status = 'failed'
		`, id)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if rowsAffected != 1 {
		return ErrNotFailed
	}
	return nil
}
