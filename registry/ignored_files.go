package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IgnoredFile is a user-scoped tombstone recording content a user explicitly
// rejected, so source-sync does not resurrect it on a later scan
// (spec.md section 4.3, "ignored files" memory).
type IgnoredFile struct {
	UserID     uuid.UUID
	SHA256     string
	SourceType *string
	SourcePath *string
	Filename   string
	Size       int64
	MimeType   string
	Reason     *string
	IgnoredAt  time.Time
}

// RecordIgnored inserts a tombstone for f, overwriting any existing
// tombstone for the same (user_id, sha256, source_type, source_path) — a
// user re-deleting the same content from the same origin simply refreshes
// the ignored_at timestamp and reason.
func (r *Registry) RecordIgnored(ctx context.Context, f *IgnoredFile) error {
	return retryDo(r, ctx, "registry.record_ignored", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO ignored_files (
				user_id, sha256, source_type, source_path, filename, size,
				mime_type, reason, ignored_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
			ON CONFLICT (user_id, sha256, source_type, source_path)
			DO UPDATE SET reason = EXCLUDED.reason, ignored_at = now()
		`, f.UserID, f.SHA256, f.SourceType, f.SourcePath, f.Filename, f.Size, f.MimeType, f.Reason)
		return err
	})
}

// IsIgnored reports whether the user has previously rejected this content
// from this origin. sourceType/sourcePath may be nil for a plain upload
// deletion, matching the nullable origin fields of the tombstone.
func (r *Registry) IsIgnored(ctx context.Context, userID uuid.UUID, sha256 string, sourceType, sourcePath *string) (bool, error) {
	var exists bool
	err := retryDo(r, ctx, "registry.is_ignored", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM ignored_files
				WHERE user_id = $1 AND sha256 = $2
				  AND source_type IS NOT DISTINCT FROM $3
				  AND source_path IS NOT DISTINCT FROM $4
			)
		`, userID, sha256, sourceType, sourcePath).Scan(&exists)
	})
	return exists, err
}
