package registry

import (
	"context"

	"github.com/google/uuid"
)

// EnableBackgroundOCR reports whether userID has background OCR enabled,
// the per-user `enable_background_ocr` setting grounded on the original's
// user_settings table (original_source/src/db/mod.rs: "enable_background_ocr
// BOOLEAN DEFAULT TRUE"). A source-sync file is only enqueued for OCR when
// this is true.
func (r *Registry) EnableBackgroundOCR(ctx context.Context, userID uuid.UUID) (bool, error) {
	var enabled bool
	err := retryDo(r, ctx, "registry.enable_background_ocr", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `
			SELECT enable_background_ocr FROM users WHERE id = $1
		`, userID).Scan(&enabled)
	})
	return enabled, err
}

// The per-document confidence override used by workerpool's CompleteOCR
// call lives in lookup.go (MinConfidenceOverride), joined directly against
// documents since every caller that needs it already has a document id,
// not a user id.
