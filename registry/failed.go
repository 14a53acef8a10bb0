package registry

import "context"

// FailureStatistics aggregates the failed-document counts spec.md section 6
// returns alongside `GET /api/documents/failed`: a total and a breakdown by
// classified failure reason.
type FailureStatistics struct {
	TotalFailed int
	ByReason    map[string]int
}

// ListFailed returns a page of documents currently ocr_status = 'failed',
// newest first, plus the total count for pagination, spec.md section 6.
func (r *Registry) ListFailed(ctx context.Context, limit, offset int) ([]Document, int, error) {
	var docs []Document
	err := retryDo(r, ctx, "registry.list_failed", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT id, user_id, filename, original_filename, storage_path, size,
			       mime_type, content, ocr_text, ocr_status, ocr_error,
			       ocr_confidence, ocr_word_count, ocr_processing_time_ms,
			       ocr_retry_count, ocr_failure_reason, sha256, tags,
			       created_at, updated_at, source_type, source_path
			FROM documents
			WHERE ocr_status = 'failed'
			ORDER BY updated_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var d Document
			if err := scanDocument(rows, &d); err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = retryDo(r, ctx, "registry.count_failed", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, `SELECT count(*) FROM documents WHERE ocr_status = 'failed'`).Scan(&total)
	})
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// FailureStats computes the by-reason breakdown for the failed-documents
// statistics block of spec.md section 6.
func (r *Registry) FailureStats(ctx context.Context) (FailureStatistics, error) {
	stats := FailureStatistics{ByReason: map[string]int{}}
	err := retryDo(r, ctx, "registry.failure_stats", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT coalesce(ocr_failure_reason, 'other'), count(*)
			FROM documents WHERE ocr_status = 'failed'
			GROUP BY coalesce(ocr_failure_reason, 'other')
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var reason string
			var n int
			if err := rows.Scan(&reason, &n); err != nil {
				return err
			}
			stats.ByReason[reason] = n
			stats.TotalFailed += n
		}
		return rows.Err()
	})
	return stats, err
}
