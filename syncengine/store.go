package syncengine

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/retrypolicy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrAlreadySyncing is returned by MarkSyncing when another task already
// holds the source's syncing state — the "only one sync may hold syncing
// per source" invariant of spec.md section 3.
var ErrAlreadySyncing = errors.New("syncengine: source is already syncing")

// Store is the persistence layer backing C2: sources, directory/file
// state, and per-user sync resumability state. Grounded on the same
// dbpool.Querier interface split guardrails and registry use.
type Store struct {
	db     dbpool.Querier
	policy retrypolicy.Policy
}

// NewStore constructs a Store over db using the default retry policy.
// logger receives a warning on each retried database call; nil logs
// nothing.
func NewStore(db dbpool.Querier, logger *zap.Logger) *Store {
	policy := retrypolicy.Default()
	policy.Logger = logger
	return &Store{db: db, policy: policy}
}

func classify(err error) retrypolicy.Kind {
	if errors.Is(err, pgx.ErrNoRows) {
		return retrypolicy.Precondition
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return retrypolicy.Conflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrypolicy.Cancelled
	}
	return retrypolicy.Transient
}

func (s *Store) retryDo(ctx context.Context, label string, fn func(context.Context) error) error {
	return retrypolicy.Do(ctx, s.policy, label, classify, fn)
}

// DueForAutoSync returns enabled sources whose auto_sync is on and whose
// elapsed time since last_sync_at is at least sync_interval_minutes,
// spec.md section 4.2's scheduler tick.
func (s *Store) DueForAutoSync(ctx context.Context) ([]Source, error) {
	var sources []Source
	err := s.retryDo(ctx, "syncengine.due_for_auto_sync", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, `
			SELECT id, user_id, name, type, config, status, enabled, auto_sync,
			       sync_interval_minutes, last_sync_at, last_error, files_synced,
			       bytes_synced, created_at, updated_at
			FROM sources
			WHERE enabled AND auto_sync
			  AND (last_sync_at IS NULL OR last_sync_at <= now() - (sync_interval_minutes * interval '1 minute'))
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var src Source
			if err := scanSource(rows, &src); err != nil {
				return err
			}
			sources = append(sources, src)
		}
		return rows.Err()
	})
	return sources, err
}

func scanSource(row pgx.Row, src *Source) error {
	return row.Scan(
		&src.ID, &src.UserID, &src.Name, &src.Type, &src.Config, &src.Status,
		&src.Enabled, &src.AutoSync, &src.SyncIntervalMins, &src.LastSyncAt,
		&src.LastError, &src.FilesSynced, &src.BytesSynced, &src.CreatedAt, &src.UpdatedAt,
	)
}

// ResetInterruptedSyncs implements the boot-time half of spec.md section
// 4.2's scheduler: any row left in 'syncing' across a restart is reset to
// 'idle' with an "interrupted" marker.
func (s *Store) ResetInterruptedSyncs(ctx context.Context) (int64, error) {
	var n int64
	err := s.retryDo(ctx, "syncengine.reset_interrupted", func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, `
			UPDATE sources
			SET status = 'idle', last_error = 'interrupted: process restarted mid-sync', updated_at = now()
			WHERE status = 'syncing'
		`)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// OwnerUserID returns the user_id owning sourceID, for callers (e.g. the
// progress WebSocket endpoint) that must verify a subscriber is allowed to
// watch a given source before streaming its progress.
func (s *Store) OwnerUserID(ctx context.Context, sourceID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.retryDo(ctx, "syncengine.owner_user_id", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `SELECT user_id FROM sources WHERE id = $1`, sourceID).Scan(&userID)
	})
	return userID, err
}

// MarkSyncing transitions a source into 'syncing', enforcing the
// at-most-one-sync-per-source invariant: the UPDATE only matches rows not
// already syncing, so a zero-rows-affected result means another task
// already holds it.
func (s *Store) MarkSyncing(ctx context.Context, sourceID uuid.UUID) error {
	var rowsAffected int64
	err := s.retryDo(ctx, "syncengine.mark_syncing", func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, `
			UPDATE sources SET status = 'syncing', updated_at = now()
			WHERE id = $1 AND status != 'syncing'
		`, sourceID)
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
		return ErrAlreadySyncing
	}
	return nil
}

// MarkIdle transitions a source back to 'idle' after a successful sync,
// recording lastSyncAt and the files/bytes synced counters delta.
func (s *Store) MarkIdle(ctx context.Context, sourceID uuid.UUID, filesSynced, bytesSynced int64) error {
	return s.retryDo(ctx, "syncengine.mark_idle", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			UPDATE sources
			SET status = 'idle', last_sync_at = now(), last_error = NULL,
			    files_synced = files_synced + $2, bytes_synced = bytes_synced + $3,
			    updated_at = now()
			WHERE id = $1
		`, sourceID, filesSynced, bytesSynced)
		return err
	})
}

// MarkError transitions a source to 'error', recording the cause.
func (s *Store) MarkError(ctx context.Context, sourceID uuid.UUID, errMessage string) error {
	return s.retryDo(ctx, "syncengine.mark_error", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			UPDATE sources SET status = 'error', last_error = $2, updated_at = now()
			WHERE id = $1
		`, sourceID, errMessage)
		return err
	})
}

// DirectoryState looks up the recorded state for a directory, returning
// nil if never seen before (spec.md section 4.2's "first run" case).
func (s *Store) DirectoryState(ctx context.Context, userID uuid.UUID, directoryPath string) (*DirectoryState, error) {
	var d DirectoryState
	err := s.retryDo(ctx, "syncengine.directory_state", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `
			SELECT user_id, directory_path, directory_etag, file_count, total_size_bytes, last_scanned_at
			FROM webdav_directory_state WHERE user_id = $1 AND directory_path = $2
		`, userID, directoryPath).Scan(&d.UserID, &d.DirectoryPath, &d.DirectoryETag, &d.FileCount, &d.TotalSizeBytes, &d.LastScannedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// CommitDirectory implements spec.md section 4.2's per-directory commit:
// upsert the directory's own state (ETag race safety via ON CONFLICT DO
// UPDATE keyed on (user_id, directory_path)), then tombstone immediate
// child directory rows no longer seen on the server — all in one
// transaction.
func (s *Store) CommitDirectory(ctx context.Context, dir DirectoryState, seenChildPaths []string) error {
	return s.retryDo(ctx, "syncengine.commit_directory", func(ctx context.Context) error {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
			INSERT INTO webdav_directory_state (user_id, directory_path, directory_etag, file_count, total_size_bytes, last_scanned_at)
			VALUES ($1,$2,$3,$4,$5,now())
			ON CONFLICT (user_id, directory_path) DO UPDATE SET
				directory_etag = EXCLUDED.directory_etag,
				file_count = EXCLUDED.file_count,
				total_size_bytes = EXCLUDED.total_size_bytes,
				last_scanned_at = now()
		`, dir.UserID, dir.DirectoryPath, dir.DirectoryETag, dir.FileCount, dir.TotalSizeBytes); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM webdav_directory_state
			WHERE user_id = $1
			  AND directory_path LIKE $2 || '/%'
			  AND directory_path NOT LIKE $2 || '/%/%'
			  AND NOT (directory_path = ANY($3))
		`, dir.UserID, strings.TrimSuffix(dir.DirectoryPath, "/"), seenChildPaths); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// FileState looks up the recorded state for a single file path.
func (s *Store) FileState(ctx context.Context, userID uuid.UUID, filePath string) (*FileState, error) {
	var f FileState
	err := s.retryDo(ctx, "syncengine.file_state", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `
			SELECT user_id, webdav_path, etag, last_modified, size, mime_type, document_id, sync_status, sync_error
			FROM webdav_file_state WHERE user_id = $1 AND webdav_path = $2
		`, userID, filePath).Scan(&f.UserID, &f.Path, &f.ETag, &f.LastModified, &f.Size, &f.MimeType, &f.DocumentID, &f.SyncStatus, &f.SyncError)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// UpsertFileState records a file's outcome, keyed on (user_id, webdav_path)
// matching the directory state's race-safe upsert shape.
func (s *Store) UpsertFileState(ctx context.Context, f FileState) error {
	return s.retryDo(ctx, "syncengine.upsert_file_state", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO webdav_file_state (user_id, webdav_path, etag, last_modified, size, mime_type, document_id, sync_status, sync_error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (user_id, webdav_path) DO UPDATE SET
				etag = EXCLUDED.etag, last_modified = EXCLUDED.last_modified,
				size = EXCLUDED.size, mime_type = EXCLUDED.mime_type,
				document_id = EXCLUDED.document_id, sync_status = EXCLUDED.sync_status,
				sync_error = EXCLUDED.sync_error
		`, f.UserID, f.Path, f.ETag, f.LastModified, f.Size, f.MimeType, f.DocumentID, f.SyncStatus, f.SyncError)
		return err
	})
}

// SyncState reads the resumability row for a user, returning nil if none
// exists yet.
func (s *Store) SyncState(ctx context.Context, userID uuid.UUID) (*SyncState, error) {
	var st SyncState
	err := s.retryDo(ctx, "syncengine.sync_state", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, `
			SELECT user_id, running, last_cursor, current_folder, files_processed, dirs_processed, errors, updated_at
			FROM webdav_sync_state WHERE user_id = $1
		`, userID).Scan(&st.UserID, &st.Running, &st.LastCursor, &st.CurrentFolder, &st.FilesProcessed, &st.DirsProcessed, &st.Errors, &st.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// UpsertSyncState records resumability progress for userID, spec.md
// section 4.2.
func (s *Store) UpsertSyncState(ctx context.Context, st SyncState) error {
	return s.retryDo(ctx, "syncengine.upsert_sync_state", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO webdav_sync_state (user_id, running, last_cursor, current_folder, files_processed, dirs_processed, errors, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,now())
			ON CONFLICT (user_id) DO UPDATE SET
				running = EXCLUDED.running, last_cursor = EXCLUDED.last_cursor,
				current_folder = EXCLUDED.current_folder, files_processed = EXCLUDED.files_processed,
				dirs_processed = EXCLUDED.dirs_processed, errors = EXCLUDED.errors, updated_at = now()
		`, st.UserID, st.Running, st.LastCursor, st.CurrentFolder, st.FilesProcessed, st.DirsProcessed, st.Errors)
		return err
	})
}

// parentPath returns the directory a path lives in, using "/" semantics
// regardless of OS (WebDAV/S3 paths are always slash-separated).
func parentPath(p string) string {
	return path.Dir(strings.TrimSuffix(p, "/"))
}
