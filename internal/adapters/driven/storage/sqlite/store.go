package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/mediasync-cli/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/mediasync-cli/internal/core/domain"
	"github.com/custodia-labs/mediasync-cli/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// all metadata store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.mediasync/data/metadata.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".mediasync", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ScopeStore returns a ScopeStore interface backed by this store.
func (s *Store) ScopeStore() driven.ScopeStore {
	return &scopeStore{store: s}
}

// StateStore returns a StateStore interface backed by this store.
func (s *Store) StateStore() driven.StateStore {
	return &stateStore{store: s}
}

// SchedulerStore returns a SchedulerStore interface backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Scope Store ====================

// scopeStore implements driven.ScopeStore.
type scopeStore struct {
	store *Store
}

var _ driven.ScopeStore = (*scopeStore)(nil)

// Save stores or updates a scope.
func (s *scopeStore) Save(ctx context.Context, scope domain.SyncScope) error {
	if scope.ID == "" {
		return domain.ErrInvalidInput
	}

	configJSON, err := json.Marshal(scope.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if scope.CreatedAt.IsZero() {
		scope.CreatedAt = now
	}
	scope.UpdatedAt = now
	if scope.Status == "" {
		scope.Status = domain.ScopeIdle
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sync_scopes
			(id, name, source_type, config, status, last_sync, version_token,
			 total_indexed, total_skipped, total_failed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			source_type = excluded.source_type,
			config = excluded.config,
			status = excluded.status,
			last_sync = excluded.last_sync,
			version_token = excluded.version_token,
			total_indexed = excluded.total_indexed,
			total_skipped = excluded.total_skipped,
			total_failed = excluded.total_failed,
			updated_at = excluded.updated_at
	`, scope.ID, scope.Name, scope.SourceType, string(configJSON), string(scope.Status),
		formatNullableTime(scope.LastSync), nullString(scope.VersionToken),
		scope.TotalIndexed, scope.TotalSkipped, scope.TotalFailed,
		scope.CreatedAt, scope.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving scope: %w", err)
	}
	return nil
}

// Get retrieves a scope by ID.
func (s *scopeStore) Get(ctx context.Context, id string) (*domain.SyncScope, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, name, source_type, config, status, last_sync, version_token,
		       total_indexed, total_skipped, total_failed, created_at, updated_at
		FROM sync_scopes WHERE id = ?
	`, id)

	return scanScope(row)
}

// List returns all configured scopes.
func (s *scopeStore) List(ctx context.Context) ([]domain.SyncScope, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, name, source_type, config, status, last_sync, version_token,
		       total_indexed, total_skipped, total_failed, created_at, updated_at
		FROM sync_scopes
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying scopes: %w", err)
	}
	defer rows.Close()

	var scopes []domain.SyncScope //nolint:prealloc // size unknown from query
	for rows.Next() {
		scope, err := scanScopeRows(rows)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, *scope)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scopes: %w", err)
	}

	return scopes, nil
}

// Delete removes a scope. Processing records go with it via the
// ON DELETE CASCADE foreign key.
func (s *scopeStore) Delete(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM sync_scopes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scope: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStatus updates only the scope's status.
func (s *scopeStore) SetStatus(ctx context.Context, id string, status domain.ScopeStatus) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sync_scopes SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating scope status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ==================== State Store ====================

// stateStore implements driven.StateStore.
type stateStore struct {
	store *Store
}

var _ driven.StateStore = (*stateStore)(nil)

// LastSyncTime returns the scope's cursor, or nil if never synced.
func (s *stateStore) LastSyncTime(ctx context.Context, scopeID string) (*time.Time, error) {
	var lastSync sql.NullString
	err := s.store.db.QueryRowContext(ctx,
		"SELECT last_sync FROM sync_scopes WHERE id = ?", scopeID).Scan(&lastSync)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last sync: %w", err)
	}

	t := parseNullableTime(lastSync)
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

// NeedsReprocessing reports whether the item should be processed.
func (s *stateStore) NeedsReprocessing(ctx context.Context, itemID string, currentModifiedAt time.Time) (bool, error) {
	var stored sql.NullString
	err := s.store.db.QueryRowContext(ctx,
		"SELECT source_modified_at FROM processing_records WHERE item_id = ?", itemID).Scan(&stored)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying processing record: %w", err)
	}

	// Failed records store no modified time, which reads back as zero and
	// always compares older, so the item is retried.
	return parseNullableTime(stored).Before(currentModifiedAt), nil
}

// MarkProcessed records an indexed item.
func (s *stateStore) MarkProcessed(ctx context.Context, itemID, scopeID, sinkDocID string, modifiedAt time.Time, judgment *domain.EnrichmentJudgment) error {
	var tags []string
	var category string
	if judgment != nil {
		tags = judgment.Tags
		category = judgment.Category
	}

	return s.upsertRecord(ctx, domain.ProcessingRecord{
		ItemID:           itemID,
		ScopeID:          scopeID,
		Status:           domain.ItemIndexed,
		SinkDocID:        sinkDocID,
		SourceModifiedAt: modifiedAt,
		Tags:             tags,
		Category:         category,
	})
}

// MarkSkipped records a deliberately skipped item. The item's modified
// time is stored so the skip holds until the item changes upstream.
func (s *stateStore) MarkSkipped(ctx context.Context, itemID, scopeID string, reason domain.SkipReason, modifiedAt time.Time) error {
	return s.upsertRecord(ctx, domain.ProcessingRecord{
		ItemID:           itemID,
		ScopeID:          scopeID,
		Status:           domain.ItemSkipped,
		SkipReason:       reason,
		SourceModifiedAt: modifiedAt,
	})
}

// MarkFailed records a transiently failed item with no modified time,
// so the next run picks it up again.
func (s *stateStore) MarkFailed(ctx context.Context, itemID, scopeID string, reason domain.SkipReason) error {
	return s.upsertRecord(ctx, domain.ProcessingRecord{
		ItemID:     itemID,
		ScopeID:    scopeID,
		Status:     domain.ItemFailed,
		SkipReason: reason,
	})
}

// upsertRecord writes a record, replacing any previous outcome for the item.
func (s *stateStore) upsertRecord(ctx context.Context, rec domain.ProcessingRecord) error {
	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO processing_records
			(item_id, scope_id, status, skip_reason, sink_doc_id,
			 source_modified_at, processed_at, tags, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			scope_id = excluded.scope_id,
			status = excluded.status,
			skip_reason = excluded.skip_reason,
			sink_doc_id = excluded.sink_doc_id,
			source_modified_at = excluded.source_modified_at,
			processed_at = excluded.processed_at,
			tags = excluded.tags,
			category = excluded.category
	`, rec.ItemID, rec.ScopeID, string(rec.Status), nullString(string(rec.SkipReason)),
		nullString(rec.SinkDocID), formatNullableTime(rec.SourceModifiedAt),
		time.Now().UTC().Format(time.RFC3339Nano), string(tagsJSON), nullString(rec.Category))

	if err != nil {
		return fmt.Errorf("saving processing record: %w", err)
	}
	return nil
}

// GetRecord returns the record for an item, or ErrNotFound.
func (s *stateStore) GetRecord(ctx context.Context, itemID string) (*domain.ProcessingRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT item_id, scope_id, status, skip_reason, sink_doc_id,
		       source_modified_at, processed_at, tags, category
		FROM processing_records WHERE item_id = ?
	`, itemID)

	return scanRecord(row)
}

// ListRecords returns all records for a scope.
func (s *stateStore) ListRecords(ctx context.Context, scopeID string) ([]domain.ProcessingRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT item_id, scope_id, status, skip_reason, sink_doc_id,
		       source_modified_at, processed_at, tags, category
		FROM processing_records WHERE scope_id = ?
		ORDER BY processed_at
	`, scopeID)
	if err != nil {
		return nil, fmt.Errorf("querying processing records: %w", err)
	}
	defer rows.Close()

	var records []domain.ProcessingRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating processing records: %w", err)
	}

	return records, nil
}

// AdvanceScopeCursor moves the scope cursor and folds the run summary
// into the lifetime counters in a single UPDATE. The increments happen
// inside SQLite, so concurrent runs of other scopes on the same
// database cannot lose updates.
func (s *stateStore) AdvanceScopeCursor(ctx context.Context, scopeID string, snapshot time.Time, versionToken string, summary domain.SyncRunSummary) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sync_scopes SET
			last_sync = ?,
			version_token = CASE WHEN ? != '' THEN ? ELSE version_token END,
			status = ?,
			total_indexed = total_indexed + ?,
			total_skipped = total_skipped + ?,
			total_failed = total_failed + ?,
			updated_at = ?
		WHERE id = ?
	`, formatNullableTime(snapshot), versionToken, versionToken,
		string(summary.Status()),
		summary.Indexed, summary.Skipped, summary.Failed,
		time.Now().UTC(), scopeID)

	if err != nil {
		return fmt.Errorf("advancing scope cursor: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ==================== Helper Functions ====================

// scanScope scans a single scope row.
func scanScope(row *sql.Row) (*domain.SyncScope, error) {
	var scope domain.SyncScope
	var configJSON, status string
	var lastSync, versionToken sql.NullString
	var createdAt, updatedAt sql.NullTime

	if err := row.Scan(&scope.ID, &scope.Name, &scope.SourceType, &configJSON, &status,
		&lastSync, &versionToken,
		&scope.TotalIndexed, &scope.TotalSkipped, &scope.TotalFailed,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning scope: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &scope.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	scope.Status = domain.ScopeStatus(status)
	scope.LastSync = parseNullableTime(lastSync)
	scope.VersionToken = versionToken.String
	if createdAt.Valid {
		scope.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		scope.UpdatedAt = updatedAt.Time
	}

	return &scope, nil
}

// scanScopeRows scans a scope from *sql.Rows.
func scanScopeRows(rows *sql.Rows) (*domain.SyncScope, error) {
	var scope domain.SyncScope
	var configJSON, status string
	var lastSync, versionToken sql.NullString
	var createdAt, updatedAt sql.NullTime

	if err := rows.Scan(&scope.ID, &scope.Name, &scope.SourceType, &configJSON, &status,
		&lastSync, &versionToken,
		&scope.TotalIndexed, &scope.TotalSkipped, &scope.TotalFailed,
		&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scanning scope: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &scope.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	scope.Status = domain.ScopeStatus(status)
	scope.LastSync = parseNullableTime(lastSync)
	scope.VersionToken = versionToken.String
	if createdAt.Valid {
		scope.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		scope.UpdatedAt = updatedAt.Time
	}

	return &scope, nil
}

// scanRecord scans a single processing record row.
func scanRecord(row *sql.Row) (*domain.ProcessingRecord, error) {
	var rec domain.ProcessingRecord
	var status string
	var skipReason, sinkDocID, sourceModifiedAt, tagsJSON, category sql.NullString
	var processedAt string

	if err := row.Scan(&rec.ItemID, &rec.ScopeID, &status, &skipReason, &sinkDocID,
		&sourceModifiedAt, &processedAt, &tagsJSON, &category); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning processing record: %w", err)
	}

	return fillRecord(&rec, status, skipReason, sinkDocID, sourceModifiedAt, processedAt, tagsJSON, category)
}

// scanRecordRows scans a processing record from *sql.Rows.
func scanRecordRows(rows *sql.Rows) (*domain.ProcessingRecord, error) {
	var rec domain.ProcessingRecord
	var status string
	var skipReason, sinkDocID, sourceModifiedAt, tagsJSON, category sql.NullString
	var processedAt string

	if err := rows.Scan(&rec.ItemID, &rec.ScopeID, &status, &skipReason, &sinkDocID,
		&sourceModifiedAt, &processedAt, &tagsJSON, &category); err != nil {
		return nil, fmt.Errorf("scanning processing record: %w", err)
	}

	return fillRecord(&rec, status, skipReason, sinkDocID, sourceModifiedAt, processedAt, tagsJSON, category)
}

// fillRecord converts scanned column values into domain fields.
func fillRecord(rec *domain.ProcessingRecord, status string, skipReason, sinkDocID, sourceModifiedAt sql.NullString, processedAt string, tagsJSON, category sql.NullString) (*domain.ProcessingRecord, error) {
	rec.Status = domain.ItemStatus(status)
	rec.SkipReason = domain.SkipReason(skipReason.String)
	rec.SinkDocID = sinkDocID.String
	rec.SourceModifiedAt = parseNullableTime(sourceModifiedAt)
	rec.Category = category.String

	if t, err := time.Parse(time.RFC3339Nano, processedAt); err == nil {
		rec.ProcessedAt = t
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &rec.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
	}

	return rec, nil
}
