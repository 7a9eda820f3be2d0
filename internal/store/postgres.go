package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const documentColumns = `
	id, project_id, folder_id, name,
	blob_key, size_bytes, content_hash, current_label,
	is_public, is_read_only, requires_approval, approval_state,
	locked_by, lock_acquired_at, lock_expected_release_at, auto_release_hours,
	deleted_at, deleted_by, delete_reason,
	record_version, created_by, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID, &item.ProjectID, &item.FolderID, &item.Name,
		&item.Content.BlobKey, &item.Content.SizeBytes, &item.Content.Hash, &item.CurrentLabel,
		&item.IsPublic, &item.IsReadOnly, &item.RequiresApproval, &item.ApprovalState,
		&item.LockedBy, &item.LockAcquiredAt, &item.LockExpectedReleaseAt, &item.AutoReleaseHours,
		&item.DeletedAt, &item.DeletedBy, &item.DeleteReason,
		&item.RecordVersion, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

// GetDocument returns a live document; soft-deleted documents are hidden
// from every active query and surface as sql.ErrNoRows.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID)
	item, err := scanDocument(row)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

// CreateDocument inserts the document together with its first version record
// and the creator's owner grant in one transaction.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, initial VersionRecord, owner Grant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (
			id, project_id, folder_id, name,
			blob_key, size_bytes, content_hash, current_label,
			is_public, is_read_only, requires_approval, approval_state,
			auto_release_hours, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		doc.ID, doc.ProjectID, doc.FolderID, doc.Name,
		doc.Content.BlobKey, doc.Content.SizeBytes, doc.Content.Hash, doc.CurrentLabel,
		doc.IsPublic, doc.IsReadOnly, doc.RequiresApproval, doc.ApprovalState,
		doc.AutoReleaseHours, doc.CreatedBy,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if err := insertVersionTx(ctx, tx, initial); err != nil {
		return err
	}

	if err := insertGrantTx(ctx, tx, owner); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

// UpdateDocumentName applies a metadata update guarded by the record version
// counter. A false return means the stored version no longer matches.
func (s *PostgresStore) UpdateDocumentName(ctx context.Context, documentID, name string, expectedRecordVersion int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET name=$2, record_version=record_version+1, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND record_version=$3
	`, documentID, name, expectedRecordVersion)
	if err != nil {
		return false, fmt.Errorf("update document name: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document name rows: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, documentID, actor, reason string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET deleted_at=$4, deleted_by=$2, delete_reason=$3, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID, actor, reason, at)
	if err != nil {
		return false, fmt.Errorf("soft delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete document rows: %w", err)
	}
	return rows > 0, nil
}

// AcquireLock transitions a document to Locked only if it is currently
// unlocked; the conditional update is the row-level serialization point.
func (s *PostgresStore) AcquireLock(ctx context.Context, documentID, holder string, acquiredAt, expectedReleaseAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET locked_by=$2, lock_acquired_at=$3, lock_expected_release_at=$4, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND locked_by IS NULL
	`, documentID, holder, acquiredAt, expectedReleaseAt)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows: %w", err)
	}
	return rows > 0, nil
}

// ReleaseLock clears the lock. With a non-empty holder only that holder's
// lock is released; an empty holder releases unconditionally (force path).
func (s *PostgresStore) ReleaseLock(ctx context.Context, documentID, holder string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET locked_by=NULL, lock_acquired_at=NULL, lock_expected_release_at=NULL, updated_at=NOW()
		WHERE id=$1 AND locked_by IS NOT NULL AND ($2 = '' OR locked_by=$2)
	`, documentID, holder)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock rows: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ListOverdueCheckouts(ctx context.Context, now time.Time) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE deleted_at IS NULL
			AND locked_by IS NOT NULL
			AND auto_release_hours > 0
			AND lock_expected_release_at <= $1
		ORDER BY lock_expected_release_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue checkouts: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue checkout: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue checkouts: %w", err)
	}
	return items, nil
}

const grantColumns = `
	id, document_id, folder_id, user_id, role_name,
	capabilities, expires_at,
	active, revoked_by, revoked_at, revoke_reason,
	granted_by, granted_at, grant_reason
`

func scanGrant(row rowScanner) (Grant, error) {
	var item Grant
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.FolderID, &item.UserID, &item.RoleName,
		&item.Capabilities, &item.ExpiresAt,
		&item.Active, &item.RevokedBy, &item.RevokedAt, &item.RevokeReason,
		&item.GrantedBy, &item.GrantedAt, &item.GrantReason,
	)
	return item, err
}

func (s *PostgresStore) GetGrant(ctx context.Context, grantID string) (Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM permission_grants
		WHERE id=$1
	`, grantID)
	item, err := scanGrant(row)
	if err != nil {
		return Grant{}, err
	}
	return item, nil
}

// FindActiveDocumentGrant locates the single active grant for an exact
// (document, principal) pair. Nil without error when no such grant exists.
func (s *PostgresStore) FindActiveDocumentGrant(ctx context.Context, documentID, userID, roleName string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM permission_grants
		WHERE document_id=$1 AND user_id=$2 AND role_name=$3 AND active
	`, documentID, userID, roleName)
	item, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active grant: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) ListActiveDocumentGrants(ctx context.Context, documentID string, now time.Time) ([]Grant, error) {
	return s.listActiveGrants(ctx, `document_id`, documentID, now)
}

func (s *PostgresStore) ListActiveFolderGrants(ctx context.Context, folderID string, now time.Time) ([]Grant, error) {
	return s.listActiveGrants(ctx, `folder_id`, folderID, now)
}

func (s *PostgresStore) listActiveGrants(ctx context.Context, column, resourceID string, now time.Time) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+grantColumns+`
		FROM permission_grants
		WHERE `+column+`=$1 AND active AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY granted_at ASC
	`, resourceID, now)
	if err != nil {
		return nil, fmt.Errorf("list active grants: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		item, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertGrant(ctx context.Context, grant Grant) error {
	return insertGrant(ctx, s.db, grant)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertGrant(ctx context.Context, db execer, grant Grant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO permission_grants (
			id, document_id, folder_id, user_id, role_name,
			capabilities, expires_at, active,
			granted_by, granted_at, grant_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10)
	`,
		grant.ID, grant.DocumentID, grant.FolderID, grant.UserID, grant.RoleName,
		grant.Capabilities, grant.ExpiresAt,
		grant.GrantedBy, grant.GrantedAt, grant.GrantReason,
	)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func insertGrantTx(ctx context.Context, tx *sql.Tx, grant Grant) error {
	return insertGrant(ctx, tx, grant)
}

// UpdateGrant overwrites the capability bits, expiry, and provenance of an
// existing grant row in place (the upsert path of GrantPermission).
func (s *PostgresStore) UpdateGrant(ctx context.Context, grantID string, capabilities uint16, expiresAt *time.Time, grantedBy, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE permission_grants
		SET capabilities=$2, expires_at=$3, granted_by=$4, grant_reason=$5, granted_at=$6,
			active=TRUE, revoked_by='', revoked_at=NULL, revoke_reason=''
		WHERE id=$1
	`, grantID, capabilities, expiresAt, grantedBy, reason, at)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return nil
}

// RevokeGrant marks the grant inactive; revoked rows are retained for audit.
func (s *PostgresStore) RevokeGrant(ctx context.Context, grantID, actor, reason string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE permission_grants
		SET active=FALSE, revoked_by=$2, revoked_at=$4, revoke_reason=$3
		WHERE id=$1 AND active
	`, grantID, actor, reason, at)
	if err != nil {
		return false, fmt.Errorf("revoke grant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke grant rows: %w", err)
	}
	return rows > 0, nil
}

// ExpireGrants deactivates every grant whose expiry has passed and returns
// how many rows were affected.
func (s *PostgresStore) ExpireGrants(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE permission_grants
		SET active=FALSE, revoked_by='system', revoked_at=$1, revoke_reason='expired'
		WHERE active AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire grants: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire grants rows: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, parent_id, name
		FROM folders
		WHERE id=$1
	`, folderID).Scan(&item.ID, &item.ProjectID, &item.ParentID, &item.Name)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

const versionColumns = `
	id, document_id, label, change_kind,
	blob_key, size_bytes, content_hash,
	notes, author, is_current, created_at
`

func scanVersion(row rowScanner) (VersionRecord, error) {
	var item VersionRecord
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.Label, &item.ChangeKind,
		&item.Content.BlobKey, &item.Content.SizeBytes, &item.Content.Hash,
		&item.Notes, &item.Author, &item.IsCurrent, &item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetCurrentVersion(ctx context.Context, documentID string) (VersionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM version_records
		WHERE document_id=$1 AND is_current
	`, documentID)
	item, err := scanVersion(row)
	if err != nil {
		return VersionRecord{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetVersionByLabel(ctx context.Context, documentID, label string) (VersionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM version_records
		WHERE document_id=$1 AND label=$2
	`, documentID, label)
	item, err := scanVersion(row)
	if err != nil {
		return VersionRecord{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM version_records
		WHERE document_id=$1
		ORDER BY created_at ASC, label ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]VersionRecord, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func insertVersionTx(ctx context.Context, tx *sql.Tx, rec VersionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO version_records (
			id, document_id, label, change_kind,
			blob_key, size_bytes, content_hash,
			notes, author, is_current, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.DocumentID, rec.Label, rec.ChangeKind,
		rec.Content.BlobKey, rec.Content.SizeBytes, rec.Content.Hash,
		rec.Notes, rec.Author, rec.IsCurrent, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// AppendVersion flips the previous current marker off, inserts the new
// current record, and refreshes the document's cached snapshot in a single
// transaction. This is the one commit boundary that serializes concurrent
// checkins on the same document.
func (s *PostgresStore) AppendVersion(ctx context.Context, rec VersionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE version_records SET is_current=FALSE
		WHERE document_id=$1 AND is_current
	`, rec.DocumentID); err != nil {
		return fmt.Errorf("clear current version: %w", err)
	}

	if err := insertVersionTx(ctx, tx, rec); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET blob_key=$2, size_bytes=$3, content_hash=$4, current_label=$5, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, rec.DocumentID, rec.Content.BlobKey, rec.Content.SizeBytes, rec.Content.Hash, rec.Label)
	if err != nil {
		return fmt.Errorf("update document snapshot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document snapshot rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append version: %w", err)
	}
	return nil
}

// GetProjectMember returns nil without error when the user is not a member.
func (s *PostgresStore) GetProjectMember(ctx context.Context, projectID, userID string) (*ProjectMember, error) {
	var item ProjectMember
	var rolesRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, user_id, is_manager, roles
		FROM project_members
		WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&item.ProjectID, &item.UserID, &item.IsManager, &rolesRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project member: %w", err)
	}
	if len(rolesRaw) > 0 {
		_ = json.Unmarshal(rolesRaw, &item.Roles)
	}
	return &item, nil
}

func (s *PostgresStore) UpsertProjectMember(ctx context.Context, member ProjectMember) error {
	encodedRoles, err := json.Marshal(member.Roles)
	if err != nil {
		return fmt.Errorf("encode member roles: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, is_manager, roles)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id) DO UPDATE SET is_manager=EXCLUDED.is_manager, roles=EXCLUDED.roles
	`, member.ProjectID, member.UserID, member.IsManager, string(encodedRoles)); err != nil {
		return fmt.Errorf("upsert project member: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor, document_id, subject_id, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, event.EventType, event.Actor, event.DocumentID, event.SubjectID, string(encoded)); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
