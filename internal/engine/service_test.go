package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"docuvault/engine/internal/store"
)

type fakeStore struct {
	getDocumentFn             func(context.Context, string) (store.Document, error)
	createDocumentFn          func(context.Context, store.Document, store.VersionRecord, store.Grant) error
	updateDocumentNameFn      func(context.Context, string, string, int64) (bool, error)
	softDeleteDocumentFn      func(context.Context, string, string, string, time.Time) (bool, error)
	acquireLockFn             func(context.Context, string, string, time.Time, time.Time) (bool, error)
	releaseLockFn             func(context.Context, string, string) (bool, error)
	listOverdueCheckoutsFn    func(context.Context, time.Time) ([]store.Document, error)
	getGrantFn                func(context.Context, string) (store.Grant, error)
	findActiveDocumentGrantFn func(context.Context, string, string, string) (*store.Grant, error)
	listDocumentGrantsFn      func(context.Context, string, time.Time) ([]store.Grant, error)
	listFolderGrantsFn        func(context.Context, string, time.Time) ([]store.Grant, error)
	insertGrantFn             func(context.Context, store.Grant) error
	updateGrantFn             func(context.Context, string, uint16, *time.Time, string, string, time.Time) error
	revokeGrantFn             func(context.Context, string, string, string, time.Time) (bool, error)
	expireGrantsFn            func(context.Context, time.Time) (int, error)
	getFolderFn               func(context.Context, string) (store.Folder, error)
	getCurrentVersionFn       func(context.Context, string) (store.VersionRecord, error)
	getVersionByLabelFn       func(context.Context, string, string) (store.VersionRecord, error)
	listVersionsFn            func(context.Context, string) ([]store.VersionRecord, error)
	appendVersionFn           func(context.Context, store.VersionRecord) error
	getProjectMemberFn        func(context.Context, string, string) (*store.ProjectMember, error)
	upsertProjectMemberFn     func(context.Context, store.ProjectMember) error
	insertAuditEventFn        func(context.Context, store.AuditEvent) error

	auditEvents []store.AuditEvent
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) CreateDocument(ctx context.Context, doc store.Document, version store.VersionRecord, grant store.Grant) error {
	if f.createDocumentFn != nil {
		return f.createDocumentFn(ctx, doc, version, grant)
	}
	return nil
}

func (f *fakeStore) UpdateDocumentName(ctx context.Context, id, name string, recordVersion int64) (bool, error) {
	if f.updateDocumentNameFn != nil {
		return f.updateDocumentNameFn(ctx, id, name, recordVersion)
	}
	return true, nil
}

func (f *fakeStore) SoftDeleteDocument(ctx context.Context, id, deletedBy, reason string, at time.Time) (bool, error) {
	if f.softDeleteDocumentFn != nil {
		return f.softDeleteDocumentFn(ctx, id, deletedBy, reason, at)
	}
	return true, nil
}

func (f *fakeStore) AcquireLock(ctx context.Context, id, userID string, at, expectedRelease time.Time) (bool, error) {
	if f.acquireLockFn != nil {
		return f.acquireLockFn(ctx, id, userID, at, expectedRelease)
	}
	return true, nil
}

func (f *fakeStore) ReleaseLock(ctx context.Context, id, holder string) (bool, error) {
	if f.releaseLockFn != nil {
		return f.releaseLockFn(ctx, id, holder)
	}
	return true, nil
}

func (f *fakeStore) ListOverdueCheckouts(ctx context.Context, at time.Time) ([]store.Document, error) {
	if f.listOverdueCheckoutsFn != nil {
		return f.listOverdueCheckoutsFn(ctx, at)
	}
	return nil, nil
}

func (f *fakeStore) GetGrant(ctx context.Context, id string) (store.Grant, error) {
	if f.getGrantFn != nil {
		return f.getGrantFn(ctx, id)
	}
	return store.Grant{}, sql.ErrNoRows
}

func (f *fakeStore) FindActiveDocumentGrant(ctx context.Context, documentID, userID, roleName string) (*store.Grant, error) {
	if f.findActiveDocumentGrantFn != nil {
		return f.findActiveDocumentGrantFn(ctx, documentID, userID, roleName)
	}
	return nil, nil
}

func (f *fakeStore) ListActiveDocumentGrants(ctx context.Context, documentID string, at time.Time) ([]store.Grant, error) {
	if f.listDocumentGrantsFn != nil {
		return f.listDocumentGrantsFn(ctx, documentID, at)
	}
	return nil, nil
}

func (f *fakeStore) ListActiveFolderGrants(ctx context.Context, folderID string, at time.Time) ([]store.Grant, error) {
	if f.listFolderGrantsFn != nil {
		return f.listFolderGrantsFn(ctx, folderID, at)
	}
	return nil, nil
}

func (f *fakeStore) InsertGrant(ctx context.Context, grant store.Grant) error {
	if f.insertGrantFn != nil {
		return f.insertGrantFn(ctx, grant)
	}
	return nil
}

func (f *fakeStore) UpdateGrant(ctx context.Context, id string, capabilities uint16, expiresAt *time.Time, grantedBy, reason string, at time.Time) error {
	if f.updateGrantFn != nil {
		return f.updateGrantFn(ctx, id, capabilities, expiresAt, grantedBy, reason, at)
	}
	return nil
}

func (f *fakeStore) RevokeGrant(ctx context.Context, id, revokedBy, reason string, at time.Time) (bool, error) {
	if f.revokeGrantFn != nil {
		return f.revokeGrantFn(ctx, id, revokedBy, reason, at)
	}
	return true, nil
}

func (f *fakeStore) ExpireGrants(ctx context.Context, at time.Time) (int, error) {
	if f.expireGrantsFn != nil {
		return f.expireGrantsFn(ctx, at)
	}
	return 0, nil
}

func (f *fakeStore) GetFolder(ctx context.Context, id string) (store.Folder, error) {
	if f.getFolderFn != nil {
		return f.getFolderFn(ctx, id)
	}
	return store.Folder{}, sql.ErrNoRows
}

func (f *fakeStore) GetCurrentVersion(ctx context.Context, documentID string) (store.VersionRecord, error) {
	if f.getCurrentVersionFn != nil {
		return f.getCurrentVersionFn(ctx, documentID)
	}
	return store.VersionRecord{}, sql.ErrNoRows
}

func (f *fakeStore) GetVersionByLabel(ctx context.Context, documentID, label string) (store.VersionRecord, error) {
	if f.getVersionByLabelFn != nil {
		return f.getVersionByLabelFn(ctx, documentID, label)
	}
	return store.VersionRecord{}, sql.ErrNoRows
}

func (f *fakeStore) ListVersions(ctx context.Context, documentID string) ([]store.VersionRecord, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) AppendVersion(ctx context.Context, record store.VersionRecord) error {
	if f.appendVersionFn != nil {
		return f.appendVersionFn(ctx, record)
	}
	return nil
}

func (f *fakeStore) GetProjectMember(ctx context.Context, projectID, userID string) (*store.ProjectMember, error) {
	if f.getProjectMemberFn != nil {
		return f.getProjectMemberFn(ctx, projectID, userID)
	}
	return nil, nil
}

func (f *fakeStore) UpsertProjectMember(ctx context.Context, member store.ProjectMember) error {
	if f.upsertProjectMemberFn != nil {
		return f.upsertProjectMemberFn(ctx, member)
	}
	return nil
}

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	f.auditEvents = append(f.auditEvents, event)
	if f.insertAuditEventFn != nil {
		return f.insertAuditEventFn(ctx, event)
	}
	return nil
}

// fakeBlobs is an in-memory content-addressed blob store.
type fakeBlobs struct {
	objects map[string][]byte
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(_ context.Context, content []byte) (store.ContentPointer, error) {
	if f.putErr != nil {
		return store.ContentPointer{}, f.putErr
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	key := "sha256/" + hash
	f.objects[key] = append([]byte(nil), content...)
	return store.ContentPointer{BlobKey: key, SizeBytes: int64(len(content)), Hash: hash}, nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return content, nil
}

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestService(fs *fakeStore) (*Service, *fakeBlobs) {
	blobs := newFakeBlobs()
	service := &Service{
		store:                   fs,
		blobs:                   blobs,
		defaultAutoReleaseHours: 24,
		now:                     func() time.Time { return testNow },
	}
	return service, blobs
}

func strPtr(s string) *string        { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func lastAudit(fs *fakeStore) (store.AuditEvent, bool) {
	if len(fs.auditEvents) == 0 {
		return store.AuditEvent{}, false
	}
	return fs.auditEvents[len(fs.auditEvents)-1], true
}
