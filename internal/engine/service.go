// Package engine implements the document lifecycle core: permission
// resolution, the exclusive checkout/checkin lock, and the append-only
// version chain. It is a library-level engine; transport, persistence
// technology, and scheduling are collaborators behind narrow interfaces.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docuvault/engine/internal/blob"
	"docuvault/engine/internal/permcache"
	"docuvault/engine/internal/store"
)

// SystemActor is the sentinel principal recorded for sweep-driven actions.
const SystemActor = "system"

type dataStore interface {
	GetDocument(context.Context, string) (store.Document, error)
	CreateDocument(context.Context, store.Document, store.VersionRecord, store.Grant) error
	UpdateDocumentName(context.Context, string, string, int64) (bool, error)
	SoftDeleteDocument(context.Context, string, string, string, time.Time) (bool, error)
	AcquireLock(context.Context, string, string, time.Time, time.Time) (bool, error)
	ReleaseLock(context.Context, string, string) (bool, error)
	ListOverdueCheckouts(context.Context, time.Time) ([]store.Document, error)

	GetGrant(context.Context, string) (store.Grant, error)
	FindActiveDocumentGrant(context.Context, string, string, string) (*store.Grant, error)
	ListActiveDocumentGrants(context.Context, string, time.Time) ([]store.Grant, error)
	ListActiveFolderGrants(context.Context, string, time.Time) ([]store.Grant, error)
	InsertGrant(context.Context, store.Grant) error
	UpdateGrant(context.Context, string, uint16, *time.Time, string, string, time.Time) error
	RevokeGrant(context.Context, string, string, string, time.Time) (bool, error)
	ExpireGrants(context.Context, time.Time) (int, error)

	GetFolder(context.Context, string) (store.Folder, error)

	GetCurrentVersion(context.Context, string) (store.VersionRecord, error)
	GetVersionByLabel(context.Context, string, string) (store.VersionRecord, error)
	ListVersions(context.Context, string) ([]store.VersionRecord, error)
	AppendVersion(context.Context, store.VersionRecord) error

	GetProjectMember(context.Context, string, string) (*store.ProjectMember, error)
	UpsertProjectMember(context.Context, store.ProjectMember) error
	InsertAuditEvent(context.Context, store.AuditEvent) error
}

type blobStore interface {
	Put(context.Context, []byte) (store.ContentPointer, error)
	Get(context.Context, string) ([]byte, error)
}

type permissionCache interface {
	Get(ctx context.Context, documentID, userID string) (permcache.Entry, bool, error)
	Set(ctx context.Context, documentID, userID string, entry permcache.Entry) error
	InvalidateDocument(ctx context.Context, documentID string) error
}

type Service struct {
	store dataStore
	blobs blobStore
	cache permissionCache

	defaultAutoReleaseHours int
	now                     func() time.Time
}

func New(dataStore *store.PostgresStore, blobs *blob.MinioStore, defaultAutoReleaseHours int) *Service {
	return &Service{
		store:                   dataStore,
		blobs:                   blobs,
		defaultAutoReleaseHours: defaultAutoReleaseHours,
		now:                     time.Now,
	}
}

func NewWithCache(dataStore *store.PostgresStore, blobs *blob.MinioStore, cache *permcache.RedisCache, defaultAutoReleaseHours int) *Service {
	service := New(dataStore, blobs, defaultAutoReleaseHours)
	service.cache = cache
	return service
}

// getDocument maps a missing (or soft-deleted) document to NotFound; every
// mutating operation goes through it.
func (s *Service) getDocument(ctx context.Context, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("document_not_found", "document does not exist")
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}

// audit appends an event to the audit sink. Audit failures never abort the
// operation that produced them.
func (s *Service) audit(ctx context.Context, eventType, actor, documentID, subjectID string, payload map[string]any) {
	_ = s.store.InsertAuditEvent(ctx, store.AuditEvent{
		EventType:  eventType,
		Actor:      actor,
		DocumentID: documentID,
		SubjectID:  subjectID,
		Payload:    payload,
	})
}

func (s *Service) invalidatePermissions(ctx context.Context, documentID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.InvalidateDocument(ctx, documentID)
}
