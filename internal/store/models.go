package store

import "time"

// ContentPointer locates a content snapshot in the blob store.
type ContentPointer struct {
	BlobKey   string
	SizeBytes int64
	Hash      string
}

// Document is the managed file aggregate. Lock fields are owned by the
// engine's checkout/checkin paths; nothing else writes them.
type Document struct {
	ID               string
	ProjectID        string
	FolderID         *string
	Name             string
	Content          ContentPointer
	CurrentLabel     string
	IsPublic         bool
	IsReadOnly       bool
	RequiresApproval bool
	ApprovalState    string

	LockedBy              *string
	LockAcquiredAt        *time.Time
	LockExpectedReleaseAt *time.Time
	AutoReleaseHours      int

	DeletedAt    *time.Time
	DeletedBy    string
	DeleteReason string

	// RecordVersion is the optimistic-concurrency counter for metadata updates.
	RecordVersion int64

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Folder struct {
	ID        string
	ProjectID string
	ParentID  *string
	Name      string
}

// Grant targets exactly one resource (document or folder) and exactly one
// principal (user id or role name).
type Grant struct {
	ID         string
	DocumentID *string
	FolderID   *string

	UserID   string
	RoleName string

	Capabilities uint16
	ExpiresAt    *time.Time

	Active       bool
	RevokedBy    string
	RevokedAt    *time.Time
	RevokeReason string

	GrantedBy   string
	GrantedAt   time.Time
	GrantReason string
}

// Change kinds for version records.
const (
	ChangeCreated  = "Created"
	ChangeModified = "Modified"
	ChangeRestored = "Restored"
	ChangeMoved    = "Moved"
	ChangeCopied   = "Copied"
)

type VersionRecord struct {
	ID         string
	DocumentID string
	Label      string
	ChangeKind string
	Content    ContentPointer
	Notes      string
	Author     string
	IsCurrent  bool
	CreatedAt  time.Time
}

type ProjectMember struct {
	ProjectID string
	UserID    string
	IsManager bool
	Roles     []string
}

type AuditEvent struct {
	ID         int64
	EventType  string
	Actor      string
	DocumentID string
	SubjectID  string
	Payload    map[string]any
	CreatedAt  time.Time
}
