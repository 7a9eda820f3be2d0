package engine

import (
	"context"
	"fmt"
	"strings"

	"docuvault/engine/internal/capability"
	"docuvault/engine/internal/store"
	"docuvault/engine/internal/util"
)

// CreateDocumentInput carries everything needed to create a document with
// its initial version.
type CreateDocumentInput struct {
	ProjectID        string
	FolderID         *string
	Name             string
	Content          []byte
	IsPublic         bool
	RequiresApproval bool
	AutoReleaseHours int
}

// CreateDocument stores the initial content, creates the document with
// version 1.0, and grants the creator the full owner capability set. The
// three writes land in one transaction.
func (s *Service) CreateDocument(ctx context.Context, actor string, in CreateDocumentInput) (store.Document, error) {
	if strings.TrimSpace(in.Name) == "" {
		return store.Document{}, invalid("empty_name", "document name must not be empty")
	}
	if in.ProjectID == "" {
		return store.Document{}, invalid("empty_project", "document must belong to a project")
	}
	if len(in.Content) == 0 {
		return store.Document{}, invalid("empty_content", "document content must not be empty")
	}

	pointer, err := s.blobs.Put(ctx, in.Content)
	if err != nil {
		return store.Document{}, fmt.Errorf("store content: %w", err)
	}

	now := s.now()
	hours := in.AutoReleaseHours
	if hours <= 0 {
		hours = s.defaultAutoReleaseHours
	}
	doc := store.Document{
		ID:               util.NewID("doc"),
		ProjectID:        in.ProjectID,
		FolderID:         in.FolderID,
		Name:             strings.TrimSpace(in.Name),
		Content:          pointer,
		CurrentLabel:     FirstLabel().String(),
		IsPublic:         in.IsPublic,
		RequiresApproval: in.RequiresApproval,
		AutoReleaseHours: hours,
		RecordVersion:    1,
		CreatedBy:        actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	version := store.VersionRecord{
		ID:         util.NewID("ver"),
		DocumentID: doc.ID,
		Label:      doc.CurrentLabel,
		ChangeKind: store.ChangeCreated,
		Content:    pointer,
		Author:     actor,
		IsCurrent:  true,
		CreatedAt:  now,
	}
	ownerGrant := store.Grant{
		ID:           util.NewID("grt"),
		DocumentID:   &doc.ID,
		UserID:       actor,
		Capabilities: uint16(capability.All),
		Active:       true,
		GrantedBy:    actor,
		GrantedAt:    now,
		GrantReason:  "document owner",
	}
	if err := s.store.CreateDocument(ctx, doc, version, ownerGrant); err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}

	s.audit(ctx, "document.create", actor, doc.ID, "", map[string]any{
		"name":    doc.Name,
		"project": doc.ProjectID,
	})
	return doc, nil
}

// GetDocument returns the document to a caller holding read access.
func (s *Service) GetDocument(ctx context.Context, userID, documentID string) (store.Document, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Read); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// GetDocumentContent fetches the current content snapshot from the blob
// store. Download is a distinct capability from read: a user may see the
// document's metadata without being allowed to pull its bytes.
func (s *Service) GetDocumentContent(ctx context.Context, userID, documentID string) ([]byte, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Download); err != nil {
		return nil, err
	}
	content, err := s.blobs.Get(ctx, doc.Content.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}
	return content, nil
}

// RenameDocument updates the document's name under optimistic concurrency:
// the caller presents the record version it read, and a mismatch means
// someone else updated the metadata in between.
func (s *Service) RenameDocument(ctx context.Context, userID, documentID, name string, recordVersion int64) error {
	if strings.TrimSpace(name) == "" {
		return invalid("empty_name", "document name must not be empty")
	}
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Write); err != nil {
		return err
	}

	updated, err := s.store.UpdateDocumentName(ctx, doc.ID, strings.TrimSpace(name), recordVersion)
	if err != nil {
		return fmt.Errorf("rename document: %w", err)
	}
	if !updated {
		return conflict(CodeStaleRecord, "document metadata changed since it was read")
	}

	s.audit(ctx, "document.rename", userID, doc.ID, "", map[string]any{
		"from": doc.Name,
		"to":   strings.TrimSpace(name),
	})
	return nil
}

// SoftDeleteDocument marks the document deleted without dropping its rows.
// A checked-out document must be released first.
func (s *Service) SoftDeleteDocument(ctx context.Context, userID, documentID, reason string) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Delete); err != nil {
		return err
	}
	if doc.LockedBy != nil {
		return conflict(CodeAlreadyCheckedOut,
			fmt.Sprintf("document is checked out by %s", *doc.LockedBy))
	}

	deleted, err := s.store.SoftDeleteDocument(ctx, doc.ID, userID, reason, s.now())
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if !deleted {
		return notFound("document_not_found", "document was deleted concurrently")
	}

	s.audit(ctx, "document.delete", userID, doc.ID, "", map[string]any{"reason": reason})
	s.invalidatePermissions(ctx, doc.ID)
	return nil
}
