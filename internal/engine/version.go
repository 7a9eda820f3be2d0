package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docuvault/engine/internal/capability"
	"docuvault/engine/internal/store"
	"docuvault/engine/internal/util"
)

// AppendVersion stores new content and appends it to the document's version
// chain as the next label. It never rewrites history: every append produces
// a fresh record and flips currency to it.
func (s *Service) AppendVersion(ctx context.Context, userID, documentID string, content []byte, notes string) (store.VersionRecord, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return store.VersionRecord{}, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Write); err != nil {
		return store.VersionRecord{}, err
	}
	if doc.IsReadOnly {
		return store.VersionRecord{}, conflict("read_only", "document is read-only")
	}
	if doc.LockedBy != nil && *doc.LockedBy != userID {
		return store.VersionRecord{}, conflict(CodeAlreadyCheckedOut,
			fmt.Sprintf("document is checked out by %s", *doc.LockedBy))
	}
	if len(content) == 0 {
		return store.VersionRecord{}, invalid("empty_content", "version content must not be empty")
	}

	pointer, err := s.blobs.Put(ctx, content)
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("store content: %w", err)
	}
	return s.appendVersion(ctx, doc, userID, pointer, store.ChangeModified, notes)
}

// appendVersion computes the next label from the document's current one and
// persists the record. The store flips currency off the previous version and
// refreshes the document snapshot in the same transaction.
func (s *Service) appendVersion(ctx context.Context, doc store.Document, author string, pointer store.ContentPointer, changeKind, notes string) (store.VersionRecord, error) {
	current, err := ParseLabel(doc.CurrentLabel)
	if err != nil {
		return store.VersionRecord{}, invalid("unparsable_version_label",
			fmt.Sprintf("document carries unparsable version label %q", doc.CurrentLabel))
	}

	record := store.VersionRecord{
		ID:         util.NewID("ver"),
		DocumentID: doc.ID,
		Label:      current.Next().String(),
		ChangeKind: changeKind,
		Content:    pointer,
		Notes:      notes,
		Author:     author,
		IsCurrent:  true,
		CreatedAt:  s.now(),
	}
	if err := s.store.AppendVersion(ctx, record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.VersionRecord{}, notFound("document_not_found", "document disappeared during version append")
		}
		return store.VersionRecord{}, fmt.Errorf("append version: %w", err)
	}

	s.audit(ctx, "version.append", author, doc.ID, record.ID, map[string]any{
		"label":       record.Label,
		"change_kind": changeKind,
	})
	return record, nil
}

// RestoreVersion appends a past version's content as a brand-new version at
// the head of the chain. The restored-from record is untouched.
func (s *Service) RestoreVersion(ctx context.Context, userID, documentID, label string) (store.VersionRecord, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return store.VersionRecord{}, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Write); err != nil {
		return store.VersionRecord{}, err
	}
	if doc.LockedBy != nil && *doc.LockedBy != userID {
		return store.VersionRecord{}, conflict(CodeAlreadyCheckedOut,
			fmt.Sprintf("document is checked out by %s", *doc.LockedBy))
	}

	target, err := s.store.GetVersionByLabel(ctx, doc.ID, label)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionRecord{}, notFound("version_not_found",
			fmt.Sprintf("document has no version %s", label))
	}
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("load version: %w", err)
	}

	notes := fmt.Sprintf("Restored from version %s", target.Label)
	return s.appendVersion(ctx, doc, userID, target.Content, store.ChangeRestored, notes)
}

// Comparison summarizes how two versions of a document differ.
type Comparison struct {
	LabelA    string
	LabelB    string
	SizeDelta int64
	SameHash  bool
}

// CompareVersions reports the size delta and hash equality of two versions.
func (s *Service) CompareVersions(ctx context.Context, userID, documentID, labelA, labelB string) (Comparison, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return Comparison{}, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Read); err != nil {
		return Comparison{}, err
	}

	a, err := s.versionByLabel(ctx, doc.ID, labelA)
	if err != nil {
		return Comparison{}, err
	}
	b, err := s.versionByLabel(ctx, doc.ID, labelB)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		LabelA:    a.Label,
		LabelB:    b.Label,
		SizeDelta: b.Content.SizeBytes - a.Content.SizeBytes,
		SameHash:  a.Content.Hash != "" && a.Content.Hash == b.Content.Hash,
	}, nil
}

// CurrentVersion returns the record at the head of the document's chain.
func (s *Service) CurrentVersion(ctx context.Context, userID, documentID string) (store.VersionRecord, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return store.VersionRecord{}, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Read); err != nil {
		return store.VersionRecord{}, err
	}
	version, err := s.store.GetCurrentVersion(ctx, doc.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionRecord{}, notFound("version_not_found", "document has no current version")
	}
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("load current version: %w", err)
	}
	return version, nil
}

// ListVersions returns the document's full version chain, newest first.
func (s *Service) ListVersions(ctx context.Context, userID, documentID string) ([]store.VersionRecord, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Read); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (s *Service) versionByLabel(ctx context.Context, documentID, label string) (store.VersionRecord, error) {
	version, err := s.store.GetVersionByLabel(ctx, documentID, label)
	if errors.Is(err, sql.ErrNoRows) {
		return store.VersionRecord{}, notFound("version_not_found",
			fmt.Sprintf("document has no version %s", label))
	}
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("load version: %w", err)
	}
	return version, nil
}
