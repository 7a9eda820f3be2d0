package engine

import (
	"context"
	"database/sql"
	"testing"

	"docuvault/engine/internal/store"
)

func TestAppendVersionIncrementsLabel(t *testing.T) {
	fs := storeWithDoc(testDoc(func(d *store.Document) { d.CurrentLabel = "2.7" }))
	grantEverything(fs, "alice")
	var appended store.VersionRecord
	fs.appendVersionFn = func(_ context.Context, record store.VersionRecord) error {
		appended = record
		return nil
	}
	service, _ := newTestService(fs)

	version, err := service.AppendVersion(context.Background(), "alice", "doc_1", []byte("revised"), "copy edits")
	if err != nil {
		t.Fatalf("AppendVersion: %v", err)
	}
	if version.Label != "2.8" {
		t.Fatalf("label = %s, want 2.8", version.Label)
	}
	if !appended.IsCurrent {
		t.Fatal("appended record must be flagged current")
	}
	if appended.Content.Hash == "" || appended.Content.SizeBytes != int64(len("revised")) {
		t.Fatalf("content pointer = %+v", appended.Content)
	}
	if appended.Author != "alice" || appended.ChangeKind != store.ChangeModified {
		t.Fatalf("record = %+v", appended)
	}
}

func TestAppendVersionRejectsUnparsableLabel(t *testing.T) {
	fs := storeWithDoc(testDoc(func(d *store.Document) { d.CurrentLabel = "final-draft" }))
	grantEverything(fs, "alice")
	service, _ := newTestService(fs)

	_, err := service.AppendVersion(context.Background(), "alice", "doc_1", []byte("x"), "")
	if !IsValidation(err) || ErrorCode(err) != "unparsable_version_label" {
		t.Fatalf("got %v, want unparsable_version_label validation error", err)
	}
}

func TestAppendVersionWhileHeldByOtherConflicts(t *testing.T) {
	fs := storeWithDoc(testDoc(func(d *store.Document) { d.LockedBy = strPtr("bob") }))
	grantEverything(fs, "alice")
	service, _ := newTestService(fs)

	_, err := service.AppendVersion(context.Background(), "alice", "doc_1", []byte("x"), "")
	if ErrorCode(err) != CodeAlreadyCheckedOut {
		t.Fatalf("got %v, want already_checked_out conflict", err)
	}
}

func TestAppendVersionRejectsEmptyContent(t *testing.T) {
	fs := storeWithDoc(testDoc(nil))
	grantEverything(fs, "alice")
	service, _ := newTestService(fs)

	_, err := service.AppendVersion(context.Background(), "alice", "doc_1", nil, "")
	if !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestRestoreVersionAppendsAtHead(t *testing.T) {
	fs := storeWithDoc(testDoc(func(d *store.Document) { d.CurrentLabel = "1.5" }))
	grantEverything(fs, "alice")
	target := store.VersionRecord{
		ID:         "ver_2",
		DocumentID: "doc_1",
		Label:      "1.2",
		Content:    store.ContentPointer{BlobKey: "sha256/abc", SizeBytes: 42, Hash: "abc"},
	}
	fs.getVersionByLabelFn = func(_ context.Context, _, label string) (store.VersionRecord, error) {
		if label == "1.2" {
			return target, nil
		}
		return store.VersionRecord{}, sql.ErrNoRows
	}
	var appended store.VersionRecord
	fs.appendVersionFn = func(_ context.Context, record store.VersionRecord) error {
		appended = record
		return nil
	}
	service, _ := newTestService(fs)

	version, err := service.RestoreVersion(context.Background(), "alice", "doc_1", "1.2")
	if err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}
	if version.Label != "1.6" {
		t.Fatalf("label = %s, want 1.6 (head + 1, not 1.2)", version.Label)
	}
	if appended.Content.Hash != target.Content.Hash {
		t.Fatalf("restored content hash = %s, want %s", appended.Content.Hash, target.Content.Hash)
	}
	if appended.ChangeKind != store.ChangeRestored {
		t.Fatalf("change kind = %s, want Restored", appended.ChangeKind)
	}
	if appended.Notes != "Restored from version 1.2" {
		t.Fatalf("notes = %q", appended.Notes)
	}
}

func TestRestoreVersionUnknownLabel(t *testing.T) {
	fs := storeWithDoc(testDoc(nil))
	grantEverything(fs, "alice")
	service, _ := newTestService(fs)

	_, err := service.RestoreVersion(context.Background(), "alice", "doc_1", "9.9")
	if !IsNotFound(err) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestCompareVersions(t *testing.T) {
	fs := storeWithDoc(testDoc(nil))
	grantEverything(fs, "alice")
	versions := map[string]store.VersionRecord{
		"1.0": {Label: "1.0", Content: store.ContentPointer{SizeBytes: 100, Hash: "aaa"}},
		"1.1": {Label: "1.1", Content: store.ContentPointer{SizeBytes: 160, Hash: "bbb"}},
		"1.2": {Label: "1.2", Content: store.ContentPointer{SizeBytes: 160, Hash: "bbb"}},
	}
	fs.getVersionByLabelFn = func(_ context.Context, _, label string) (store.VersionRecord, error) {
		if v, ok := versions[label]; ok {
			return v, nil
		}
		return store.VersionRecord{}, sql.ErrNoRows
	}
	service, _ := newTestService(fs)
	ctx := context.Background()

	diff, err := service.CompareVersions(ctx, "alice", "doc_1", "1.0", "1.1")
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if diff.SizeDelta != 60 || diff.SameHash {
		t.Fatalf("diff = %+v, want delta 60 and differing hashes", diff)
	}

	same, err := service.CompareVersions(ctx, "alice", "doc_1", "1.1", "1.2")
	if err != nil {
		t.Fatalf("CompareVersions: %v", err)
	}
	if same.SizeDelta != 0 || !same.SameHash {
		t.Fatalf("diff = %+v, want identical content", same)
	}
}

func TestCurrentVersionMatchesHeadLabel(t *testing.T) {
	fs := storeWithDoc(testDoc(func(d *store.Document) { d.CurrentLabel = "1.4" }))
	grantEverything(fs, "alice")
	fs.getCurrentVersionFn = func(_ context.Context, documentID string) (store.VersionRecord, error) {
		return store.VersionRecord{DocumentID: documentID, Label: "1.4", IsCurrent: true}, nil
	}
	service, _ := newTestService(fs)

	version, err := service.CurrentVersion(context.Background(), "alice", "doc_1")
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if version.Label != "1.4" || !version.IsCurrent {
		t.Fatalf("version = %+v", version)
	}
}

func TestListVersionsRequiresRead(t *testing.T) {
	fs := storeWithDoc(testDoc(nil))
	service, _ := newTestService(fs)

	_, err := service.ListVersions(context.Background(), "stranger", "doc_1")
	if !IsPermissionDenied(err) {
		t.Fatalf("got %v, want permission denied", err)
	}
}
