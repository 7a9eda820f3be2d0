package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docuvault/engine/internal/capability"
	"docuvault/engine/internal/store"
)

// CheckoutState is a snapshot of a document's lock.
type CheckoutState struct {
	DocumentID        string
	LockedBy          string
	AcquiredAt        time.Time
	ExpectedReleaseAt time.Time
}

// Checkout takes the exclusive editing lock for the user. A document held by
// anyone, the caller included, refuses a second checkout. expectedHours of
// zero falls back to the document's auto-release window, then the service
// default.
func (s *Service) Checkout(ctx context.Context, userID, documentID string, expectedHours int) (CheckoutState, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return CheckoutState{}, err
	}
	if err := s.requireCapability(ctx, userID, doc.ID, capability.Checkout); err != nil {
		return CheckoutState{}, err
	}
	if doc.IsReadOnly {
		return CheckoutState{}, conflict("read_only", "document is read-only")
	}
	if doc.LockedBy != nil {
		return CheckoutState{}, conflict(CodeAlreadyCheckedOut,
			fmt.Sprintf("document is checked out by %s", *doc.LockedBy))
	}

	hours := expectedHours
	if hours <= 0 {
		hours = doc.AutoReleaseHours
	}
	if hours <= 0 {
		hours = s.defaultAutoReleaseHours
	}
	now := s.now()
	expectedRelease := now.Add(time.Duration(hours) * time.Hour)

	// The conditional update is the serialization point; a concurrent
	// checkout that won the race leaves acquired false here.
	acquired, err := s.store.AcquireLock(ctx, doc.ID, userID, now, expectedRelease)
	if err != nil {
		return CheckoutState{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return CheckoutState{}, conflict(CodeAlreadyCheckedOut, "document was checked out concurrently")
	}

	s.audit(ctx, "document.checkout", userID, doc.ID, "", map[string]any{
		"expected_release_at": expectedRelease,
	})
	return CheckoutState{
		DocumentID:        doc.ID,
		LockedBy:          userID,
		AcquiredAt:        now,
		ExpectedReleaseAt: expectedRelease,
	}, nil
}

// Checkin releases the caller's lock. When content is non-nil it is stored
// and appended as the next version before the lock drops; a nil content
// check-in releases the lock without touching the version chain.
func (s *Service) Checkin(ctx context.Context, userID, documentID string, content []byte, notes string) (*store.VersionRecord, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	// Capability gate runs before any lock-state check on content writes.
	if content != nil {
		if err := s.requireCapability(ctx, userID, doc.ID, capability.Write); err != nil {
			return nil, err
		}
	}
	if doc.LockedBy == nil {
		return nil, conflict(CodeNotCheckedOut, "document is not checked out")
	}
	if *doc.LockedBy != userID {
		return nil, conflict(CodeNotCheckedOutByCaller,
			fmt.Sprintf("document is checked out by %s, not %s", *doc.LockedBy, userID))
	}

	var version *store.VersionRecord
	if content != nil {
		pointer, err := s.blobs.Put(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("store content: %w", err)
		}
		appended, err := s.appendVersion(ctx, doc, userID, pointer, store.ChangeModified, notes)
		if err != nil {
			return nil, err
		}
		version = &appended
	}

	released, err := s.store.ReleaseLock(ctx, doc.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("release lock: %w", err)
	}
	if !released {
		// A force-checkin raced this call after the append committed. The
		// appended version stands (the chain is append-only and the content
		// passed its gates); only the release is reported as a conflict.
		return nil, conflict(CodeNotCheckedOutByCaller, "lock changed hands during check-in")
	}

	payload := map[string]any{"with_content": content != nil}
	if version != nil {
		payload["label"] = version.Label
	}
	s.audit(ctx, "document.checkin", userID, doc.ID, "", payload)
	return version, nil
}

// ForceCheckin releases someone else's lock without appending a version.
// Whatever the holder had in flight is discarded; only the lock state moves.
func (s *Service) ForceCheckin(ctx context.Context, actor, documentID, reason string) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.requireCapability(ctx, actor, doc.ID, capability.ManagePermissions); err != nil {
		return err
	}
	if doc.LockedBy == nil {
		return conflict(CodeNotCheckedOut, "document is not checked out")
	}

	released, err := s.store.ReleaseLock(ctx, doc.ID, "")
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if !released {
		return conflict(CodeNotCheckedOut, "document was released concurrently")
	}

	s.audit(ctx, "document.force_checkin", actor, doc.ID, "", map[string]any{
		"previous_holder": *doc.LockedBy,
		"reason":          reason,
	})
	return nil
}

// ReleaseOverdueCheckouts force-releases every lock whose expected release
// time has passed on a document with auto-release enabled. It keeps going
// past per-document failures and reports how many locks it released.
func (s *Service) ReleaseOverdueCheckouts(ctx context.Context) (int, error) {
	overdue, err := s.store.ListOverdueCheckouts(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list overdue checkouts: %w", err)
	}

	released := 0
	var errs []error
	for _, doc := range overdue {
		if err := s.ForceCheckin(ctx, SystemActor, doc.ID, "auto-release window elapsed"); err != nil {
			// A lock released between listing and forcing is not a failure.
			if ErrorCode(err) == CodeNotCheckedOut {
				continue
			}
			errs = append(errs, fmt.Errorf("document %s: %w", doc.ID, err))
			continue
		}
		released++
	}
	return released, errors.Join(errs...)
}
