package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"docuvault/engine/internal/capability"
	"docuvault/engine/internal/store"
	"docuvault/engine/internal/util"
)

// GrantRequest describes one permission grant to apply. Level and
// Capabilities are alternatives: a named level expands to its template,
// otherwise Capabilities is used verbatim.
type GrantRequest struct {
	DocumentID   string
	Principal    Principal
	Level        capability.Level
	Capabilities capability.Set
	ExpiresAt    *time.Time
	Reason       string
}

func (r GrantRequest) capabilities() (capability.Set, error) {
	if r.Level != "" {
		caps, ok := capability.Template(r.Level)
		if !ok {
			return 0, invalid("unknown_level", fmt.Sprintf("unknown permission level %q", r.Level))
		}
		return caps, nil
	}
	return r.Capabilities, nil
}

// GrantPermission creates or replaces the active grant for the principal on
// the document. A principal holds at most one active grant per document;
// re-granting updates that row in place rather than stacking a second one.
func (s *Service) GrantPermission(ctx context.Context, actor string, req GrantRequest) (store.Grant, error) {
	if err := req.Principal.validate(); err != nil {
		return store.Grant{}, err
	}
	caps, err := req.capabilities()
	if err != nil {
		return store.Grant{}, err
	}
	doc, err := s.getDocument(ctx, req.DocumentID)
	if err != nil {
		return store.Grant{}, err
	}
	if err := s.requireCapability(ctx, actor, doc.ID, capability.ManagePermissions); err != nil {
		return store.Grant{}, err
	}

	now := s.now()
	existing, err := s.store.FindActiveDocumentGrant(ctx, doc.ID, req.Principal.UserID, req.Principal.RoleName)
	if err != nil {
		return store.Grant{}, fmt.Errorf("find existing grant: %w", err)
	}

	var grant store.Grant
	if existing != nil {
		if err := s.store.UpdateGrant(ctx, existing.ID, uint16(caps), req.ExpiresAt, actor, req.Reason, now); err != nil {
			return store.Grant{}, fmt.Errorf("update grant: %w", err)
		}
		grant = *existing
		grant.Capabilities = uint16(caps)
		grant.ExpiresAt = req.ExpiresAt
		grant.GrantedBy = actor
		grant.GrantReason = req.Reason
		grant.GrantedAt = now
		grant.Active = true
	} else {
		grant = store.Grant{
			ID:           util.NewID("grt"),
			DocumentID:   &doc.ID,
			UserID:       req.Principal.UserID,
			RoleName:     req.Principal.RoleName,
			Capabilities: uint16(caps),
			ExpiresAt:    req.ExpiresAt,
			Active:       true,
			GrantedBy:    actor,
			GrantedAt:    now,
			GrantReason:  req.Reason,
		}
		if err := s.store.InsertGrant(ctx, grant); err != nil {
			return store.Grant{}, fmt.Errorf("insert grant: %w", err)
		}
	}

	eventType := "grant.create"
	if existing != nil {
		eventType = "grant.update"
	}
	s.audit(ctx, eventType, actor, doc.ID, grant.ID, map[string]any{
		"principal":    req.Principal.String(),
		"capabilities": caps.Names(),
	})
	s.invalidatePermissions(ctx, doc.ID)
	return grant, nil
}

// RevokePermission deactivates a grant and records who revoked it and why.
// The grant row survives for provenance.
func (s *Service) RevokePermission(ctx context.Context, actor, grantID, reason string) error {
	grant, err := s.store.GetGrant(ctx, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("grant_not_found", "grant does not exist")
	}
	if err != nil {
		return fmt.Errorf("load grant: %w", err)
	}
	switch {
	case grant.DocumentID != nil:
		if err := s.requireCapability(ctx, actor, *grant.DocumentID, capability.ManagePermissions); err != nil {
			return err
		}
	case grant.FolderID != nil:
		if err := s.requireFolderManager(ctx, actor, *grant.FolderID); err != nil {
			return err
		}
	}
	revoked, err := s.store.RevokeGrant(ctx, grantID, actor, reason, s.now())
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if !revoked {
		return notFound("grant_not_found", "grant does not exist or is already inactive")
	}
	if grant.DocumentID != nil {
		s.audit(ctx, "grant.revoke", actor, *grant.DocumentID, grantID, map[string]any{"reason": reason})
		s.invalidatePermissions(ctx, *grant.DocumentID)
	} else if grant.FolderID != nil {
		// Folder grants feed resolution through inheritance, so cached
		// per-document entries converge within one cache TTL window.
		s.audit(ctx, "grant.revoke", actor, "", grantID, map[string]any{
			"reason": reason,
			"folder": *grant.FolderID,
		})
	}
	return nil
}

// requireFolderManager gates folder-grant mutations: the actor must be a
// manager of the project the folder belongs to. The system actor bypasses
// resolution.
func (s *Service) requireFolderManager(ctx context.Context, actor, folderID string) error {
	if actor == SystemActor {
		return nil
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("folder_not_found", "folder does not exist")
	}
	if err != nil {
		return fmt.Errorf("load folder: %w", err)
	}
	member, err := s.store.GetProjectMember(ctx, folder.ProjectID, actor)
	if err != nil {
		return fmt.Errorf("load acting member: %w", err)
	}
	if member == nil || !member.IsManager {
		return denied(fmt.Sprintf("user %s is not a manager of project %s", actor, folder.ProjectID))
	}
	return nil
}

// GrantOutcome reports one item of a bulk grant.
type GrantOutcome struct {
	DocumentID string
	Principal  Principal
	Grant      store.Grant
	Err        error
}

// BulkGrantPermissions applies each request independently and reports
// per-item outcomes. One failing item never rolls back the others.
func (s *Service) BulkGrantPermissions(ctx context.Context, actor string, requests []GrantRequest) []GrantOutcome {
	outcomes := make([]GrantOutcome, 0, len(requests))
	for _, req := range requests {
		grant, err := s.GrantPermission(ctx, actor, req)
		outcomes = append(outcomes, GrantOutcome{
			DocumentID: req.DocumentID,
			Principal:  req.Principal,
			Grant:      grant,
			Err:        err,
		})
	}
	return outcomes
}

// CleanupExpiredGrants deactivates every grant whose expiry has passed and
// returns how many rows were retired.
func (s *Service) CleanupExpiredGrants(ctx context.Context) (int, error) {
	expired, err := s.store.ExpireGrants(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire grants: %w", err)
	}
	if expired > 0 {
		s.audit(ctx, "grant.cleanup", SystemActor, "", "", map[string]any{"expired": expired})
	}
	return expired, nil
}
