package engine

import (
	"context"
	"fmt"

	"docuvault/engine/internal/store"
)

// SetProjectMember creates or updates a project membership. Only an existing
// manager of the project (or the system actor) may change memberships.
func (s *Service) SetProjectMember(ctx context.Context, actor string, member store.ProjectMember) error {
	if member.ProjectID == "" || member.UserID == "" {
		return invalid("invalid_member", "membership needs both a project id and a user id")
	}
	if actor != SystemActor {
		acting, err := s.store.GetProjectMember(ctx, member.ProjectID, actor)
		if err != nil {
			return fmt.Errorf("load acting member: %w", err)
		}
		if acting == nil || !acting.IsManager {
			return denied(fmt.Sprintf("user %s is not a manager of project %s", actor, member.ProjectID))
		}
	}

	if err := s.store.UpsertProjectMember(ctx, member); err != nil {
		return fmt.Errorf("upsert project member: %w", err)
	}
	// Cached resolutions are keyed per document; membership changes
	// converge within one cache TTL window.
	s.audit(ctx, "project.member_set", actor, "", member.UserID, map[string]any{
		"project":    member.ProjectID,
		"is_manager": member.IsManager,
		"roles":      member.Roles,
	})
	return nil
}
