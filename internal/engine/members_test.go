package engine

import (
	"context"
	"testing"

	"docuvault/engine/internal/store"
)

func TestSetProjectMemberRequiresManager(t *testing.T) {
	fs := &fakeStore{
		getProjectMemberFn: func(_ context.Context, _, userID string) (*store.ProjectMember, error) {
			if userID == "manager" {
				return &store.ProjectMember{ProjectID: "proj_1", UserID: "manager", IsManager: true}, nil
			}
			if userID == "plain" {
				return &store.ProjectMember{ProjectID: "proj_1", UserID: "plain"}, nil
			}
			return nil, nil
		},
	}
	var upserted store.ProjectMember
	fs.upsertProjectMemberFn = func(_ context.Context, member store.ProjectMember) error {
		upserted = member
		return nil
	}
	service, _ := newTestService(fs)
	ctx := context.Background()
	member := store.ProjectMember{ProjectID: "proj_1", UserID: "newcomer", Roles: []string{"reviewers"}}

	if err := service.SetProjectMember(ctx, "manager", member); err != nil {
		t.Fatalf("SetProjectMember as manager: %v", err)
	}
	if upserted.UserID != "newcomer" {
		t.Fatalf("upserted = %+v", upserted)
	}

	if err := service.SetProjectMember(ctx, "plain", member); !IsPermissionDenied(err) {
		t.Fatalf("got %v, want permission denied for non-manager", err)
	}
	if err := service.SetProjectMember(ctx, "outsider", member); !IsPermissionDenied(err) {
		t.Fatalf("got %v, want permission denied for outsider", err)
	}
	if err := service.SetProjectMember(ctx, SystemActor, member); err != nil {
		t.Fatalf("SetProjectMember as system: %v", err)
	}
}

func TestSetProjectMemberValidation(t *testing.T) {
	service, _ := newTestService(&fakeStore{})
	err := service.SetProjectMember(context.Background(), SystemActor, store.ProjectMember{ProjectID: "proj_1"})
	if !IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}
