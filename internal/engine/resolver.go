package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docuvault/engine/internal/capability"
	"docuvault/engine/internal/permcache"
	"docuvault/engine/internal/store"
)

// Source names the precedence tier that produced a resolution.
type Source string

const (
	SourcePublic    Source = "Public"
	SourceDirect    Source = "Direct"
	SourceRole      Source = "Role"
	SourceInherited Source = "Inherited"
	SourceProject   Source = "Project"
	SourceNone      Source = "None"
)

// Resolution is a user's effective capability set on a document, the tier
// it came from, and the earliest expiry among the grants that produced it.
type Resolution struct {
	Capabilities   capability.Set
	Source         Source
	EarliestExpiry *time.Time
}

var noAccess = Resolution{Source: SourceNone}

// Principal identifies the target of a grant: exactly one of a user id or a
// role name.
type Principal struct {
	UserID   string
	RoleName string
}

func UserPrincipal(userID string) Principal {
	return Principal{UserID: userID}
}

func RolePrincipal(roleName string) Principal {
	return Principal{RoleName: roleName}
}

func (p Principal) validate() error {
	if (p.UserID == "") == (p.RoleName == "") {
		return invalid("invalid_principal", "principal must name exactly one of a user id or a role name")
	}
	return nil
}

func (p Principal) String() string {
	if p.UserID != "" {
		return "user:" + p.UserID
	}
	return "role:" + p.RoleName
}

type resolveInput struct {
	doc    store.Document
	userID string
	member *store.ProjectMember
}

type tierResult struct {
	caps   capability.Set
	expiry *time.Time
}

type tier struct {
	source  Source
	resolve func(ctx context.Context, in resolveInput) (tierResult, error)
}

// tiers is the ordered precedence waterfall. The first tier whose result is
// non-empty wins outright; grants union only within a tier.
func (s *Service) tiers() []tier {
	return []tier{
		{source: SourcePublic, resolve: s.resolvePublic},
		{source: SourceDirect, resolve: s.resolveDirect},
		{source: SourceRole, resolve: s.resolveRole},
		{source: SourceInherited, resolve: s.resolveInherited},
		{source: SourceProject, resolve: s.resolveProject},
	}
}

// EffectivePermissions computes the user's capability set for a document.
// Missing documents and absent grants resolve to no access rather than an
// error; only genuine store failures surface.
func (s *Service) EffectivePermissions(ctx context.Context, userID, documentID string) (Resolution, error) {
	if s.cache != nil {
		if entry, ok, err := s.cache.Get(ctx, documentID, userID); err == nil && ok {
			return Resolution{
				Capabilities:   capability.Set(entry.Capabilities),
				Source:         Source(entry.Source),
				EarliestExpiry: entry.EarliestExpiry,
			}, nil
		}
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return noAccess, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load document: %w", err)
	}

	member, err := s.store.GetProjectMember(ctx, doc.ProjectID, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load project member: %w", err)
	}

	in := resolveInput{doc: doc, userID: userID, member: member}
	resolution := noAccess
	for _, t := range s.tiers() {
		result, err := t.resolve(ctx, in)
		if err != nil {
			return Resolution{}, err
		}
		if result.caps.IsEmpty() {
			continue
		}
		resolution = Resolution{
			Capabilities:   result.caps,
			Source:         t.source,
			EarliestExpiry: result.expiry,
		}
		break
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, documentID, userID, permcache.Entry{
			Capabilities:   uint16(resolution.Capabilities),
			Source:         string(resolution.Source),
			EarliestExpiry: resolution.EarliestExpiry,
		})
	}
	return resolution, nil
}

// HasPermission reports whether the user holds the named capability on the
// document. Unknown names and resolution failures both report false; this
// call sits on every hot path and must not abort unrelated work.
func (s *Service) HasPermission(ctx context.Context, userID, documentID, capabilityName string) bool {
	bit, ok := capability.Parse(capabilityName)
	if !ok {
		return false
	}
	resolution, err := s.EffectivePermissions(ctx, userID, documentID)
	if err != nil {
		return false
	}
	return resolution.Capabilities.Has(bit)
}

// Public documents grant read/download/print to everyone and short-circuit
// every other tier, contradictory grants included.
func (s *Service) resolvePublic(_ context.Context, in resolveInput) (tierResult, error) {
	if !in.doc.IsPublic {
		return tierResult{}, nil
	}
	return tierResult{caps: capability.Read | capability.Download | capability.Print}, nil
}

func (s *Service) resolveDirect(ctx context.Context, in resolveInput) (tierResult, error) {
	grants, err := s.store.ListActiveDocumentGrants(ctx, in.doc.ID, s.now())
	if err != nil {
		return tierResult{}, fmt.Errorf("list document grants: %w", err)
	}
	return unionGrants(grants, func(g store.Grant) bool {
		return g.UserID != "" && g.UserID == in.userID
	}), nil
}

func (s *Service) resolveRole(ctx context.Context, in resolveInput) (tierResult, error) {
	roles := memberRoles(in.member)
	if len(roles) == 0 {
		return tierResult{}, nil
	}
	grants, err := s.store.ListActiveDocumentGrants(ctx, in.doc.ID, s.now())
	if err != nil {
		return tierResult{}, fmt.Errorf("list document grants: %w", err)
	}
	return unionGrants(grants, func(g store.Grant) bool {
		return g.RoleName != "" && roles[g.RoleName]
	}), nil
}

// resolveInherited walks the folder ancestor chain; the nearest ancestor
// holding any active grant for the principal wins, and only that ancestor's
// grants union.
func (s *Service) resolveInherited(ctx context.Context, in resolveInput) (tierResult, error) {
	roles := memberRoles(in.member)
	matches := func(g store.Grant) bool {
		if g.UserID != "" {
			return g.UserID == in.userID
		}
		return g.RoleName != "" && roles[g.RoleName]
	}

	folderID := in.doc.FolderID
	for depth := 0; folderID != nil && depth < 64; depth++ {
		grants, err := s.store.ListActiveFolderGrants(ctx, *folderID, s.now())
		if err != nil {
			return tierResult{}, fmt.Errorf("list folder grants: %w", err)
		}
		if result := unionGrants(grants, matches); !result.caps.IsEmpty() {
			return result, nil
		}

		folder, err := s.store.GetFolder(ctx, *folderID)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return tierResult{}, fmt.Errorf("load folder: %w", err)
		}
		folderID = folder.ParentID
	}
	return tierResult{}, nil
}

// resolveProject derives capabilities from project membership: plain members
// read and download, managers additionally write, checkout, and manage
// permissions.
func (s *Service) resolveProject(_ context.Context, in resolveInput) (tierResult, error) {
	if in.member == nil {
		return tierResult{}, nil
	}
	if in.member.IsManager {
		return tierResult{caps: capability.Read | capability.Write | capability.Download |
			capability.Checkout | capability.ManagePermissions}, nil
	}
	return tierResult{caps: capability.Read | capability.Download}, nil
}

func memberRoles(member *store.ProjectMember) map[string]bool {
	if member == nil || len(member.Roles) == 0 {
		return nil
	}
	roles := make(map[string]bool, len(member.Roles))
	for _, role := range member.Roles {
		roles[role] = true
	}
	return roles
}

// requireCapability gates a mutating operation on the actor's resolved
// capabilities. The system actor bypasses resolution entirely.
func (s *Service) requireCapability(ctx context.Context, userID, documentID string, bit capability.Set) error {
	if userID == SystemActor {
		return nil
	}
	resolution, err := s.EffectivePermissions(ctx, userID, documentID)
	if err != nil {
		return err
	}
	if !resolution.Capabilities.Has(bit) {
		return denied(fmt.Sprintf("user %s lacks %s on document %s", userID, strings.Join(bit.Names(), ","), documentID))
	}
	return nil
}

func unionGrants(grants []store.Grant, matches func(store.Grant) bool) tierResult {
	var result tierResult
	for _, grant := range grants {
		if !matches(grant) {
			continue
		}
		result.caps = result.caps.Union(capability.Set(grant.Capabilities))
		if grant.ExpiresAt != nil && (result.expiry == nil || grant.ExpiresAt.Before(*result.expiry)) {
			result.expiry = grant.ExpiresAt
		}
	}
	return result
}
