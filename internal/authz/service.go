// Package authz implements the owner/admin/user authorization model and the
// invite-token activation flow, backed by a three-rank manageable-role
// hierarchy stored outside the process.
package authz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nodevault/custodian/internal/apperrors"
	"github.com/nodevault/custodian/internal/domain/audit"
	"github.com/nodevault/custodian/internal/domain/authz"
	"github.com/nodevault/custodian/internal/domain/invite"
	"github.com/nodevault/custodian/internal/logging"
	"github.com/nodevault/custodian/internal/storage"
	"github.com/nodevault/custodian/internal/token"
)

// Service manages the authorized-principal table and invite tokens.
type Service struct {
	authz   storage.AuthzStore
	invites storage.InviteStore
	audit   storage.AuditStore
	log     *logging.Logger
	now     func() time.Time

	inviteTTL time.Duration
}

// Config wires the Service's dependencies.
type Config struct {
	Authz     storage.AuthzStore
	Invites   storage.InviteStore
	Audit     storage.AuditStore
	Logger    *logging.Logger
	InviteTTL time.Duration
	Now       func() time.Time
}

// New builds a Service.
func New(cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = 24 * time.Hour
	}
	return &Service{
		authz: cfg.Authz, invites: cfg.Invites, audit: cfg.Audit,
		log: cfg.Logger, now: cfg.Now, inviteTTL: cfg.InviteTTL,
	}
}

// Initialize grants principalID the owner role if the authorized table is
// still empty, making the first principal to reach this path the immutable
// owner; a no-op otherwise.
func (s *Service) Initialize(ctx context.Context, principalID int64) error {
	count, err := s.authz.CountActive(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "count authorized", err)
	}
	if count > 0 {
		return nil
	}
	now := s.now()
	if err := s.authz.UpsertAuthorized(ctx, authz.AuthorizedPrincipal{
		PrincipalID: principalID, Role: authz.RoleOwner, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "create owner", err)
	}
	return s.appendAudit(ctx, principalID, audit.ActionRoleAdded, &principalID, map[string]interface{}{"role": authz.RoleOwner})
}

// RoleOf returns the role assigned to principalID, or ("", false) if the
// principal is not authorized at all.
func (s *Service) RoleOf(ctx context.Context, principalID int64) (authz.Role, bool, error) {
	row, ok, err := s.authz.GetAuthorized(ctx, principalID)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.KindPersistence, "get authorized", err)
	}
	if !ok {
		return "", false, nil
	}
	return row.Role, true, nil
}

// Add grants targetID the given role on actor's behalf. actor must strictly
// outrank role, and role must not be owner.
func (s *Service) Add(ctx context.Context, actorID, targetID int64, role authz.Role) error {
	if !role.Valid() || role == authz.RoleOwner {
		return apperrors.New(apperrors.KindInvalidAsset, "role must be admin or user")
	}
	if _, exists, err := s.authz.GetAuthorized(ctx, targetID); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "get authorized", err)
	} else if exists {
		return apperrors.New(apperrors.KindAlreadyAuthorized, "principal already authorized")
	}

	actorRole, err := s.requireActor(ctx, actorID)
	if err != nil {
		return err
	}
	if !authz.CanManage(actorRole, role) {
		return apperrors.PermissionDenied("insufficient rank to grant this role")
	}

	now := s.now()
	if err := s.authz.UpsertAuthorized(ctx, authz.AuthorizedPrincipal{
		PrincipalID: targetID, Role: role, AddedBy: &actorID, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "upsert authorized", err)
	}
	return s.appendAudit(ctx, actorID, audit.ActionRoleAdded, &targetID, map[string]interface{}{"role": role})
}

// Remove revokes targetID's authorization on actor's behalf. The owner row
// is never removable.
func (s *Service) Remove(ctx context.Context, actorID, targetID int64) error {
	target, exists, err := s.authz.GetAuthorized(ctx, targetID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "get authorized", err)
	}
	if !exists {
		return apperrors.NotFound("authorized_principal", "")
	}

	actorRole, err := s.requireActor(ctx, actorID)
	if err != nil {
		return err
	}
	if !authz.CanManage(actorRole, target.Role) {
		return apperrors.PermissionDenied("insufficient rank to remove this principal")
	}

	if err := s.authz.RemoveAuthorized(ctx, targetID); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "remove authorized", err)
	}
	return s.appendAudit(ctx, actorID, audit.ActionRoleRemoved, &targetID, map[string]interface{}{"role": target.Role})
}

// UpdateRole changes targetID's role on actor's behalf. actor must outrank
// both target's current role and the proposed role; neither may be owner.
func (s *Service) UpdateRole(ctx context.Context, actorID, targetID int64, newRole authz.Role) error {
	if !newRole.Valid() || newRole == authz.RoleOwner {
		return apperrors.New(apperrors.KindInvalidAsset, "role must be admin or user")
	}
	target, exists, err := s.authz.GetAuthorized(ctx, targetID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "get authorized", err)
	}
	if !exists {
		return apperrors.NotFound("authorized_principal", "")
	}

	actorRole, err := s.requireActor(ctx, actorID)
	if err != nil {
		return err
	}
	if !authz.CanManage(actorRole, target.Role) || !authz.CanManage(actorRole, newRole) {
		return apperrors.PermissionDenied("insufficient rank to change this role")
	}

	target.Role = newRole
	target.UpdatedAt = s.now()
	if err := s.authz.UpsertAuthorized(ctx, target); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "upsert authorized", err)
	}
	return s.appendAudit(ctx, actorID, audit.ActionRoleUpdated, &targetID, map[string]interface{}{"role": newRole})
}

// GenerateInvite mints a single-use token granting role on activation.
// actor must outrank role.
func (s *Service) GenerateInvite(ctx context.Context, actorID int64, role authz.Role) (invite.Token, error) {
	if !role.Valid() || role == authz.RoleOwner {
		return invite.Token{}, apperrors.New(apperrors.KindInvalidAsset, "role must be admin or user")
	}
	actorRole, err := s.requireActor(ctx, actorID)
	if err != nil {
		return invite.Token{}, err
	}
	if !authz.CanManage(actorRole, role) {
		return invite.Token{}, apperrors.PermissionDenied("insufficient rank to invite this role")
	}

	tok, err := token.New()
	if err != nil {
		return invite.Token{}, apperrors.Wrap(apperrors.KindUnexpected, "generate invite token", err)
	}
	now := s.now()
	t := invite.Token{
		Token: tok, Role: role, CreatedBy: actorID, CreatedAt: now, ExpiresAt: now.Add(s.inviteTTL),
	}
	if err := s.invites.CreateInvite(ctx, t); err != nil {
		return invite.Token{}, apperrors.Wrap(apperrors.KindPersistence, "create invite", err)
	}
	if err := s.appendAudit(ctx, actorID, audit.ActionInviteGenerated, nil, map[string]interface{}{"role": role}); err != nil {
		return invite.Token{}, err
	}
	return t, nil
}

// ActivateInvite redeems tok on principalID's behalf: the principal must not
// already be authorized, the token must exist and still be activatable, and
// the conditional-write race against concurrent activations is resolved by
// InviteStore.MarkUsed's single `WHERE token = ? AND usedBy IS NULL` update.
func (s *Service) ActivateInvite(ctx context.Context, tok string, principalID int64) error {
	if !token.Valid(tok) {
		return apperrors.New(apperrors.KindInvalidKey, "malformed invite token")
	}
	if _, exists, err := s.authz.GetAuthorized(ctx, principalID); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "get authorized", err)
	} else if exists {
		return apperrors.New(apperrors.KindAlreadyAuthorized, "principal already authorized")
	}

	t, found, err := s.invites.GetInvite(ctx, tok)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "get invite", err)
	}
	if !found {
		return apperrors.NotFound("invite", tok)
	}
	now := s.now()
	if !t.Activatable(now) {
		if t.UsedBy != nil {
			return apperrors.New(apperrors.KindAlreadyActive, "invite already used")
		}
		return apperrors.New(apperrors.KindSessionExpired, "invite expired")
	}

	matched, err := s.invites.MarkUsed(ctx, tok, principalID, now)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "mark invite used", err)
	}
	if !matched {
		return apperrors.New(apperrors.KindAlreadyActive, "invite already used")
	}

	if err := s.authz.UpsertAuthorized(ctx, authz.AuthorizedPrincipal{
		PrincipalID: principalID, Role: t.Role, AddedBy: &t.CreatedBy, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "upsert authorized", err)
	}
	return s.appendAudit(ctx, principalID, audit.ActionInviteActivated, &principalID, map[string]interface{}{"role": t.Role})
}

func (s *Service) requireActor(ctx context.Context, actorID int64) (authz.Role, error) {
	row, ok, err := s.authz.GetAuthorized(ctx, actorID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindPersistence, "get authorized", err)
	}
	if !ok {
		return "", apperrors.Unauthorized("actor is not an authorized principal")
	}
	return row.Role, nil
}

func (s *Service) appendAudit(ctx context.Context, actorID int64, action string, target *int64, details map[string]interface{}) error {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = nil
	}
	if err := s.audit.AppendAudit(ctx, audit.Entry{
		ActorPrincipalID: actorID, Action: action, TargetPrincipalID: target, Details: raw, CreatedAt: s.now(),
	}); err != nil {
		s.log.WithFields(map[string]interface{}{"action": action, "error": err}).Warn("audit append failed")
	}
	return nil
}
