package authz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodevault/custodian/internal/domain/audit"
	"github.com/nodevault/custodian/internal/domain/authz"
	"github.com/nodevault/custodian/internal/domain/invite"
	"github.com/nodevault/custodian/internal/logging"
)

type fakeAuthzStore struct {
	mu   sync.Mutex
	rows map[int64]authz.AuthorizedPrincipal
}

func newFakeAuthzStore() *fakeAuthzStore {
	return &fakeAuthzStore{rows: make(map[int64]authz.AuthorizedPrincipal)}
}
func (f *fakeAuthzStore) GetAuthorized(ctx context.Context, id int64) (authz.AuthorizedPrincipal, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	return row, ok, nil
}
func (f *fakeAuthzStore) ListAuthorized(ctx context.Context) ([]authz.AuthorizedPrincipal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]authz.AuthorizedPrincipal, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}
func (f *fakeAuthzStore) UpsertAuthorized(ctx context.Context, a authz.AuthorizedPrincipal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[a.PrincipalID] = a
	return nil
}
func (f *fakeAuthzStore) RemoveAuthorized(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}
func (f *fakeAuthzStore) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

type fakeInviteStore struct {
	mu   sync.Mutex
	rows map[string]invite.Token
}

func newFakeInviteStore() *fakeInviteStore {
	return &fakeInviteStore{rows: make(map[string]invite.Token)}
}
func (f *fakeInviteStore) CreateInvite(ctx context.Context, t invite.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[t.Token] = t
	return nil
}
func (f *fakeInviteStore) GetInvite(ctx context.Context, tok string) (invite.Token, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[tok]
	return t, ok, nil
}
func (f *fakeInviteStore) MarkUsed(ctx context.Context, tok string, principalID int64, usedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[tok]
	if !ok || t.UsedBy != nil {
		return false, nil
	}
	t.UsedBy = &principalID
	t.UsedAt = &usedAt
	f.rows[tok] = t
	return true, nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAuditStore) AppendAudit(ctx context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeAuditStore) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries, nil
}

func newTestService() (*Service, *fakeAuthzStore, *fakeInviteStore, *fakeAuditStore) {
	a := newFakeAuthzStore()
	i := newFakeInviteStore()
	d := &fakeAuditStore{}
	svc := New(Config{Authz: a, Invites: i, Audit: d, Logger: logging.NewDefault()})
	return svc, a, i, d
}

func TestInitializeGrantsOwnerOnlyOnce(t *testing.T) {
	svc, a, _, audits := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx, 1))
	row, ok, err := a.GetAuthorized(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, authz.RoleOwner, row.Role)
	require.Len(t, audits.entries, 1)

	require.NoError(t, svc.Initialize(ctx, 2))
	_, ok, err = a.GetAuthorized(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok, "second initialize must not grant a second owner")
}

func TestAddRequiresOutrankingActor(t *testing.T) {
	svc, a, _, _ := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, 1))

	require.NoError(t, svc.Add(ctx, 1, 2, authz.RoleAdmin))
	row, _, _ := a.GetAuthorized(ctx, 2)
	require.Equal(t, authz.RoleAdmin, row.Role)

	err := svc.Add(ctx, 2, 3, authz.RoleAdmin)
	require.Error(t, err, "admin cannot grant admin rank to a peer")

	require.NoError(t, svc.Add(ctx, 2, 3, authz.RoleUser))
}

func TestAddRejectsOwnerRoleAndDuplicate(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, 1))

	require.Error(t, svc.Add(ctx, 1, 2, authz.RoleOwner))
	require.NoError(t, svc.Add(ctx, 1, 2, authz.RoleUser))
	require.Error(t, svc.Add(ctx, 1, 2, authz.RoleUser), "already authorized")
}

func TestGenerateAndActivateInvite(t *testing.T) {
	svc, _, _, audits := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, 1))

	tok, err := svc.GenerateInvite(ctx, 1, authz.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, tok.Token)

	require.NoError(t, svc.ActivateInvite(ctx, tok.Token, 2))
	role, ok, err := svc.RoleOf(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, authz.RoleAdmin, role)

	err = svc.ActivateInvite(ctx, tok.Token, 3)
	require.Error(t, err, "token already used")

	var activated, generated bool
	for _, e := range audits.entries {
		if e.Action == audit.ActionInviteActivated {
			activated = true
		}
		if e.Action == audit.ActionInviteGenerated {
			generated = true
		}
	}
	require.True(t, activated)
	require.True(t, generated)
}

func TestActivateInviteRejectsExpired(t *testing.T) {
	svc, _, invites, _ := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, 1))

	tok, err := svc.GenerateInvite(ctx, 1, authz.RoleUser)
	require.NoError(t, err)

	expired := invites.rows[tok.Token]
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	invites.rows[tok.Token] = expired

	err = svc.ActivateInvite(ctx, tok.Token, 2)
	require.Error(t, err)
}

func TestUpdateRoleAndRemove(t *testing.T) {
	svc, a, _, _ := newTestService()
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, 1))
	require.NoError(t, svc.Add(ctx, 1, 2, authz.RoleUser))

	require.NoError(t, svc.UpdateRole(ctx, 1, 2, authz.RoleAdmin))
	row, _, _ := a.GetAuthorized(ctx, 2)
	require.Equal(t, authz.RoleAdmin, row.Role)

	require.Error(t, svc.UpdateRole(ctx, 1, 1, authz.RoleAdmin), "owner row immutable")

	require.NoError(t, svc.Remove(ctx, 1, 2))
	_, ok, _ := a.GetAuthorized(ctx, 2)
	require.False(t, ok)
}
