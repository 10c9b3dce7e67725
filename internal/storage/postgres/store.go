// Package postgres implements the storage interfaces backed by PostgreSQL,
// using plain database/sql with $N placeholders, scan helpers
// (toNullString/toNullTime) and sql.ErrNoRows surfaced on missing rows.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/nodevault/custodian/internal/domain/audit"
	"github.com/nodevault/custodian/internal/domain/authz"
	"github.com/nodevault/custodian/internal/domain/deadletter"
	"github.com/nodevault/custodian/internal/domain/invite"
	"github.com/nodevault/custodian/internal/domain/portfolio"
	"github.com/nodevault/custodian/internal/domain/principal"
	"github.com/nodevault/custodian/internal/domain/purchase"
	"github.com/nodevault/custodian/internal/domain/scheduler"
	"github.com/nodevault/custodian/internal/domain/transaction"
	"github.com/nodevault/custodian/internal/storage"
)

// Store implements storage.Store backed by a single *sql.DB.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- PrincipalStore ---------------------------------------------------------

func (s *Store) GetOrCreatePrincipal(ctx context.Context, principalID int64) (principal.Principal, error) {
	p, err := s.getPrincipal(ctx, principalID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return principal.Principal{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO principals (principal_id, address, encrypted_secret, dca_active, created_at, updated_at)
		VALUES ($1, '', NULL, false, $2, $2)
		ON CONFLICT (principal_id) DO NOTHING
	`, principalID, now)
	if err != nil {
		return principal.Principal{}, err
	}
	return s.getPrincipal(ctx, principalID)
}

func (s *Store) getPrincipal(ctx context.Context, principalID int64) (principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT principal_id, address, encrypted_secret, dca_active, created_at, updated_at
		FROM principals WHERE principal_id = $1
	`, principalID)

	var p principal.Principal
	var secret []byte
	if err := row.Scan(&p.PrincipalID, &p.Address, &secret, &p.DCAActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return principal.Principal{}, err
	}
	p.EncryptedSecret = secret
	return p, nil
}

func (s *Store) UpdatePrincipal(ctx context.Context, p principal.Principal) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE principals
		SET address = $2, encrypted_secret = $3, dca_active = $4, updated_at = $5
		WHERE principal_id = $1
	`, p.PrincipalID, p.Address, p.EncryptedSecret, p.DCAActive, p.UpdatedAt)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) ListActiveDCA(ctx context.Context) ([]principal.Principal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal_id, address, encrypted_secret, dca_active, created_at, updated_at
		FROM principals WHERE dca_active = true AND address != ''
		ORDER BY principal_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []principal.Principal
	for rows.Next() {
		var p principal.Principal
		var secret []byte
		if err := rows.Scan(&p.PrincipalID, &p.Address, &secret, &p.DCAActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.EncryptedSecret = secret
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveDCA(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM principals WHERE dca_active = true AND address != ''`).Scan(&count)
	return count, err
}

// --- AuthzStore --------------------------------------------------------------

func (s *Store) GetAuthorized(ctx context.Context, principalID int64) (authz.AuthorizedPrincipal, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT principal_id, role, added_by, created_at, updated_at
		FROM authorized_principals WHERE principal_id = $1
	`, principalID)

	var a authz.AuthorizedPrincipal
	var addedBy sql.NullInt64
	if err := row.Scan(&a.PrincipalID, &a.Role, &addedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return authz.AuthorizedPrincipal{}, false, nil
		}
		return authz.AuthorizedPrincipal{}, false, err
	}
	a.AddedBy = fromNullInt64(addedBy)
	return a, true, nil
}

func (s *Store) ListAuthorized(ctx context.Context) ([]authz.AuthorizedPrincipal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal_id, role, added_by, created_at, updated_at
		FROM authorized_principals ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.AuthorizedPrincipal
	for rows.Next() {
		var a authz.AuthorizedPrincipal
		var addedBy sql.NullInt64
		if err := rows.Scan(&a.PrincipalID, &a.Role, &addedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.AddedBy = fromNullInt64(addedBy)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAuthorized(ctx context.Context, a authz.AuthorizedPrincipal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authorized_principals (principal_id, role, added_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE SET role = $2, updated_at = $5
	`, a.PrincipalID, a.Role, toNullInt64(a.AddedBy), a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *Store) RemoveAuthorized(ctx context.Context, principalID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM authorized_principals WHERE principal_id = $1`, principalID)
	return err
}

func (s *Store) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM authorized_principals`).Scan(&count)
	return count, err
}

// --- InviteStore ---------------------------------------------------------------

func (s *Store) CreateInvite(ctx context.Context, t invite.Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (token, role, created_by, created_at, expires_at, used_by, used_at)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL)
	`, t.Token, t.Role, t.CreatedBy, t.CreatedAt, t.ExpiresAt)
	return err
}

func (s *Store) GetInvite(ctx context.Context, token string) (invite.Token, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, role, created_by, created_at, expires_at, used_by, used_at
		FROM invites WHERE token = $1
	`, token)

	var t invite.Token
	var usedBy sql.NullInt64
	var usedAt sql.NullTime
	if err := row.Scan(&t.Token, &t.Role, &t.CreatedBy, &t.CreatedAt, &t.ExpiresAt, &usedBy, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invite.Token{}, false, nil
		}
		return invite.Token{}, false, err
	}
	t.UsedBy = fromNullInt64(usedBy)
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return t, true, nil
}

// MarkUsed performs the single conditional write that defeats the
// double-activation race: only a row with usedBy still NULL is updated.
func (s *Store) MarkUsed(ctx context.Context, token string, principalID int64, usedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invites SET used_by = $2, used_at = $3
		WHERE token = $1 AND used_by IS NULL
	`, token, principalID, usedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// --- TransactionStore ----------------------------------------------------------

func (s *Store) CreateTransaction(ctx context.Context, tx transaction.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (principal_id, signature, asset, amount_quote, amount_asset, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.PrincipalID, tx.Signature, tx.Asset, tx.AmountQuote, tx.AmountAsset, tx.CreatedAt)
	return err
}

func (s *Store) ListTransactions(ctx context.Context, principalID int64, limit int) ([]transaction.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal_id, signature, asset, amount_quote, amount_asset, created_at
		FROM transactions WHERE principal_id = $1 ORDER BY created_at DESC LIMIT $2
	`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []transaction.Transaction
	for rows.Next() {
		var tx transaction.Transaction
		if err := rows.Scan(&tx.ID, &tx.PrincipalID, &tx.Signature, &tx.Asset, &tx.AmountQuote, &tx.AmountAsset, &tx.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// --- DeadLetterStore -------------------------------------------------------------

func (s *Store) CreateDeadLetter(ctx context.Context, dl deadletter.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letter_transactions
			(principal_id, signature, asset, amount_quote, amount_asset, persist_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, dl.PrincipalID, dl.Signature, dl.Asset, dl.AmountQuote, dl.AmountAsset, dl.PersistError, dl.CreatedAt)
	return err
}

func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]deadletter.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal_id, signature, asset, amount_quote, amount_asset, persist_error, created_at
		FROM dead_letter_transactions ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []deadletter.Transaction
	for rows.Next() {
		var dl deadletter.Transaction
		if err := rows.Scan(&dl.ID, &dl.PrincipalID, &dl.Signature, &dl.Asset, &dl.AmountQuote, &dl.AmountAsset, &dl.PersistError, &dl.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// --- PurchaseStore ---------------------------------------------------------------

func (s *Store) CreatePurchase(ctx context.Context, p purchase.Purchase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (principal_id, asset, amount_quote, amount_asset, price_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.PrincipalID, p.Asset, p.AmountQuote, p.AmountAsset, toNullString(p.PriceUSD), p.CreatedAt)
	return err
}

func (s *Store) ListPurchases(ctx context.Context, principalID int64, limit int) ([]purchase.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, principal_id, asset, amount_quote, amount_asset, price_usd, created_at
		FROM purchases WHERE principal_id = $1 ORDER BY created_at DESC LIMIT $2
	`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []purchase.Purchase
	for rows.Next() {
		var p purchase.Purchase
		var priceUSD sql.NullString
		if err := rows.Scan(&p.ID, &p.PrincipalID, &p.Asset, &p.AmountQuote, &p.AmountAsset, &priceUSD, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PriceUSD = priceUSD.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- PortfolioStore --------------------------------------------------------------

func (s *Store) GetPortfolio(ctx context.Context, principalID int64) (portfolio.Portfolio, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT principal_id, balances, updated_at FROM portfolios WHERE principal_id = $1
	`, principalID)

	var p portfolio.Portfolio
	var balancesRaw []byte
	if err := row.Scan(&p.PrincipalID, &balancesRaw, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return portfolio.Portfolio{}, false, nil
		}
		return portfolio.Portfolio{}, false, err
	}
	p.Balances = map[string]string{}
	if len(balancesRaw) > 0 {
		if err := json.Unmarshal(balancesRaw, &p.Balances); err != nil {
			return portfolio.Portfolio{}, false, err
		}
	}
	return p, true, nil
}

func (s *Store) UpsertPortfolio(ctx context.Context, p portfolio.Portfolio) error {
	balancesRaw, err := json.Marshal(p.Balances)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolios (principal_id, balances, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id) DO UPDATE SET balances = $2, updated_at = $3
	`, p.PrincipalID, balancesRaw, p.UpdatedAt)
	return err
}

// --- SchedulerStore --------------------------------------------------------------

// schedulerRowID is the sole permitted id of the singleton scheduler_state row.
const schedulerRowID = 1

func (s *Store) GetSchedulerState(ctx context.Context) (scheduler.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT last_run_at, interval_ms, updated_at FROM scheduler_state WHERE id = $1
	`, schedulerRowID)

	var st scheduler.State
	var lastRun sql.NullTime
	if err := row.Scan(&lastRun, &st.IntervalMS, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scheduler.State{}, nil
		}
		return scheduler.State{}, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		st.LastRunAt = &t
	}
	return st, nil
}

func (s *Store) SaveSchedulerState(ctx context.Context, st scheduler.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_state (id, last_run_at, interval_ms, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET last_run_at = $2, interval_ms = $3, updated_at = $4
	`, schedulerRowID, toNullTime(derefTime(st.LastRunAt)), st.IntervalMS, st.UpdatedAt)
	return err
}

// --- AuditStore ------------------------------------------------------------------

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (actor_principal_id, action, target_principal_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ActorPrincipalID, e.Action, toNullInt64(e.TargetPrincipalID), e.Details, e.CreatedAt)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_principal_id, action, target_principal_id, details, created_at
		FROM audit_entries ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var target sql.NullInt64
		if err := rows.Scan(&e.ID, &e.ActorPrincipalID, &e.Action, &target, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TargetPrincipalID = fromNullInt64(target)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- scan helpers ------------------------------------------------------------------

func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	val := v.Int64
	return &val
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505). Nothing in the module calls it.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
