// Package storage defines the persistence boundary: one interface per
// entity. Concrete implementations live in storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/nodevault/custodian/internal/domain/audit"
	"github.com/nodevault/custodian/internal/domain/authz"
	"github.com/nodevault/custodian/internal/domain/deadletter"
	"github.com/nodevault/custodian/internal/domain/invite"
	"github.com/nodevault/custodian/internal/domain/portfolio"
	"github.com/nodevault/custodian/internal/domain/principal"
	"github.com/nodevault/custodian/internal/domain/purchase"
	"github.com/nodevault/custodian/internal/domain/scheduler"
	"github.com/nodevault/custodian/internal/domain/transaction"
)

// PrincipalStore persists lazily-created custodial accounts.
type PrincipalStore interface {
	GetOrCreatePrincipal(ctx context.Context, principalID int64) (principal.Principal, error)
	UpdatePrincipal(ctx context.Context, p principal.Principal) error
	ListActiveDCA(ctx context.Context) ([]principal.Principal, error)
	CountActiveDCA(ctx context.Context) (int, error)
}

// AuthzStore persists the owner/admin/user role table.
type AuthzStore interface {
	GetAuthorized(ctx context.Context, principalID int64) (authz.AuthorizedPrincipal, bool, error)
	ListAuthorized(ctx context.Context) ([]authz.AuthorizedPrincipal, error)
	UpsertAuthorized(ctx context.Context, a authz.AuthorizedPrincipal) error
	RemoveAuthorized(ctx context.Context, principalID int64) error
	CountActive(ctx context.Context) (int, error)
}

// InviteStore persists invite tokens.
type InviteStore interface {
	CreateInvite(ctx context.Context, t invite.Token) error
	GetInvite(ctx context.Context, token string) (invite.Token, bool, error)
	// MarkUsed performs the single conditional write `WHERE token = ? AND
	// usedBy IS NULL` and reports whether it matched a row.
	MarkUsed(ctx context.Context, token string, principalID int64, usedAt time.Time) (bool, error)
}

// TransactionStore persists successfully-submitted on-chain swaps.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx transaction.Transaction) error
	ListTransactions(ctx context.Context, principalID int64, limit int) ([]transaction.Transaction, error)
}

// DeadLetterStore persists on-chain-successful swaps whose Transaction write
// failed, for manual reconciliation.
type DeadLetterStore interface {
	CreateDeadLetter(ctx context.Context, dl deadletter.Transaction) error
	ListDeadLetters(ctx context.Context, limit int) ([]deadletter.Transaction, error)
}

// PurchaseStore persists simulation-mode DCA purchases.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, p purchase.Purchase) error
	ListPurchases(ctx context.Context, principalID int64, limit int) ([]purchase.Purchase, error)
}

// PortfolioStore persists the simulation-mode per-principal portfolio
// singleton.
type PortfolioStore interface {
	GetPortfolio(ctx context.Context, principalID int64) (portfolio.Portfolio, bool, error)
	UpsertPortfolio(ctx context.Context, p portfolio.Portfolio) error
}

// SchedulerStore persists the singleton DCA scheduler row.
type SchedulerStore interface {
	GetSchedulerState(ctx context.Context) (scheduler.State, error)
	SaveSchedulerState(ctx context.Context, s scheduler.State) error
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	AppendAudit(ctx context.Context, e audit.Entry) error
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Store aggregates every repository the engine depends on; concrete
// implementations (storage/postgres) satisfy all of them against one
// *sql.DB.
type Store interface {
	PrincipalStore
	AuthzStore
	InviteStore
	TransactionStore
	DeadLetterStore
	PurchaseStore
	PortfolioStore
	SchedulerStore
	AuditStore
}
