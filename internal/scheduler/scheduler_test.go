package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nodevault/custodian/internal/domain/portfolio"
	"github.com/nodevault/custodian/internal/domain/principal"
	"github.com/nodevault/custodian/internal/domain/purchase"
	domain "github.com/nodevault/custodian/internal/domain/scheduler"
	"github.com/nodevault/custodian/internal/logging"
)

type fakePrincipalStore struct {
	active []principal.Principal
}

func (f *fakePrincipalStore) GetOrCreatePrincipal(ctx context.Context, id int64) (principal.Principal, error) {
	return principal.Principal{}, nil
}
func (f *fakePrincipalStore) UpdatePrincipal(ctx context.Context, p principal.Principal) error { return nil }
func (f *fakePrincipalStore) ListActiveDCA(ctx context.Context) ([]principal.Principal, error) {
	return f.active, nil
}
func (f *fakePrincipalStore) CountActiveDCA(ctx context.Context) (int, error) { return len(f.active), nil }

type fakePurchaseStore struct {
	mu    sync.Mutex
	count int64
}

func (f *fakePurchaseStore) CreatePurchase(ctx context.Context, p purchase.Purchase) error {
	atomic.AddInt64(&f.count, 1)
	return nil
}
func (f *fakePurchaseStore) ListPurchases(ctx context.Context, principalID int64, limit int) ([]purchase.Purchase, error) {
	return nil, nil
}

type fakePortfolioStore struct {
	mu   sync.Mutex
	data map[int64]portfolio.Portfolio
}

func newFakePortfolioStore() *fakePortfolioStore {
	return &fakePortfolioStore{data: make(map[int64]portfolio.Portfolio)}
}
func (f *fakePortfolioStore) GetPortfolio(ctx context.Context, id int64) (portfolio.Portfolio, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.data[id]
	return p, ok, nil
}
func (f *fakePortfolioStore) UpsertPortfolio(ctx context.Context, p portfolio.Portfolio) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[p.PrincipalID] = p
	return nil
}

type fakeSchedulerStore struct {
	mu    sync.Mutex
	state domain.State
}

func (f *fakeSchedulerStore) GetSchedulerState(ctx context.Context) (domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}
func (f *fakeSchedulerStore) SaveSchedulerState(ctx context.Context, s domain.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	return nil
}

func TestCatchUpRunsBoundedMissedTicks(t *testing.T) {
	principals := &fakePrincipalStore{active: []principal.Principal{{PrincipalID: 1, Address: "addr1", DCAActive: true}}}
	purchases := &fakePurchaseStore{}
	portfolios := newFakePortfolioStore()

	start := time.Now().Add(-10 * time.Minute)
	schedStore := &fakeSchedulerStore{state: domain.State{LastRunAt: &start, IntervalMS: 60_000}}

	sched := New(Config{
		Principals: principals, Purchases: purchases, Portfolios: portfolios, Scheduler: schedStore,
		DCAAmountQuote: "10", IntervalMS: 60_000, MaxCatchup: 3, TargetAsset: "NEO",
		Price:        func(ctx context.Context) (decimal.Decimal, error) { return decimal.NewFromInt(10), nil },
		CheckBalance: func(ctx context.Context, addr string) (decimal.Decimal, error) { return decimal.NewFromInt(1000), nil },
		Logger:       logging.NewDefault(),
	})

	state := sched.catchUp(context.Background(), schedStore.state)
	require.Equal(t, int64(3), atomic.LoadInt64(&purchases.count), "missed ticks capped at MaxCatchup")
	require.NotNil(t, state.LastRunAt)
}

func TestStartNoOpWithNoActivePrincipals(t *testing.T) {
	principals := &fakePrincipalStore{}
	schedStore := &fakeSchedulerStore{}
	sched := New(Config{
		Principals: principals, Scheduler: schedStore, Logger: logging.NewDefault(),
		Price: func(ctx context.Context) (decimal.Decimal, error) { return decimal.NewFromInt(1), nil },
	})

	require.NoError(t, sched.Start(context.Background()))
	require.False(t, sched.running)
}
