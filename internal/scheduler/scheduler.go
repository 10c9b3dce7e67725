// Package scheduler implements the DCA scheduler: a persistent,
// catch-up-capable periodic executor over the active-principal set, run on
// a context.WithCancel + sync.WaitGroup lifecycle with a fixed interval,
// catch-up pass and listener model.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nodevault/custodian/internal/domain/portfolio"
	"github.com/nodevault/custodian/internal/domain/principal"
	"github.com/nodevault/custodian/internal/domain/purchase"
	domain "github.com/nodevault/custodian/internal/domain/scheduler"
	"github.com/nodevault/custodian/internal/logging"
	"github.com/nodevault/custodian/internal/metrics"
	"github.com/nodevault/custodian/internal/storage"
)

const retryDelay = 60 * time.Second

// PriceSource returns the current native/quote price for the configured
// target asset, used to convert a fixed quote-asset DCA amount into a
// required native-asset amount.
type PriceSource func(ctx context.Context) (decimal.Decimal, error)

// BalanceChecker reports a principal's available quote-asset balance.
type BalanceChecker func(ctx context.Context, address string) (decimal.Decimal, error)

// Config wires the scheduler's dependencies.
type Config struct {
	Principals storage.PrincipalStore
	Purchases  storage.PurchaseStore
	Portfolios storage.PortfolioStore
	Scheduler  storage.SchedulerStore

	DCAAmountQuote string
	IntervalMS     int64
	MaxCatchup     int
	TargetAsset    string

	Price         PriceSource
	CheckBalance  BalanceChecker
	Logger        *logging.Logger
	Now           func() time.Time
}

// Scheduler runs the DCA tick loop.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	listeners []func(running bool)
}

// New builds a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxCatchup <= 0 {
		cfg.MaxCatchup = 100
	}
	return &Scheduler{cfg: cfg}
}

// OnStatusChange registers a listener invoked whenever the scheduler starts
// or stops.
func (s *Scheduler) OnStatusChange(fn func(running bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Scheduler) notify(running bool) {
	for _, fn := range s.listeners {
		fn(running)
	}
}

// Start is a no-op if already running or if there are no active principals;
// otherwise it initializes persistent state, marks running, notifies
// listeners, and runs catch-up before scheduling the steady-state loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	count, err := s.cfg.Principals.CountActiveDCA(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if count == 0 {
		s.mu.Unlock()
		return nil
	}

	state, err := s.cfg.Scheduler.GetSchedulerState(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if state.IntervalMS == 0 {
		state.IntervalMS = s.cfg.IntervalMS
		state.UpdatedAt = s.cfg.Now()
		if err := s.cfg.Scheduler.SaveSchedulerState(ctx, state); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.notify(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCatchupThenLoop(runCtx, state)
	}()
	return nil
}

// Stop cancels the pending timer, flips to not-running, and notifies
// listeners.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.notify(false)
	return nil
}

// OnUserStatusChanged queries the active-principal count and transitions
// running <-> stopped accordingly; idempotent.
func (s *Scheduler) OnUserStatusChanged(ctx context.Context) error {
	count, err := s.cfg.Principals.CountActiveDCA(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return s.Stop(ctx)
	}
	return s.Start(ctx)
}

func (s *Scheduler) runCatchupThenLoop(ctx context.Context, state domain.State) {
	state = s.catchUp(ctx, state)
	s.loop(ctx, state)
}

// catchUp runs min(missed, MaxCatchup) tick executions with synthetic
// timestamps lastRunAt + i*interval; a failed catch-up tick aborts further
// catch-up.
func (s *Scheduler) catchUp(ctx context.Context, state domain.State) domain.State {
	if state.LastRunAt == nil {
		return state
	}
	interval := time.Duration(state.IntervalMS) * time.Millisecond
	now := s.cfg.Now()
	missed := int64(now.Sub(*state.LastRunAt) / interval)
	if missed <= 0 {
		return state
	}
	if missed > int64(s.cfg.MaxCatchup) {
		s.cfg.Logger.WithFields(map[string]interface{}{
			"missed": missed, "cap": s.cfg.MaxCatchup,
		}).Warn("dca scheduler catch-up exceeds cap, truncating")
		missed = int64(s.cfg.MaxCatchup)
	}

	for i := int64(1); i <= missed; i++ {
		select {
		case <-ctx.Done():
			return state
		default:
		}
		if err := s.tick(ctx); err != nil {
			s.cfg.Logger.WithFields(map[string]interface{}{"error": err}).Warn("dca scheduler catch-up tick failed, aborting remaining catch-up")
			metrics.RecordSchedulerTick("catchup_failed", int(i))
			return state
		}
		runAt := state.LastRunAt.Add(time.Duration(i) * interval)
		state.LastRunAt = &runAt
		state.UpdatedAt = s.cfg.Now()
		_ = s.cfg.Scheduler.SaveSchedulerState(ctx, state)
	}
	metrics.RecordSchedulerTick("catchup", int(missed))
	return state
}

func (s *Scheduler) loop(ctx context.Context, state domain.State) {
	interval := time.Duration(state.IntervalMS) * time.Millisecond
	retrying := false

	for {
		delay := s.nextDelay(state, interval)
		if retrying {
			delay = retryDelay
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.tick(ctx); err != nil {
			s.cfg.Logger.WithFields(map[string]interface{}{"error": err}).Warn("dca scheduler tick failed, re-arming with bounded retry delay")
			metrics.RecordSchedulerTick("failed", 0)
			retrying = true
			continue
		}
		retrying = false
		metrics.RecordSchedulerTick("ran", 0)

		now := s.cfg.Now()
		state.LastRunAt = &now
		state.UpdatedAt = now
		_ = s.cfg.Scheduler.SaveSchedulerState(ctx, state)
		interval = time.Duration(state.IntervalMS) * time.Millisecond
	}
}

func (s *Scheduler) nextDelay(state domain.State, interval time.Duration) time.Duration {
	if state.LastRunAt == nil {
		return 0
	}
	remaining := state.LastRunAt.Add(interval).Sub(s.cfg.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// tick executes one DCA pass over every active principal.
func (s *Scheduler) tick(ctx context.Context) error {
	principals, err := s.cfg.Principals.ListActiveDCA(ctx)
	if err != nil {
		return err
	}

	price, err := s.cfg.Price(ctx)
	if err != nil {
		return err
	}

	amountQuote, err := decimal.NewFromString(s.cfg.DCAAmountQuote)
	if err != nil {
		return err
	}
	requiredAsset := amountQuote.Div(price)

	for _, p := range principals {
		s.executeOne(ctx, p, amountQuote, requiredAsset)
	}
	return nil
}

func (s *Scheduler) executeOne(ctx context.Context, p principal.Principal, amountQuote, requiredAsset decimal.Decimal) {
	if !p.HasWallet() {
		return
	}

	available, err := s.cfg.CheckBalance(ctx, p.Address)
	if err != nil {
		s.cfg.Logger.WithFields(map[string]interface{}{"principal_id": p.PrincipalID, "error": err}).Warn("dca balance check failed")
		return
	}
	if available.LessThan(amountQuote) {
		return
	}

	now := s.cfg.Now()
	buy := purchase.Purchase{
		PrincipalID: p.PrincipalID,
		Asset:       s.cfg.TargetAsset,
		AmountQuote: amountQuote.String(),
		AmountAsset: requiredAsset.String(),
		CreatedAt:   now,
	}
	if err := s.cfg.Purchases.CreatePurchase(ctx, buy); err != nil {
		s.cfg.Logger.WithFields(map[string]interface{}{"principal_id": p.PrincipalID, "error": err}).Warn("dca purchase persistence failed")
		return
	}

	pf, found, err := s.cfg.Portfolios.GetPortfolio(ctx, p.PrincipalID)
	if err != nil {
		return
	}
	if !found {
		pf = portfolio.Portfolio{PrincipalID: p.PrincipalID, Balances: map[string]string{}}
	}
	current, _ := decimal.NewFromString(pf.Balances[s.cfg.TargetAsset])
	pf.Balances[s.cfg.TargetAsset] = current.Add(requiredAsset).String()
	pf.UpdatedAt = now
	_ = s.cfg.Portfolios.UpsertPortfolio(ctx, pf)
}
