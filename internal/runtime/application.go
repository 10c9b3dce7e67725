// Package runtime wires every component into one running process: config,
// logger, database + migrations, domain services, the HTTP gateway, the DCA
// scheduler and a maintenance cron.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/nodevault/custodian/internal/authz"
	"github.com/nodevault/custodian/internal/balance"
	"github.com/nodevault/custodian/internal/chain"
	"github.com/nodevault/custodian/internal/config"
	"github.com/nodevault/custodian/internal/crypto"
	"github.com/nodevault/custodian/internal/gateway"
	"github.com/nodevault/custodian/internal/logging"
	"github.com/nodevault/custodian/internal/metrics"
	"github.com/nodevault/custodian/internal/migrations"
	"github.com/nodevault/custodian/internal/oplock"
	"github.com/nodevault/custodian/internal/quote"
	"github.com/nodevault/custodian/internal/ratelimit"
	"github.com/nodevault/custodian/internal/resilience"
	"github.com/nodevault/custodian/internal/scheduler"
	"github.com/nodevault/custodian/internal/secretstore"
	"github.com/nodevault/custodian/internal/storage/postgres"
	"github.com/nodevault/custodian/internal/swap"
)

// Application owns every long-lived component and the process's run loop.
type Application struct {
	cfg *config.Config
	log *logging.Logger

	db         *sql.DB
	gw         *gateway.Gateway
	sched      *scheduler.Scheduler
	locks      *oplock.Locker
	maint      *cron.Cron
	listenAddr string
}

// New builds an Application from the process environment.
func New() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configurePool(db)

	if err := migrations.Apply(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db)

	custody, err := crypto.NewKeyCustody(append([]byte(nil), cfg.MasterEncryptionKey...))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init key custody: %w", err)
	}

	authzSvc := authz.New(authz.Config{Authz: store, Invites: store, Audit: store, Logger: log})
	if err := authzSvc.Initialize(context.Background(), cfg.OwnerID); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize owner authorization: %w", err)
	}

	rpcBreaker := resilience.New(resilience.LenientServiceCBConfig(log))
	rpcClient := chain.NewBatchRpcClient(cfg.RPCURL, &http.Client{Timeout: 15 * time.Second}, rpcBreaker)
	submitter := chain.NewSubmitter(rpcClient)
	balances := balance.NewRepository(rpcClient, cfg.TrackedAssets, cfg.BalanceCacheTTL)

	quoteBreaker := resilience.New(resilience.StrictServiceCBConfig(log))
	quoteClient, err := quote.New(quote.Config{
		BaseURL:    cfg.QuoteBaseURL,
		APIKey:     cfg.QuoteAPIKey,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		Breaker:    quoteBreaker,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init quote client: %w", err)
	}

	locks := oplock.NewLocker()
	sessions, err := gateway.NewSessionManager(cfg.TransportToken)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init session manager: %w", err)
	}
	limiter := ratelimit.NewLimiter(cfg.RateLimitWindowMS, cfg.RateLimitMaxRequests)
	secrets := secretstore.NewSecretStore(custody)
	imports := secretstore.NewImportSession()

	executor := swap.New(swap.Config{
		QuoteMint:      chain.GasNativeScriptHash,
		ResolveSigner:  resolveSigner(cfg, custody, store),
		ResolveAsset:   resolveAsset(cfg),
		Balances:       balances,
		QuoteClient:    quoteClient,
		Submitter:      submitter,
		Locks:          locks,
		Transactions:   store,
		DeadLetters:    store,
		ConfirmTimeout: cfg.SwapConfirmTimeout,
		Logger:         log,
	})

	targetAsset := primaryTrackedAsset(cfg)
	if targetAsset == "" {
		db.Close()
		return nil, fmt.Errorf("runtime: no tracked asset configured for DCA purchases")
	}
	sched := scheduler.New(scheduler.Config{
		Principals:     store,
		Purchases:      store,
		Portfolios:     store,
		Scheduler:      store,
		DCAAmountQuote: cfg.DCAAmountQuote,
		IntervalMS:     cfg.DCAIntervalMS,
		MaxCatchup:     cfg.DCAMaxCatchup,
		TargetAsset:    targetAsset,
		Price:          priceSource(quoteClient, cfg, targetAsset),
		CheckBalance:   balanceChecker(balances),
		Logger:         log,
	})

	gw := gateway.New(gateway.Config{
		Sessions:    sessions,
		Authz:       authzSvc,
		RateLimiter: limiter,
		Swap:        executor,
		Scheduler:   sched,
		Principals:  store,
		Secrets:     secrets,
		Imports:     imports,
		Custody:     custody,
		Locks:       locks,
		OwnerID:     cfg.OwnerID,
		Logger:      log,
		PublicURL:   cfg.PublicURL,
	})

	maint := cron.New()
	if _, err := maint.AddFunc("@daily", deadLetterSweep(store, log)); err != nil {
		db.Close()
		return nil, fmt.Errorf("schedule maintenance cron: %w", err)
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		db:         db,
		gw:         gw,
		sched:      sched,
		locks:      locks,
		maint:      maint,
		listenAddr: fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
	}, nil
}

// Run starts every background component and the HTTP listener, then blocks
// until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.maint.Start()
	if err := a.gw.Start(a.listenAddr); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	a.log.WithFields(map[string]interface{}{"addr": a.listenAddr}).Info("gateway listening")

	<-ctx.Done()
	return nil
}

// Shutdown stops every component in reverse-start order and releases the
// database connection.
func (a *Application) Shutdown(ctx context.Context) error {
	if err := a.gw.Stop(ctx); err != nil {
		a.log.WithFields(map[string]interface{}{"error": err}).Warn("gateway shutdown error")
	}
	a.maint.Stop()
	if err := a.sched.Stop(ctx); err != nil {
		a.log.WithFields(map[string]interface{}{"error": err}).Warn("scheduler shutdown error")
	}
	a.locks.Stop()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// MetricsHandler exposes the Prometheus collectors, mounted separately from
// the gateway's own authenticated surface so scraping needs no bearer token.
func (a *Application) MetricsHandler() http.Handler {
	return metrics.Handler()
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
}

// primaryTrackedAsset is the DCA scheduler's purchase target: the first
// configured tracked asset, purchased using GAS as the quote asset.
func primaryTrackedAsset(cfg *config.Config) string {
	if len(cfg.TrackedAssets) > 0 {
		return cfg.TrackedAssets[0]
	}
	return ""
}

func resolveAsset(cfg *config.Config) swap.AssetResolver {
	tracked := make(map[string]bool, len(cfg.TrackedAssets))
	for _, a := range cfg.TrackedAssets {
		tracked[a] = true
	}
	return func(asset string) (string, bool) {
		asset = strings.TrimSpace(asset)
		if tracked[asset] {
			return asset, true
		}
		return "", false
	}
}

// resolveSigner decrypts a principal's stored signing material, falling
// back to a single process-bound dev wallet outside of production so a
// local engine can run without a key ever touching custody.
func resolveSigner(cfg *config.Config, custody *crypto.KeyCustody, store *postgres.Store) swap.SignerResolver {
	return func(ctx context.Context, principalID int64) (chain.TxSigner, string, error) {
		if cfg.IsDevelopment() && cfg.DevWalletPrivateKey != "" {
			signer, err := chain.NewSignerFromHex(cfg.DevWalletPrivateKey)
			if err != nil {
				return nil, "", err
			}
			return signer, signer.Address(), nil
		}

		p, err := store.GetOrCreatePrincipal(ctx, principalID)
		if err != nil {
			return nil, "", err
		}
		if !p.HasWallet() {
			return nil, "", fmt.Errorf("runtime: principal %d has no wallet on file", principalID)
		}
		plaintext, err := custody.Decrypt(subjectFor(principalID), crypto.InfoSigningMaterial, string(p.EncryptedSecret))
		if err != nil {
			return nil, "", err
		}
		signer, err := chain.NewSigner(plaintext)
		if err != nil {
			return nil, "", err
		}
		return signer, p.Address, nil
	}
}

func subjectFor(principalID int64) []byte {
	return []byte(fmt.Sprintf("principal:%d", principalID))
}

// priceSource derives the native-asset price in quote-asset terms from a
// reference quote for the configured DCA amount, so the scheduler's
// amount/price division lines up with what a live swap would actually fill.
func priceSource(client *quote.Client, cfg *config.Config, targetAsset string) scheduler.PriceSource {
	return func(ctx context.Context) (decimal.Decimal, error) {
		refAmount, err := decimal.NewFromString(cfg.DCAAmountQuote)
		if err != nil {
			return decimal.Zero, err
		}
		q, err := client.GetQuote(ctx, quote.QuoteParams{
			InputMint:  chain.GasNativeScriptHash,
			OutputMint: targetAsset,
			Amount:     refAmount,
		})
		if err != nil {
			return decimal.Zero, err
		}
		if q.OutputAmount.IsZero() {
			return decimal.Zero, fmt.Errorf("runtime: zero-output quote for price lookup")
		}
		return refAmount.Div(q.OutputAmount), nil
	}
}

func balanceChecker(repo *balance.Repository) scheduler.BalanceChecker {
	return func(ctx context.Context, addr string) (decimal.Decimal, error) {
		snap, err := repo.GetBalances(ctx, addr)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(snap.Native)
	}
}

// deadLetterSweep logs any unresolved dead-letter transaction once a day so
// an operator notices a swap that settled on-chain but never got its
// Transaction row, instead of that record sitting silent in the database.
func deadLetterSweep(store *postgres.Store, log *logging.Logger) func() {
	return func() {
		entries, err := store.ListDeadLetters(context.Background(), 100)
		if err != nil {
			log.WithFields(map[string]interface{}{"error": err}).Warn("dead letter sweep failed")
			return
		}
		if len(entries) > 0 {
			log.WithFields(map[string]interface{}{"count": len(entries)}).Warn("unresolved dead letter transactions")
		}
	}
}
