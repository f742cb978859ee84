package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/repository"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
	"github.com/utafrali/facetindex/pkg/logger"
)

// priceDecimals is the precision requested from the price calculator.
const priceDecimals = 6

// PriceCalculator computes one product price.
type PriceCalculator interface {
	ComputePrice(ctx context.Context, q domain.PriceQuery) (decimal.Decimal, error)
}

// ContinuationScheduler queues the remainder of a price index run.
type ContinuationScheduler interface {
	ScheduleContinuation(ctx context.Context, job domain.PriceIndexJob) error
}

// PriceIndexConfig bounds one price index invocation.
type PriceIndexConfig struct {
	PageSize int
	// TimeBudget is the default and the maximum wall clock budget.
	TimeBudget time.Duration
	// MemoryLimit is the heap ceiling in bytes; zero disables the check.
	MemoryLimit uint64
}

// PriceIndexEngine computes per product, currency, shop and country price
// ranges in resumable chunks. Runs are serialized within the process.
type PriceIndexEngine struct {
	catalog   repository.CatalogReader
	prices    repository.PriceIndexRepository
	settings  repository.SettingsRepository
	calc      PriceCalculator
	scheduler ContinuationScheduler
	cfg       PriceIndexConfig
	logger    *slog.Logger

	mu        sync.Mutex
	now       func() time.Time
	heapAlloc func() uint64

	// Background continuations run under bgCtx and are tracked by bg.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// NewPriceIndexEngine creates a new price index engine. scheduler may be
// nil, in which case runs always continue synchronously. When a
// continuation cannot be queued, the remainder runs in the background until
// Close.
func NewPriceIndexEngine(
	catalog repository.CatalogReader,
	prices repository.PriceIndexRepository,
	settings repository.SettingsRepository,
	calc PriceCalculator,
	scheduler ContinuationScheduler,
	cfg PriceIndexConfig,
	logger *slog.Logger,
) *PriceIndexEngine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.TimeBudget <= 0 {
		cfg.TimeBudget = 5 * time.Second
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &PriceIndexEngine{
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		catalog:   catalog,
		prices:    prices,
		settings:  settings,
		calc:      calc,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		heapAlloc: readHeapAlloc,
	}
}

func readHeapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// FullReindex indexes every eligible product after cursor.
func (e *PriceIndexEngine) FullReindex(ctx context.Context, cursor int64, budget time.Duration) (domain.PriceIndexResult, error) {
	return e.Run(ctx, domain.PriceIndexJob{Mode: domain.IndexModeFull, Cursor: cursor, Budget: budget})
}

// IncrementalReindex indexes eligible products missing from the index.
func (e *PriceIndexEngine) IncrementalReindex(ctx context.Context, cursor int64, budget time.Duration) (domain.PriceIndexResult, error) {
	return e.Run(ctx, domain.PriceIndexJob{Mode: domain.IndexModeIncremental, Cursor: cursor, Budget: budget})
}

// Run executes one invocation of a price index job. It returns the terminal
// cursor once every product has been visited. Otherwise interactive jobs
// return the resume cursor; other jobs queue a continuation and fall back
// to continuing in the background when it cannot be queued. Without a
// scheduler the run continues synchronously.
func (e *PriceIndexEngine) Run(ctx context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error) {
	if !job.Mode.IsValid() {
		return domain.PriceIndexResult{}, apperrors.InvalidInput(fmt.Sprintf("unknown index mode %q", job.Mode))
	}
	if job.Cursor < 0 {
		return domain.PriceIndexResult{}, apperrors.InvalidInput("cursor must not be negative")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	// Replacing rows only makes sense when every product is revisited.
	if job.Mode != domain.IndexModeFull {
		job.Smart = false
	}
	budget := e.cfg.TimeBudget
	if job.Budget > 0 && job.Budget < budget {
		budget = job.Budget
	}
	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.WithContext(ctx, e.logger)

	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	defer func() { priceIndexRunDuration.Observe(e.now().Sub(start).Seconds()) }()

	if job.Mode == domain.IndexModeFull && job.Cursor == 0 && !job.Smart {
		if err := e.prices.Truncate(ctx); err != nil {
			return domain.PriceIndexResult{}, fmt.Errorf("run price index: %w", err)
		}
	}

	count, err := e.catalog.CountEligible(ctx, job.Mode)
	if err != nil {
		return domain.PriceIndexResult{}, fmt.Errorf("run price index: %w", err)
	}
	pctx, err := e.pricingContext(ctx)
	if err != nil {
		return domain.PriceIndexResult{}, fmt.Errorf("run price index: %w", err)
	}

	result := domain.PriceIndexResult{Cursor: job.Cursor, Count: count}
	for {
		cursor, done, n, err := e.runChunk(ctx, pctx, job, result.Cursor, budget)
		result.Cursor = cursor
		result.Processed += n
		if err != nil {
			return result, fmt.Errorf("run price index at cursor %d: %w", cursor, err)
		}

		if done {
			if err := e.settings.SetIndexed(ctx, true); err != nil {
				return result, fmt.Errorf("run price index: %w", err)
			}
			result.Cursor = domain.TerminalCursor
			result.Done = true
			log.InfoContext(ctx, "price index complete",
				slog.String("mode", string(job.Mode)),
				slog.Int("processed", result.Processed),
			)
			return result, nil
		}

		if job.Interactive {
			log.InfoContext(ctx, "price index chunk done",
				slog.Int64("cursor", result.Cursor),
				slog.Int("count", count),
			)
			return result, nil
		}

		if e.scheduler != nil {
			next := domain.PriceIndexJob{ID: job.ID, Mode: job.Mode, Cursor: result.Cursor, Smart: job.Smart}
			result.Continued = true
			if err := e.scheduler.ScheduleContinuation(ctx, next); err != nil {
				log.WarnContext(ctx, "failed to schedule price index continuation, continuing in background",
					slog.Int64("cursor", result.Cursor),
					slog.String("error", err.Error()),
				)
				e.continueInBackground(next)
				return result, nil
			}
			log.InfoContext(ctx, "price index continuation scheduled", slog.Int64("cursor", result.Cursor))
			return result, nil
		}
	}
}

// continueInBackground runs job detached from the caller. It starts once
// the current run releases the engine.
func (e *PriceIndexEngine) continueInBackground(job domain.PriceIndexJob) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if e.bgCtx.Err() != nil {
			return
		}
		if _, err := e.Run(e.bgCtx, job); err != nil {
			e.logger.ErrorContext(e.bgCtx, "background price index continuation failed",
				slog.String("job_id", job.ID),
				slog.Int64("cursor", job.Cursor),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every background continuation has finished.
func (e *PriceIndexEngine) Wait() {
	e.bg.Wait()
}

// Close stops background continuations and waits for them to return.
func (e *PriceIndexEngine) Close() {
	e.bgCancel()
	e.bg.Wait()
}

// runChunk processes pages until the product list is exhausted or a budget
// runs out. Budgets are checked between pages.
func (e *PriceIndexEngine) runChunk(
	ctx context.Context,
	pctx *domain.PricingContext,
	job domain.PriceIndexJob,
	cursor int64,
	budget time.Duration,
) (int64, bool, int, error) {
	deadline := e.now().Add(budget)
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			return cursor, false, processed, err
		}

		ids, err := e.catalog.ProductPage(ctx, job.Mode, cursor, e.cfg.PageSize)
		if err != nil {
			return cursor, false, processed, err
		}
		for _, id := range ids {
			if err := e.indexProduct(ctx, pctx, id, job.Smart); err != nil {
				e.logger.ErrorContext(ctx, "failed to index product prices",
					slog.Int64("product_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
		processed += len(ids)
		if len(ids) > 0 {
			cursor = ids[len(ids)-1]
		}

		if len(ids) < e.cfg.PageSize {
			return cursor, true, processed, nil
		}
		if !e.now().Before(deadline) || e.overMemory() {
			return cursor, false, processed, nil
		}
	}
}

func (e *PriceIndexEngine) overMemory() bool {
	return e.cfg.MemoryLimit > 0 && e.heapAlloc() >= e.cfg.MemoryLimit
}

// ReindexProduct recomputes every price range of one product, replacing
// its existing rows.
func (e *PriceIndexEngine) ReindexProduct(ctx context.Context, productID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pctx, err := e.pricingContext(ctx)
	if err != nil {
		return fmt.Errorf("reindex product %d: %w", productID, err)
	}
	if err := e.indexProduct(ctx, pctx, productID, true); err != nil {
		return fmt.Errorf("reindex product %d: %w", productID, err)
	}
	return nil
}

// Status reports the completeness of the price index.
func (e *PriceIndexEngine) Status(ctx context.Context) (domain.PriceIndexStatus, error) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return domain.PriceIndexStatus{}, fmt.Errorf("price index status: %w", err)
	}
	indexed, err := e.prices.CountProducts(ctx)
	if err != nil {
		return domain.PriceIndexStatus{}, fmt.Errorf("price index status: %w", err)
	}
	eligible, err := e.catalog.CountEligible(ctx, domain.IndexModeFull)
	if err != nil {
		return domain.PriceIndexStatus{}, fmt.Errorf("price index status: %w", err)
	}
	return domain.PriceIndexStatus{
		Indexed:          settings.Indexed,
		IndexedProducts:  indexed,
		EligibleProducts: eligible,
	}, nil
}

// RunSchedule starts an incremental run every interval until ctx is done.
func (e *PriceIndexEngine) RunSchedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Run(ctx, domain.PriceIndexJob{Mode: domain.IndexModeIncremental}); err != nil {
				e.logger.ErrorContext(ctx, "scheduled price index run failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (e *PriceIndexEngine) pricingContext(ctx context.Context) (*domain.PricingContext, error) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	countries, err := e.catalog.ActiveCountries(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := e.catalog.GroupsWithReduction(ctx)
	if err != nil {
		return nil, err
	}
	currencies, err := e.catalog.ShopCurrencies(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.PricingContext{
		Countries:  countries,
		Groups:     groups,
		Currencies: currencies,
		UseTax:     settings.PriceUseTax,
	}, nil
}

// indexProduct computes and stores the price ranges of one product in every
// shop it is visible in. With replace set, every existing row of the product
// is dropped, including rows of shops it is no longer visible in.
func (e *PriceIndexEngine) indexProduct(ctx context.Context, pctx *domain.PricingContext, productID int64, replace bool) error {
	shops, err := e.catalog.ProductShops(ctx, productID)
	if err != nil {
		return err
	}

	var entries []domain.PriceIndexEntry
	for _, shopID := range shops {
		rules, err := e.catalog.SpecificPrices(ctx, productID, shopID)
		if err != nil {
			return err
		}
		var rates map[int64]decimal.Decimal
		if pctx.UseTax {
			if rates, err = e.catalog.TaxRates(ctx, productID, shopID); err != nil {
				return err
			}
		}

		entries = append(entries, e.computeEntries(ctx, pctx, productID, shopID, rules, rates)...)
	}
	if err := e.prices.SaveProduct(ctx, productID, entries, replace); err != nil {
		return err
	}
	priceIndexProducts.Inc()
	return nil
}

// computeEntries folds the base price, every applicable specific price and
// every group reduction into one range per currency and country. A cell
// with any failed computation is left out.
func (e *PriceIndexEngine) computeEntries(
	ctx context.Context,
	pctx *domain.PricingContext,
	productID, shopID int64,
	rules []domain.SpecificPriceRule,
	rates map[int64]decimal.Decimal,
) []domain.PriceIndexEntry {
	var entries []domain.PriceIndexEntry

	for _, countryID := range pctx.Countries {
	cells:
		for _, currencyID := range pctx.Currencies[shopID] {
			base := domain.PriceQuery{
				ShopID:     shopID,
				ProductID:  productID,
				CountryID:  countryID,
				CurrencyID: currencyID,
				Decimals:   priceDecimals,
			}

			amount, err := e.calc.ComputePrice(ctx, base)
			if err != nil {
				e.cellFailed(ctx, base, err)
				continue
			}
			r := domain.NewPriceRange(amount)

			for _, rule := range rules {
				if !rule.AppliesToCurrency(currencyID) {
					continue
				}
				q := base
				q.GroupID = rule.Group()
				if rule.FromQuantity > 0 {
					qty := rule.FromQuantity
					q.Quantity = &qty
				}
				q.UseReduction = true
				q.UseSpecificPriceRules = true
				if amount, err = e.calc.ComputePrice(ctx, q); err != nil {
					e.cellFailed(ctx, q, err)
					continue cells
				}
				r.Fold(amount)
			}

			for _, groupID := range pctx.Groups {
				q := base
				q.GroupID = &groupID
				q.UseReduction = true
				q.UseSpecificPriceRules = true
				if amount, err = e.calc.ComputePrice(ctx, q); err != nil {
					e.cellFailed(ctx, q, err)
					continue cells
				}
				r.Fold(amount)
			}

			rate := decimal.Zero
			if pctx.UseTax {
				if rr, ok := rates[countryID]; ok {
					rate = rr
				}
			}
			lo, hi := r.Taxed(rate)
			entries = append(entries, domain.PriceIndexEntry{
				ProductID:  productID,
				CurrencyID: currencyID,
				ShopID:     shopID,
				CountryID:  countryID,
				PriceMin:   lo,
				PriceMax:   hi,
			})
		}
	}
	return entries
}

func (e *PriceIndexEngine) cellFailed(ctx context.Context, q domain.PriceQuery, err error) {
	priceIndexCellsFailed.Inc()
	e.logger.WarnContext(ctx, "price computation failed, cell skipped",
		slog.Int64("product_id", q.ProductID),
		slog.Int64("shop_id", q.ShopID),
		slog.Int64("currency_id", q.CurrencyID),
		slog.Int64("country_id", q.CountryID),
		slog.String("error", err.Error()),
	)
}
