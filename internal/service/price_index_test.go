package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/facetindex/internal/domain"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

type engineFixture struct {
	catalog  *fakeCatalog
	prices   *fakePriceIndex
	settings *fakeSettings
	calc     *fakeCalculator
	engine   *PriceIndexEngine
}

func newEngineFixture(t *testing.T, catalog *fakeCatalog, calc *fakeCalculator, scheduler ContinuationScheduler, pageSize int) *engineFixture {
	t.Helper()
	f := &engineFixture{
		catalog:  catalog,
		prices:   newFakePriceIndex(),
		settings: newFakeSettings(false),
		calc:     calc,
	}
	f.engine = NewPriceIndexEngine(catalog, f.prices, f.settings, calc, scheduler,
		PriceIndexConfig{PageSize: pageSize, TimeBudget: time.Minute}, newTestLogger())
	return f
}

// stopAfterEveryPage makes every page boundary exceed the time budget.
func (f *engineFixture) stopAfterEveryPage() {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time {
		tick = tick.Add(time.Hour)
		return tick
	}
}

func assertRangesOrdered(t *testing.T, entries []domain.PriceIndexEntry) {
	t.Helper()
	for _, e := range entries {
		assert.LessOrEqual(t, e.PriceMin, e.PriceMax, "product %d currency %d country %d", e.ProductID, e.CurrencyID, e.CountryID)
	}
}

func TestPriceIndex_TaxedRuleScenario(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.rules[1] = []domain.SpecificPriceRule{{ID: 1, GroupID: 7}}
	catalog.rates = map[int64]decimal.Decimal{1: decimal.NewFromInt(10)}
	f := newEngineFixture(t, catalog, flatPrice(100, 80, 7), nil, 100)
	f.settings.settings.PriceUseTax = true

	res, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.True(t, res.Done)
	assert.Equal(t, domain.TerminalCursor, res.Cursor)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, []domain.PriceIndexEntry{
		{ProductID: 1, CurrencyID: 1, ShopID: 1, CountryID: 1, PriceMin: 88, PriceMax: 110},
	}, f.prices.entries())
	assert.True(t, f.settings.settings.Indexed)
}

func TestPriceIndex_TaxDisabledUsesZeroRate(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.rules[1] = []domain.SpecificPriceRule{{ID: 1, GroupID: 7}}
	catalog.rates = map[int64]decimal.Decimal{1: decimal.NewFromInt(10)}
	f := newEngineFixture(t, catalog, flatPrice(100, 80, 7), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(80), entries[0].PriceMin)
	assert.Equal(t, int64(100), entries[0].PriceMax)
}

func TestPriceIndex_NoReductionsGiveSinglePrice(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1, 2), flatPrice(250, 0, 0), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	entries := f.prices.entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, e.PriceMin, e.PriceMax)
		assert.Equal(t, int64(250), e.PriceMin)
	}
}

func TestPriceIndex_GroupReductionLowersMin(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.groups = []int64{3}
	f := newEngineFixture(t, catalog, flatPrice(100, 90, 3), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(90), entries[0].PriceMin)
	assert.Equal(t, int64(100), entries[0].PriceMax)
}

func TestPriceIndex_ZeroPriceNeverLowersMin(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.rules[1] = []domain.SpecificPriceRule{{ID: 1, GroupID: 7}}
	f := newEngineFixture(t, catalog, flatPrice(100, 0, 7), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].PriceMin)
	assert.Equal(t, int64(100), entries[0].PriceMax)
}

func TestPriceIndex_RuleForOtherCurrencyIgnored(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.currencies = map[int64][]int64{1: {1, 2}}
	catalog.rules[1] = []domain.SpecificPriceRule{{ID: 1, GroupID: 7, CurrencyID: 2}}
	f := newEngineFixture(t, catalog, flatPrice(100, 80, 7), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	entries := f.prices.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(100), entries[0].PriceMin, "currency 1")
	assert.Equal(t, int64(80), entries[1].PriceMin, "currency 2")
}

func TestPriceIndex_QuantityRulePassesQuantity(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.rules[1] = []domain.SpecificPriceRule{{ID: 1, FromQuantity: 10}}
	calc := &fakeCalculator{fn: func(q domain.PriceQuery) (decimal.Decimal, error) {
		if q.Quantity != nil && *q.Quantity >= 10 {
			return decimal.NewFromInt(70), nil
		}
		return decimal.NewFromInt(100), nil
	}}
	f := newEngineFixture(t, catalog, calc, nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(70), entries[0].PriceMin)
	assert.Equal(t, int64(100), entries[0].PriceMax)
}

func TestPriceIndex_FailedCellIsOmitted(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.currencies = map[int64][]int64{1: {1, 2}}
	catalog.countries = []int64{1, 2}
	calc := &fakeCalculator{fn: func(q domain.PriceQuery) (decimal.Decimal, error) {
		if q.CurrencyID == 2 && q.CountryID == 2 {
			return decimal.Zero, errors.New("pricing unavailable")
		}
		return decimal.NewFromInt(100), nil
	}}
	f := newEngineFixture(t, catalog, calc, nil, 100)

	res, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.True(t, res.Done)

	entries := f.prices.entries()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.False(t, e.CurrencyID == 2 && e.CountryID == 2)
	}
}

func TestPriceIndex_Idempotent(t *testing.T) {
	catalog := newFakeCatalog(1, 2, 3)
	catalog.countries = []int64{1, 2}
	catalog.groups = []int64{4}
	catalog.rules[2] = []domain.SpecificPriceRule{{ID: 1, GroupID: 4}}
	f := newEngineFixture(t, catalog, flatPrice(100, 60, 4), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)
	first := f.prices.entries()

	_, err = f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, first, f.prices.entries())
	assertRangesOrdered(t, first)
}

func TestPriceIndex_ChunkedRunMatchesSingleRun(t *testing.T) {
	newCatalog := func() *fakeCatalog {
		c := newFakeCatalog(1, 2, 3, 4, 5)
		c.currencies = map[int64][]int64{1: {1, 2}}
		c.groups = []int64{4}
		c.rules[3] = []domain.SpecificPriceRule{{ID: 1, GroupID: 4, CurrencyID: 2}}
		return c
	}

	single := newEngineFixture(t, newCatalog(), flatPrice(100, 75, 4), nil, 100)
	_, err := single.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	chunked := newEngineFixture(t, newCatalog(), flatPrice(100, 75, 4), nil, 2)
	chunked.stopAfterEveryPage()

	var (
		cursor      int64
		invocations int
	)
	for cursor != domain.TerminalCursor {
		res, err := chunked.engine.Run(context.Background(), domain.PriceIndexJob{
			Mode:        domain.IndexModeFull,
			Cursor:      cursor,
			Interactive: true,
		})
		require.NoError(t, err)
		cursor = res.Cursor
		invocations++
		require.LessOrEqual(t, invocations, 10)
	}

	assert.Equal(t, 3, invocations)
	assert.Equal(t, 1, chunked.prices.truncates)
	assert.Equal(t, single.prices.entries(), chunked.prices.entries())
	assertRangesOrdered(t, chunked.prices.entries())
}

func TestPriceIndex_InteractiveReturnsCursor(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(10, 20, 30), flatPrice(100, 0, 0), nil, 2)
	f.stopAfterEveryPage()

	res, err := f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: domain.IndexModeFull, Interactive: true})
	require.NoError(t, err)

	assert.False(t, res.Done)
	assert.Equal(t, int64(20), res.Cursor)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 2, res.Processed)
	assert.False(t, f.settings.settings.Indexed)
}

func TestPriceIndex_SchedulesContinuation(t *testing.T) {
	scheduler := new(mockScheduler)
	f := newEngineFixture(t, newFakeCatalog(1, 2, 3), flatPrice(100, 0, 0), scheduler, 2)
	f.stopAfterEveryPage()

	next := domain.PriceIndexJob{ID: "job-1", Mode: domain.IndexModeFull, Cursor: 2}
	scheduler.On("ScheduleContinuation", mock.Anything, next).Return(nil).Once()

	res, err := f.engine.Run(context.Background(), domain.PriceIndexJob{ID: "job-1", Mode: domain.IndexModeFull})
	require.NoError(t, err)

	assert.True(t, res.Continued)
	assert.Equal(t, int64(2), res.Cursor)
	scheduler.AssertExpectations(t)
}

func TestPriceIndex_ContinuesInBackgroundWhenSchedulingFails(t *testing.T) {
	scheduler := new(mockScheduler)
	f := newEngineFixture(t, newFakeCatalog(1, 2, 3, 4, 5), flatPrice(100, 0, 0), scheduler, 2)
	f.stopAfterEveryPage()

	scheduler.On("ScheduleContinuation", mock.Anything, mock.AnythingOfType("domain.PriceIndexJob")).
		Return(errors.New("broker down"))

	res, err := f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: domain.IndexModeFull})
	require.NoError(t, err)

	// The caller gets the first chunk back without waiting for the rest.
	assert.False(t, res.Done)
	assert.True(t, res.Continued)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, int64(2), res.Cursor)

	f.engine.Wait()

	assert.Len(t, f.prices.entries(), 5)
	assert.True(t, f.settings.settings.Indexed)
	scheduler.AssertNumberOfCalls(t, "ScheduleContinuation", 2)
}

func TestPriceIndex_CloseStopsBackgroundContinuation(t *testing.T) {
	scheduler := new(mockScheduler)
	f := newEngineFixture(t, newFakeCatalog(1, 2, 3, 4, 5), flatPrice(100, 0, 0), scheduler, 2)
	f.stopAfterEveryPage()
	scheduler.On("ScheduleContinuation", mock.Anything, mock.AnythingOfType("domain.PriceIndexJob")).
		Return(errors.New("broker down"))

	f.engine.Close()
	res, err := f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: domain.IndexModeFull})
	require.NoError(t, err)
	f.engine.Wait()

	assert.True(t, res.Continued)
	assert.Len(t, f.prices.entries(), 2)
	assert.False(t, f.settings.settings.Indexed)
}

func TestPriceIndex_MemoryCeilingStopsChunk(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1, 2, 3), flatPrice(100, 0, 0), nil, 1)
	f.engine.cfg.MemoryLimit = 1 << 20
	f.engine.heapAlloc = func() uint64 { return 1 << 30 }

	res, err := f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: domain.IndexModeFull, Interactive: true})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Cursor)
	assert.Equal(t, 1, res.Processed)
}

func TestPriceIndex_IncrementalSkipsIndexedProducts(t *testing.T) {
	catalog := newFakeCatalog(1, 2, 3)
	f := newEngineFixture(t, catalog, flatPrice(100, 0, 0), nil, 100)
	catalog.indexed = f.prices.has
	require.NoError(t, f.prices.SaveProduct(context.Background(), 1, []domain.PriceIndexEntry{
		{ProductID: 1, CurrencyID: 1, ShopID: 1, CountryID: 1, PriceMin: 5, PriceMax: 5},
	}, false))

	res, err := f.engine.IncrementalReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, f.calc.calls)
	assert.Equal(t, 0, f.prices.truncates)
	entries := f.prices.entries()
	require.Len(t, entries, 3)
	assert.Equal(t, int64(5), entries[0].PriceMin)
}

func TestPriceIndex_SmartReplacesWithoutTruncate(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1), flatPrice(100, 0, 0), nil, 100)
	require.NoError(t, f.prices.SaveProduct(context.Background(), 1, []domain.PriceIndexEntry{
		{ProductID: 1, CurrencyID: 1, ShopID: 1, CountryID: 1, PriceMin: 5, PriceMax: 5},
	}, false))

	_, err := f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: domain.IndexModeFull, Smart: true})
	require.NoError(t, err)

	assert.Equal(t, 0, f.prices.truncates)
	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].PriceMin)
}

func TestPriceIndex_FullRunTruncatesStaleRows(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1), flatPrice(100, 0, 0), nil, 100)
	require.NoError(t, f.prices.SaveProduct(context.Background(), 9, []domain.PriceIndexEntry{
		{ProductID: 9, CurrencyID: 1, ShopID: 1, CountryID: 1, PriceMin: 5, PriceMax: 5},
	}, false))

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, f.prices.truncates)
	assert.False(t, f.prices.has(9))
}

func TestPriceIndex_ReindexProductReplacesRows(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1, 2), flatPrice(100, 0, 0), nil, 100)
	require.NoError(t, f.prices.SaveProduct(context.Background(), 1, []domain.PriceIndexEntry{
		{ProductID: 1, CurrencyID: 1, ShopID: 1, CountryID: 1, PriceMin: 5, PriceMax: 5},
	}, false))

	require.NoError(t, f.engine.ReindexProduct(context.Background(), 1))

	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].PriceMin)
	assert.Equal(t, 1, f.calc.calls)
}

func TestPriceIndex_ReindexProductDropsWithdrawnShops(t *testing.T) {
	catalog := newFakeCatalog(1)
	catalog.shops[1] = []int64{1, 2}
	catalog.currencies = map[int64][]int64{1: {1}, 2: {1}}
	f := newEngineFixture(t, catalog, flatPrice(100, 0, 0), nil, 100)
	ctx := context.Background()

	require.NoError(t, f.engine.ReindexProduct(ctx, 1))
	require.Len(t, f.prices.entries(), 2)

	catalog.shops[1] = []int64{1}
	require.NoError(t, f.engine.ReindexProduct(ctx, 1))
	entries := f.prices.entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ShopID)

	catalog.shops[1] = nil
	require.NoError(t, f.engine.ReindexProduct(ctx, 1))
	assert.Empty(t, f.prices.entries())
}

func TestPriceIndex_RejectsInvalidJobs(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1), flatPrice(100, 0, 0), nil, 100)

	_, err := f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: "partial"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.engine.Run(context.Background(), domain.PriceIndexJob{Mode: domain.IndexModeFull, Cursor: -5})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	assert.Equal(t, 0, f.calc.calls)
}

func TestPriceIndex_CancelledContextStops(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1, 2), flatPrice(100, 0, 0), nil, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.FullReindex(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.calc.calls)
}

func TestPriceIndex_Status(t *testing.T) {
	f := newEngineFixture(t, newFakeCatalog(1, 2, 3), flatPrice(100, 0, 0), nil, 100)

	_, err := f.engine.FullReindex(context.Background(), 0, 0)
	require.NoError(t, err)

	status, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PriceIndexStatus{Indexed: true, IndexedProducts: 3, EligibleProducts: 3}, status)
}
