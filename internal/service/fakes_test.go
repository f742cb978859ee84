package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/utafrali/facetindex/internal/domain"
	apperrors "github.com/utafrali/facetindex/pkg/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Fake catalog ---

type fakeCatalog struct {
	products   []int64
	shops      map[int64][]int64
	currencies map[int64][]int64
	countries  []int64
	groups     []int64
	rules      map[int64][]domain.SpecificPriceRule
	rates      map[int64]decimal.Decimal
	categories []int64
	source     *domain.AutoTemplateSource

	// indexed reports whether a product already has price rows, for
	// incremental mode.
	indexed func(productID int64) bool
}

func newFakeCatalog(products ...int64) *fakeCatalog {
	c := &fakeCatalog{
		shops:      make(map[int64][]int64),
		currencies: map[int64][]int64{1: {1}},
		countries:  []int64{1},
		rules:      make(map[int64][]domain.SpecificPriceRule),
		rates:      map[int64]decimal.Decimal{},
	}
	for _, id := range products {
		c.products = append(c.products, id)
		c.shops[id] = []int64{1}
	}
	slices.Sort(c.products)
	return c
}

func (c *fakeCatalog) eligible(mode domain.IndexMode) []int64 {
	var out []int64
	for _, id := range c.products {
		if mode == domain.IndexModeIncremental && c.indexed != nil && c.indexed(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (c *fakeCatalog) ProductPage(_ context.Context, mode domain.IndexMode, cursor int64, limit int) ([]int64, error) {
	var out []int64
	for _, id := range c.eligible(mode) {
		if id > cursor && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (c *fakeCatalog) CountEligible(_ context.Context, mode domain.IndexMode) (int, error) {
	return len(c.eligible(mode)), nil
}

func (c *fakeCatalog) CountProducts(context.Context) (int, error) {
	return len(c.products), nil
}

func (c *fakeCatalog) ProductShops(_ context.Context, productID int64) ([]int64, error) {
	return c.shops[productID], nil
}

func (c *fakeCatalog) ShopIDs(context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(c.currencies))
	for id := range c.currencies {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (c *fakeCatalog) ShopCurrencies(context.Context) (map[int64][]int64, error) {
	return c.currencies, nil
}

func (c *fakeCatalog) ActiveCountries(context.Context) ([]int64, error) {
	return c.countries, nil
}

func (c *fakeCatalog) GroupsWithReduction(context.Context) ([]int64, error) {
	return c.groups, nil
}

func (c *fakeCatalog) SpecificPrices(_ context.Context, productID, _ int64) ([]domain.SpecificPriceRule, error) {
	return c.rules[productID], nil
}

func (c *fakeCatalog) TaxRates(context.Context, int64, int64) (map[int64]decimal.Decimal, error) {
	return c.rates, nil
}

func (c *fakeCatalog) CategoryIDs(context.Context) ([]int64, error) {
	return c.categories, nil
}

func (c *fakeCatalog) AutoTemplateSource(context.Context, []int64) (*domain.AutoTemplateSource, error) {
	if c.source == nil {
		return &domain.AutoTemplateSource{}, nil
	}
	return c.source, nil
}

// --- Fake price index table ---

type priceKey struct {
	product, currency, shop, country int64
}

type fakePriceIndex struct {
	mu        sync.Mutex
	rows      map[priceKey]domain.PriceIndexEntry
	truncates int
}

func newFakePriceIndex() *fakePriceIndex {
	return &fakePriceIndex{rows: make(map[priceKey]domain.PriceIndexEntry)}
}

func (p *fakePriceIndex) Truncate(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = make(map[priceKey]domain.PriceIndexEntry)
	p.truncates++
	return nil
}

func (p *fakePriceIndex) SaveProduct(_ context.Context, productID int64, entries []domain.PriceIndexEntry, replace bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if replace {
		for k := range p.rows {
			if k.product == productID {
				delete(p.rows, k)
			}
		}
	}
	for _, e := range entries {
		k := priceKey{e.ProductID, e.CurrencyID, e.ShopID, e.CountryID}
		if _, exists := p.rows[k]; !exists {
			p.rows[k] = e
		}
	}
	return nil
}

func (p *fakePriceIndex) DeleteProduct(_ context.Context, productID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.rows {
		if k.product == productID {
			delete(p.rows, k)
		}
	}
	return nil
}

func (p *fakePriceIndex) CountProducts(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[int64]struct{})
	for k := range p.rows {
		seen[k.product] = struct{}{}
	}
	return len(seen), nil
}

func (p *fakePriceIndex) has(productID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.rows {
		if k.product == productID {
			return true
		}
	}
	return false
}

// entries returns every row in a stable order.
func (p *fakePriceIndex) entries() []domain.PriceIndexEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PriceIndexEntry, 0, len(p.rows))
	for _, e := range p.rows {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.ShopID != b.ShopID {
			return a.ShopID < b.ShopID
		}
		if a.CurrencyID != b.CurrencyID {
			return a.CurrencyID < b.CurrencyID
		}
		return a.CountryID < b.CountryID
	})
	return out
}

// --- Fake settings ---

type fakeSettings struct {
	settings domain.Settings
}

func newFakeSettings(useTax bool) *fakeSettings {
	s := domain.DefaultSettings()
	s.PriceUseTax = useTax
	return &fakeSettings{settings: s}
}

func (s *fakeSettings) Get(context.Context) (domain.Settings, error) {
	return s.settings, nil
}

func (s *fakeSettings) Save(_ context.Context, settings domain.Settings) error {
	s.settings = settings
	return nil
}

func (s *fakeSettings) SetIndexed(_ context.Context, indexed bool) error {
	s.settings.Indexed = indexed
	return nil
}

// --- Fake price calculator ---

type fakeCalculator struct {
	mu    sync.Mutex
	fn    func(q domain.PriceQuery) (decimal.Decimal, error)
	calls int
}

func (c *fakeCalculator) ComputePrice(_ context.Context, q domain.PriceQuery) (decimal.Decimal, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.fn(q)
}

// flatPrice prices every product at base, and at reduced for queries
// scoped to group.
func flatPrice(base, reduced int64, group int64) *fakeCalculator {
	return &fakeCalculator{fn: func(q domain.PriceQuery) (decimal.Decimal, error) {
		if q.UseReduction && q.GroupID != nil && *q.GroupID == group {
			return decimal.NewFromInt(reduced), nil
		}
		return decimal.NewFromInt(base), nil
	}}
}

// --- Mock collaborators ---

type mockInvalidator struct {
	mock.Mock
}

func (m *mockInvalidator) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockScheduler struct {
	mock.Mock
}

func (m *mockScheduler) ScheduleContinuation(ctx context.Context, job domain.PriceIndexJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// --- Fake template repository ---

type fakeTemplateRepo struct {
	records []domain.TemplateRecord
	nextID  int64
	updates map[int64]int
}

func newFakeTemplateRepo(records ...domain.TemplateRecord) *fakeTemplateRepo {
	r := &fakeTemplateRepo{records: records, updates: make(map[int64]int)}
	for _, rec := range records {
		r.nextID = max(r.nextID, rec.ID)
	}
	return r
}

func (r *fakeTemplateRepo) Create(_ context.Context, rec *domain.TemplateRecord) error {
	r.nextID++
	rec.ID = r.nextID
	r.records = append(r.records, *rec)
	return nil
}

func (r *fakeTemplateRepo) Update(_ context.Context, rec *domain.TemplateRecord) error {
	for i := range r.records {
		if r.records[i].ID == rec.ID {
			r.records[i] = *rec
			r.updates[rec.ID]++
			return nil
		}
	}
	return apperrors.NotFound("template", rec.ID)
}

func (r *fakeTemplateRepo) UpdatePayload(_ context.Context, id int64, filters []byte) error {
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].Filters = filters
			r.updates[id]++
			return nil
		}
	}
	return apperrors.NotFound("template", id)
}

func (r *fakeTemplateRepo) Delete(_ context.Context, id int64) error {
	for i := range r.records {
		if r.records[i].ID == id {
			r.records = slices.Delete(r.records, i, i+1)
			return nil
		}
	}
	return apperrors.NotFound("template", id)
}

func (r *fakeTemplateRepo) GetByID(_ context.Context, id int64) (*domain.TemplateRecord, error) {
	for i := range r.records {
		if r.records[i].ID == id {
			rec := r.records[i]
			return &rec, nil
		}
	}
	return nil, apperrors.NotFound("template", id)
}

func (r *fakeTemplateRepo) List(_ context.Context, offset, limit int) ([]domain.TemplateRecord, int, error) {
	total := len(r.records)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return slices.Clone(r.records[offset:end]), total, nil
}

func (r *fakeTemplateRepo) ListAll(context.Context) ([]domain.TemplateRecord, error) {
	return slices.Clone(r.records), nil
}

// --- Fake layered category table ---

type fakeLayered struct {
	entries []domain.LayeredCategoryEntry
	calls   int
}

func (l *fakeLayered) ReplaceAll(_ context.Context, entries []domain.LayeredCategoryEntry) error {
	l.entries = slices.Clone(entries)
	l.calls++
	return nil
}

func (l *fakeLayered) ListFor(_ context.Context, shopID, categoryID int64) ([]domain.LayeredCategoryEntry, error) {
	var out []domain.LayeredCategoryEntry
	for _, e := range l.entries {
		if e.ShopID == shopID && e.CategoryID == categoryID {
			out = append(out, e)
		}
	}
	return out, nil
}
