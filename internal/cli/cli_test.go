package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/facetindex/internal/config"
	"github.com/utafrali/facetindex/internal/domain"
	"github.com/utafrali/facetindex/internal/service"
)

type fakeBackend struct {
	jobs       []domain.PriceIndexJob
	results    []domain.PriceIndexResult
	reindexed  []int64
	flattened  []*int64
	resolved   int
	invalidate int
	bootstrap  *service.BootstrapResult
}

func (f *fakeBackend) RunPriceIndex(_ context.Context, job domain.PriceIndexJob) (domain.PriceIndexResult, error) {
	f.jobs = append(f.jobs, job)
	if len(f.results) == 0 {
		return domain.PriceIndexResult{}, errors.New("no more results")
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeBackend) ReindexProduct(_ context.Context, productID int64) error {
	f.reindexed = append(f.reindexed, productID)
	return nil
}

func (f *fakeBackend) Resolve(context.Context) error {
	f.resolved++
	return nil
}

func (f *fakeBackend) Flatten(_ context.Context, productID *int64) (int64, error) {
	f.flattened = append(f.flattened, productID)
	return 12, nil
}

func (f *fakeBackend) Invalidate(context.Context) error {
	f.invalidate++
	return nil
}

func (f *fakeBackend) Bootstrap(context.Context) (*service.BootstrapResult, error) {
	return f.bootstrap, nil
}

type harness struct {
	backend  *fakeBackend
	connects int
	cfg      *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("FACETINDEX_SECRET", "")
	t.Setenv("FACETCTL_SECRET", "")
	return &harness{backend: &fakeBackend{}}
}

func (h *harness) run(args ...string) (string, error) {
	root := NewRootCommand(func(_ context.Context, cfg *config.Config, _ *slog.Logger) (Backend, func(), error) {
		h.connects++
		h.cfg = cfg
		return h.backend, func() {}, nil
	})
	var out, errOut bytes.Buffer
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestToken(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("token", "--secret", "s3cret")

	require.NoError(t, err)
	assert.Equal(t, service.NewTriggerToken("s3cret").String()+"\n", out)
	assert.Zero(t, h.connects)
}

func TestToken_FromPrefixedEnv(t *testing.T) {
	h := newHarness(t)
	t.Setenv("FACETCTL_SECRET", "from-env")

	out, err := h.run("token")

	require.NoError(t, err)
	assert.Equal(t, service.NewTriggerToken("from-env").String()+"\n", out)
}

func TestToken_FromConfigFile(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(t.TempDir(), "facetctl.yaml")
	require.NoError(t, os.WriteFile(file, []byte("secret: from-file\n"), 0o600))

	out, err := h.run("token", "--config", file)

	require.NoError(t, err)
	assert.Equal(t, service.NewTriggerToken("from-file").String()+"\n", out)
}

func TestMissingSecret(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("resolve")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "FACETINDEX_SECRET")
	assert.Zero(t, h.connects)
}

func TestReindexPrices_DrivesChunksUntilDone(t *testing.T) {
	h := newHarness(t)
	h.backend.results = []domain.PriceIndexResult{
		{Cursor: 100, Count: 250, Processed: 100},
		{Cursor: 200, Count: 250, Processed: 100},
		{Cursor: domain.TerminalCursor, Count: 250, Processed: 50, Done: true},
	}

	out, err := h.run("reindex-prices", "--secret", "s", "--full", "--smart", "--budget", "2s")

	require.NoError(t, err)
	require.Len(t, h.backend.jobs, 3)
	assert.Equal(t, []int64{0, 100, 200}, []int64{h.backend.jobs[0].Cursor, h.backend.jobs[1].Cursor, h.backend.jobs[2].Cursor})
	for _, job := range h.backend.jobs {
		assert.Equal(t, domain.IndexModeFull, job.Mode)
		assert.True(t, job.Smart)
		assert.True(t, job.Interactive)
		assert.Equal(t, "2s", job.Budget.String())
	}
	assert.Contains(t, out, "cursor 100: 100/250 products")
	assert.Contains(t, out, "done: 250 products indexed")
}

func TestReindexPrices_DefaultsToIncremental(t *testing.T) {
	h := newHarness(t)
	h.backend.results = []domain.PriceIndexResult{{Cursor: domain.TerminalCursor, Done: true}}

	_, err := h.run("reindex-prices", "--secret", "s", "--cursor", "40")

	require.NoError(t, err)
	require.Len(t, h.backend.jobs, 1)
	assert.Equal(t, domain.IndexModeIncremental, h.backend.jobs[0].Mode)
	assert.Equal(t, int64(40), h.backend.jobs[0].Cursor)
}

func TestReindexPrices_StopsOnError(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("reindex-prices", "--secret", "s")

	assert.EqualError(t, err, "no more results")
}

func TestReindexProduct(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("reindex-product", "42", "--secret", "s")

	require.NoError(t, err)
	assert.Equal(t, []int64{42}, h.backend.reindexed)
	assert.Equal(t, "product 42 reindexed\n", out)
}

func TestReindexProduct_InvalidID(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("reindex-product", "abc", "--secret", "s")

	require.Error(t, err)
	assert.Zero(t, h.connects)
}

func TestFlatten(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("flatten", "--secret", "s")
	require.NoError(t, err)
	assert.Equal(t, "12 rows\n", out)

	_, err = h.run("flatten", "--secret", "s", "--product", "7")
	require.NoError(t, err)

	require.Len(t, h.backend.flattened, 2)
	assert.Nil(t, h.backend.flattened[0])
	require.NotNil(t, h.backend.flattened[1])
	assert.Equal(t, int64(7), *h.backend.flattened[1])
}

func TestResolveAndInvalidate(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("resolve", "--secret", "s")
	require.NoError(t, err)
	_, err = h.run("invalidate", "--secret", "s")
	require.NoError(t, err)

	assert.Equal(t, 1, h.backend.resolved)
	assert.Equal(t, 1, h.backend.invalidate)
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t)
	id := int64(3)
	h.backend.bootstrap = &service.BootstrapResult{Products: 10, TemplateID: &id}

	out, err := h.run("bootstrap", "--secret", "s", "--template-limit", "100", "--index-limit", "5")

	require.NoError(t, err)
	assert.JSONEq(t, `{"products": 10, "template_id": 3}`, out)
	assert.Equal(t, 100, h.cfg.AutoTemplateThreshold)
	assert.Equal(t, 5, h.cfg.AutoIndexThreshold)
}
