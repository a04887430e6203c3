package worker

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerworker/config"
	"offerworker/internal/browser"
	"offerworker/internal/offer"
	"offerworker/internal/store"
	pkgerrors "offerworker/pkg/errors"
)

type fakePage struct{ closed bool }

func (p *fakePage) Navigate(context.Context, string, time.Duration) error { return nil }
func (p *fakePage) URL() string                                           { return "" }
func (p *fakePage) HTML() (string, error)                                 { return "", nil }
func (p *fakePage) ScrollBy(float64) error                                { return nil }
func (p *fakePage) Click(string, time.Duration) error                     { return nil }
func (p *fakePage) ReadValue(string, time.Duration) (string, error)       { return "", nil }
func (p *fakePage) Close() error                                          { p.closed = true; return nil }

type fakePages struct{ opened []*fakePage }

func (f *fakePages) NewPage() (browser.Page, error) {
	p := &fakePage{}
	f.opened = append(f.opened, p)
	return p, nil
}

type scanItem struct {
	cand offer.Candidate
	err  error
}

type fakeScanner struct {
	items map[string][]scanItem
	calls []string
}

func (s *fakeScanner) Scan(_ context.Context, cfg config.ScrapeConfig, _ browser.Page) iter.Seq2[offer.Candidate, error] {
	s.calls = append(s.calls, cfg.Name)
	items := s.items[cfg.Name]
	return func(yield func(offer.Candidate, error) bool) {
		for _, it := range items {
			if !yield(it.cand, it.err) {
				return
			}
		}
	}
}

type fakeEnricher struct {
	errs  map[string]error
	calls int
}

func (e *fakeEnricher) Enrich(_ context.Context, cand offer.Candidate, _ browser.Page) (*offer.Offer, error) {
	e.calls++
	if err := e.errs[cand.OriginalURL]; err != nil {
		return nil, err
	}
	return &offer.Offer{
		ASIN:         cand.ASIN,
		ProductName:  cand.Name,
		OriginalURL:  cand.OriginalURL,
		AffiliateURL: "https://amzn.to/x",
	}, nil
}

type fakeStore struct {
	results []store.UpsertResult
	err     error
	upserts []*offer.Offer
}

func (s *fakeStore) Upsert(_ context.Context, rec *offer.Offer) (store.UpsertResult, error) {
	if s.err != nil {
		return store.UpsertResult{}, s.err
	}
	s.upserts = append(s.upserts, rec)
	res := store.UpsertResult{Outcome: store.OutcomeInserted}
	if len(s.results) > 0 {
		res = s.results[0]
		s.results = s.results[1:]
	}
	return res, nil
}

type published struct {
	kind string
	asin string
}

type fakePublisher struct{ events []published }

func (p *fakePublisher) PublishOffer(_ context.Context, kind string, o *offer.Offer) error {
	p.events = append(p.events, published{kind: kind, asin: o.ASIN})
	return nil
}
func (p *fakePublisher) Close() error { return nil }

type fakeCache struct {
	values map[string][]byte
	sets   []string
}

func (c *fakeCache) Get(key string) ([]byte, error) {
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return nil, assert.AnError
}
func (c *fakeCache) Set(key string, value []byte, _ int32) error {
	if c.values == nil {
		c.values = map[string][]byte{}
	}
	c.values[key] = value
	c.sets = append(c.sets, key)
	return nil
}
func (c *fakeCache) Delete(key string) error {
	delete(c.values, key)
	return nil
}

func fastConfig() *config.Config {
	return &config.Config{
		RatePerSecond: 1000,
		RateBurst:     1000,
	}
}

func testScrapeConfig(name string) config.ScrapeConfig {
	return config.ScrapeConfig{
		Name:      name,
		URL:       "https://store.test/" + name,
		Type:      config.TypeProduct,
		MaxOffers: 10,
		Enabled:   true,
	}
}

func cand(asin string) offer.Candidate {
	return offer.Candidate{
		ASIN:        asin,
		OriginalURL: "https://store.test/dp/" + asin,
		Name:        "Produto " + asin,
	}
}

func TestRunProcessesCandidates(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{
		"deals": {{cand: cand("B000000001")}, {cand: cand("B000000002")}},
	}}
	st := &fakeStore{results: []store.UpsertResult{
		{Outcome: store.OutcomeInserted},
		{Outcome: store.OutcomeUpdated, Reoffered: true},
	}}
	pub := &fakePublisher{}

	w := New(fastConfig(), []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, &fakeEnricher{}, st, pub, nil)

	sum, err := w.Run(context.Background(), &fakePages{})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 2, sum.Enriched)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Reoffered)
	assert.False(t, sum.Blocked)

	require.Len(t, pub.events, 2)
	assert.Equal(t, published{kind: "inserted", asin: "B000000001"}, pub.events[0])
	assert.Equal(t, published{kind: "reoffered", asin: "B000000002"}, pub.events[1])
}

func TestRunBlockedAbortsRemainingConfigs(t *testing.T) {
	blocked := pkgerrors.NewBlocked("https://store.test/deals", "validateCaptcha")
	scanner := &fakeScanner{items: map[string][]scanItem{
		"first":  {{cand: cand("B000000001")}, {err: blocked}},
		"second": {{cand: cand("B000000002")}},
	}}
	st := &fakeStore{}

	w := New(fastConfig(), []config.ScrapeConfig{testScrapeConfig("first"), testScrapeConfig("second")},
		scanner, &fakeEnricher{}, st, &fakePublisher{}, nil)

	sum, err := w.Run(context.Background(), &fakePages{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBlocked(err))

	// partial summary survives the abort
	assert.True(t, sum.Blocked)
	assert.Equal(t, 1, sum.Scanned)
	assert.Equal(t, []string{"first"}, scanner.calls)
}

func TestRunPerCandidateFailuresDoNotAbort(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{
		"deals": {{cand: cand("B000000001")}, {cand: cand("B000000002")}},
	}}
	enr := &fakeEnricher{errs: map[string]error{
		"https://store.test/dp/B000000001": pkgerrors.NewDetailLoad("https://store.test/dp/B000000001", "detail page did not load", nil),
	}}
	st := &fakeStore{}

	w := New(fastConfig(), []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, enr, st, &fakePublisher{}, nil)

	sum, err := w.Run(context.Background(), &fakePages{})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Scanned)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Enriched)
	assert.Equal(t, 1, sum.Inserted)
}

func TestRunSkippedUpsertsAreCounted(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{
		"deals": {{cand: cand("B000000001")}},
	}}
	st := &fakeStore{results: []store.UpsertResult{
		{Outcome: store.OutcomeSkipped, Reason: "missing sale price"},
	}}
	pub := &fakePublisher{}

	w := New(fastConfig(), []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, &fakeEnricher{}, st, pub, nil)

	sum, err := w.Run(context.Background(), &fakePages{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, pub.events)
}

func TestRunStoreFailureIsFatal(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{
		"deals": {{cand: cand("B000000001")}, {cand: cand("B000000002")}},
	}}
	st := &fakeStore{err: pkgerrors.NewDatabase("disk full", nil)}

	w := New(fastConfig(), []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, &fakeEnricher{}, st, &fakePublisher{}, nil)

	sum, err := w.Run(context.Background(), &fakePages{})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorTypeDatabase, pkgerrors.TypeOf(err))
	assert.Equal(t, 1, sum.Scanned)
}

func TestRunSkipsDisabledConfigs(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{}}

	disabled := testScrapeConfig("off")
	disabled.Enabled = false

	w := New(fastConfig(), []config.ScrapeConfig{disabled},
		scanner, &fakeEnricher{}, &fakeStore{}, &fakePublisher{}, nil)

	_, err := w.Run(context.Background(), &fakePages{})
	require.NoError(t, err)
	assert.Empty(t, scanner.calls)
}

func TestRunCooldownSkipsConfig(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{}}
	cacheService := &fakeCache{values: map[string][]byte{
		cooldownKey("deals"): []byte("1"),
	}}

	cfg := fastConfig()
	cfg.ConfigCooldown = time.Hour

	w := New(cfg, []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, &fakeEnricher{}, &fakeStore{}, &fakePublisher{}, cacheService)

	_, err := w.Run(context.Background(), &fakePages{})
	require.NoError(t, err)
	assert.Empty(t, scanner.calls)
}

func TestRunRecordsCooldownAfterConfig(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{
		"deals": {{cand: cand("B000000001")}},
	}}
	cacheService := &fakeCache{}

	cfg := fastConfig()
	cfg.ConfigCooldown = time.Hour

	w := New(cfg, []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, &fakeEnricher{}, &fakeStore{}, &fakePublisher{}, cacheService)

	_, err := w.Run(context.Background(), &fakePages{})
	require.NoError(t, err)
	assert.Equal(t, []string{cooldownKey("deals")}, cacheService.sets)
}

func TestRunPacesBeforeListingScan(t *testing.T) {
	scanner := &fakeScanner{items: map[string][]scanItem{
		"deals": {{cand: cand("B000000001")}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(fastConfig(), []config.ScrapeConfig{testScrapeConfig("deals")},
		scanner, &fakeEnricher{}, &fakeStore{}, &fakePublisher{}, nil)

	_, err := w.Run(ctx, &fakePages{})
	require.Error(t, err)
	// the pacing gate fires before the first scan navigates anywhere
	assert.Empty(t, scanner.calls)
}

func TestRunClosesPages(t *testing.T) {
	pages := &fakePages{}
	w := New(fastConfig(), nil, &fakeScanner{}, &fakeEnricher{}, &fakeStore{}, &fakePublisher{}, nil)

	_, err := w.Run(context.Background(), pages)
	require.NoError(t, err)

	require.Len(t, pages.opened, 2)
	for _, p := range pages.opened {
		assert.True(t, p.closed)
	}
}
