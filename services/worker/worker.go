// Package worker orchestrates one pipeline run: it walks the scrape
// configurations in order, streams candidates out of the scraper, enriches
// them one by one and upserts the results, pacing every step so the traffic
// stays believable.
package worker

import (
	"context"
	"iter"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"offerworker/config"
	"offerworker/internal/browser"
	"offerworker/internal/offer"
	"offerworker/internal/store"
	"offerworker/logger"
	"offerworker/pkg/errors"
	"offerworker/services/cache"
	"offerworker/services/publisher"
)

// Scanner streams candidates out of one listing configuration
type Scanner interface {
	Scan(ctx context.Context, cfg config.ScrapeConfig, page browser.Page) iter.Seq2[offer.Candidate, error]
}

// Enricher completes one candidate into a storable offer
type Enricher interface {
	Enrich(ctx context.Context, cand offer.Candidate, page browser.Page) (*offer.Offer, error)
}

// OfferStore persists enriched offers
type OfferStore interface {
	Upsert(ctx context.Context, rec *offer.Offer) (store.UpsertResult, error)
}

// PageFactory opens browser tabs for the run
type PageFactory interface {
	NewPage() (browser.Page, error)
}

// Summary are the counters of one run. A fatal abort returns the partial
// summary together with the error.
type Summary struct {
	Scanned   int
	Enriched  int
	Inserted  int
	Reoffered int
	Updated   int
	Skipped   int
	Failed    int
	Blocked   bool
}

// Worker runs the scrape pipeline over the configured listings
type Worker struct {
	configs  []config.ScrapeConfig
	scanner  Scanner
	enricher Enricher
	store    OfferStore
	pub      publisher.Publisher
	cache    cache.CacheService
	cooldown time.Duration

	limiter   *rate.Limiter
	pacingMin time.Duration
	pacingMax time.Duration

	log *logger.Logger
}

// New creates a worker. cacheService may be nil when no cooldown cache is
// configured; pub must not be nil (use the nop publisher instead).
func New(cfg *config.Config, configs []config.ScrapeConfig, scanner Scanner, enricher Enricher, offerStore OfferStore, pub publisher.Publisher, cacheService cache.CacheService) *Worker {
	return &Worker{
		configs:   configs,
		scanner:   scanner,
		enricher:  enricher,
		store:     offerStore,
		pub:       pub,
		cache:     cacheService,
		cooldown:  cfg.ConfigCooldown,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		pacingMin: cfg.PacingMin,
		pacingMax: cfg.PacingMax,
		log:       logger.ForWorker(),
	}
}

// Run processes every enabled configuration sequentially and returns the
// run counters. Fatal errors (blocking detection, storage failures) abort
// the remaining work; per-candidate failures only increment Failed.
func (w *Worker) Run(ctx context.Context, pages PageFactory) (Summary, error) {
	var sum Summary

	listPage, err := pages.NewPage()
	if err != nil {
		return sum, err
	}
	defer listPage.Close()

	detailPage, err := pages.NewPage()
	if err != nil {
		return sum, err
	}
	defer detailPage.Close()

	for _, sc := range w.configs {
		if !sc.Enabled {
			w.log.Debug().Str("config", sc.Name).Msg("Config disabled, skipping")
			continue
		}
		if w.onCooldown(sc.Name) {
			w.log.Info().Str("config", sc.Name).Msg("Config on cooldown, skipping")
			continue
		}

		w.log.Info().Str("config", sc.Name).Str("url", sc.URL).Msg("Processing config")

		// listing scans are paced just like enrichments
		if err := w.pace(ctx); err != nil {
			return sum, err
		}

		if err := w.runConfig(ctx, sc, listPage, detailPage, &sum); err != nil {
			sum.Blocked = errors.IsBlocked(err)
			return sum, err
		}

		w.setCooldown(sc.Name)
	}

	return sum, nil
}

func (w *Worker) runConfig(ctx context.Context, sc config.ScrapeConfig, listPage, detailPage browser.Page, sum *Summary) error {
	for cand, err := range w.scanner.Scan(ctx, sc, listPage) {
		if err != nil {
			if errors.IsFatal(err) {
				return err
			}
			w.log.Warn().Str("config", sc.Name).Err(err).Msg("Scan error")
			sum.Failed++
			continue
		}
		sum.Scanned++

		if err := w.pace(ctx); err != nil {
			return err
		}

		rec, err := w.enricher.Enrich(ctx, cand, detailPage)
		if err != nil {
			if errors.IsFatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Str("url", cand.OriginalURL).Err(err).Msg("Enrichment failed")
			sum.Failed++
			continue
		}
		sum.Enriched++

		res, err := w.store.Upsert(ctx, rec)
		if err != nil {
			return err
		}

		switch res.Outcome {
		case store.OutcomeInserted:
			sum.Inserted++
			w.publish(ctx, publisher.EventInserted, rec)
		case store.OutcomeUpdated:
			if res.Reoffered {
				sum.Reoffered++
				w.publish(ctx, publisher.EventReoffered, rec)
			} else {
				sum.Updated++
			}
		case store.OutcomeSkipped:
			sum.Skipped++
		}
	}
	return nil
}

// pace blocks until the rate limiter allows the next navigation, then adds
// a random extra delay inside the configured window.
func (w *Worker) pace(ctx context.Context) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	jitter := w.pacingMin
	if span := w.pacingMax - w.pacingMin; span > 0 {
		jitter += time.Duration(rand.Int64N(int64(span)))
	}
	if jitter <= 0 {
		return nil
	}

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) publish(ctx context.Context, kind string, rec *offer.Offer) {
	if err := w.pub.PublishOffer(ctx, kind, rec); err != nil {
		w.log.Warn().Err(err).Msg("Offer event publish failed")
	}
}

func (w *Worker) onCooldown(name string) bool {
	if w.cache == nil || w.cooldown <= 0 {
		return false
	}
	_, err := w.cache.Get(cooldownKey(name))
	return err == nil
}

func (w *Worker) setCooldown(name string) {
	if w.cache == nil || w.cooldown <= 0 {
		return
	}
	if err := w.cache.Set(cooldownKey(name), []byte("1"), int32(w.cooldown.Seconds())); err != nil {
		w.log.Warn().Str("config", name).Err(err).Msg("Cooldown not recorded")
	}
}

func cooldownKey(name string) string {
	return "offerworker:cooldown:" + name
}
