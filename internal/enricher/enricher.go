// Package enricher turns a listing candidate into a complete offer record:
// it loads the product detail page, extracts the richer fields, and attaches
// an affiliate link through the toolbar widget or a manual fallback.
package enricher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"offerworker/internal/browser"
	"offerworker/internal/offer"
	"offerworker/logger"
	"offerworker/pkg/errors"
)

// State names one step of the per-candidate enrichment state machine
type State string

const (
	StateInit              State = "init"
	StateDetailLoaded      State = "detail_loaded"
	StateDetailLoadFailed  State = "detail_load_failed"
	StateWidgetOpened      State = "widget_opened"
	StateWidgetTimeout     State = "widget_timeout"
	StateWidgetUnavailable State = "widget_unavailable"
	StateManualFallback    State = "manual_fallback"
	StateLinkGenerated     State = "link_generated"
)

// Options holds the enricher tunables
type Options struct {
	// AssociateTag is the partner tag appended to manual fallback links
	AssociateTag string
	// BaseURL is the storefront root used when a fallback link must be
	// built without a usable original URL host
	BaseURL string
	// PageLoadTimeout bounds each detail page navigation
	PageLoadTimeout time.Duration
	// DetailAttempts is the number of detail page load attempts
	DetailAttempts int
	// WidgetAttempts is the number of widget link generation attempts
	WidgetAttempts int
	// WidgetBackoff is the base wait between widget attempts; the wait
	// grows linearly with the attempt number
	WidgetBackoff time.Duration
}

// ProductEnricher drives the detail page and the affiliate-link widget
type ProductEnricher struct {
	widget browser.Widget
	opts   Options
	log    *logger.Logger
}

// New creates a product enricher
func New(widget browser.Widget, opts Options) *ProductEnricher {
	if opts.DetailAttempts < 1 {
		opts.DetailAttempts = 1
	}
	if opts.WidgetAttempts < 1 {
		opts.WidgetAttempts = 1
	}
	return &ProductEnricher{
		widget: widget,
		opts:   opts,
		log:    logger.ForEnricher(),
	}
}

// Enrich loads the candidate's detail page and returns a complete offer
// with an affiliate link. Every candidate ends in link_generated or in a
// terminal failure; a widget failure is not terminal because the manual
// fallback always produces a link. Blocking detection bubbles up as a
// fatal error.
func (e *ProductEnricher) Enrich(ctx context.Context, cand offer.Candidate, page browser.Page) (*offer.Offer, error) {
	log := e.log.WithField("url", cand.OriginalURL)
	state := StateInit

	html, err := e.loadDetail(ctx, cand, page, log)
	if err != nil {
		state = e.transition(log, state, StateDetailLoadFailed)
		return nil, err
	}
	state = e.transition(log, state, StateDetailLoaded)

	rec := recordFromCandidate(cand)
	parseDetail(html, rec)
	if rec.ASIN == "" {
		rec.ASIN = offer.ExtractASIN(page.URL())
	}
	if rec.SalePrice == nil {
		return nil, errors.NewDetailLoad(cand.OriginalURL, "no sale price on detail page", nil)
	}
	rec.RecomputeDiscount()

	link, werr := e.widgetLink(ctx, page, log)
	switch {
	case werr == nil && validAffiliateLink(link, rec.OriginalURL):
		state = e.transition(log, state, StateWidgetOpened)
		rec.AffiliateURL = link
	case werr == nil:
		// Widget answered with garbage; treat like unavailability.
		state = e.transition(log, state, StateWidgetUnavailable)
		log.Warn().Str("link", link).Msg("Widget produced an invalid link, falling back")
		state = e.transition(log, state, StateManualFallback)
		rec.AffiliateURL = e.manualLink(rec)
	default:
		if ctx.Err() != nil {
			return nil, werr
		}
		if errors.TypeOf(werr) == errors.ErrorTypeSelector || errors.TypeOf(werr) == errors.ErrorTypeWidget {
			state = e.transition(log, state, StateWidgetTimeout)
		} else {
			state = e.transition(log, state, StateWidgetUnavailable)
		}
		log.Warn().Err(werr).Msg("Widget link generation failed, falling back")
		state = e.transition(log, state, StateManualFallback)
		rec.AffiliateURL = e.manualLink(rec)
	}

	state = e.transition(log, state, StateLinkGenerated)
	log.Debug().
		Str("asin", rec.ASIN).
		Str("affiliate_url", rec.AffiliateURL).
		Str("final_state", string(state)).
		Msg("Candidate enriched")

	return rec, nil
}

// transition logs one step of the state machine and returns the new state
func (e *ProductEnricher) transition(log *logger.Logger, from, to State) State {
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Enrichment state")
	return to
}

// loadDetail navigates to the product page with bounded retries and returns
// the rendered HTML. A blocking page aborts immediately.
func (e *ProductEnricher) loadDetail(ctx context.Context, cand offer.Candidate, page browser.Page, log *logger.Logger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.DetailAttempts; attempt++ {
		err := page.Navigate(ctx, cand.OriginalURL, e.opts.PageLoadTimeout)
		if err == nil {
			if berr := browser.CheckBlocked(page); berr != nil {
				return "", berr
			}
			html, herr := page.HTML()
			if herr == nil {
				return html, nil
			}
			err = herr
		}

		lastErr = err
		if attempt < e.opts.DetailAttempts {
			log.Debug().Int("attempt", attempt).Err(err).Msg("Detail page load failed, retrying")
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", errors.NewDetailLoad(cand.OriginalURL, "detail page did not load", lastErr)
}

// widgetLink runs the widget attempt loop with a linearly growing backoff
func (e *ProductEnricher) widgetLink(ctx context.Context, page browser.Page, log *logger.Logger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.WidgetAttempts; attempt++ {
		link, err := e.widget.Generate(page)
		if err == nil {
			return link, nil
		}
		lastErr = err
		if attempt < e.opts.WidgetAttempts {
			log.Debug().Int("attempt", attempt).Err(err).Msg("Widget attempt failed")
			select {
			case <-time.After(time.Duration(attempt) * e.opts.WidgetBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", lastErr
}

// manualLink builds the fallback affiliate link. With an ASIN it is a clean
// /dp/ link on the storefront host; without one the tag is appended to the
// stripped original URL.
func (e *ProductEnricher) manualLink(rec *offer.Offer) string {
	host := e.opts.BaseURL
	if u, err := url.Parse(rec.OriginalURL); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}

	if rec.ASIN != "" {
		return fmt.Sprintf("%s/dp/%s/?tag=%s", strings.TrimRight(host, "/"), rec.ASIN, e.opts.AssociateTag)
	}

	u, err := url.Parse(offer.BaseURL(rec.OriginalURL))
	if err != nil {
		return offer.BaseURL(rec.OriginalURL) + "?tag=" + e.opts.AssociateTag
	}
	q := u.Query()
	q.Set("tag", e.opts.AssociateTag)
	u.RawQuery = q.Encode()
	return u.String()
}

// Markers that indicate the widget rendered an error message into the
// shortlink output instead of a link.
var invalidLinkMarkers = []string{
	"⚠",
	"❌",
	"erro",
	"error",
	"não é permitido",
	"indisponível",
}

// validAffiliateLink accepts a well-formed absolute http(s) URL distinct
// from the product URL and free of error markers.
func validAffiliateLink(link, originalURL string) bool {
	if link == "" || link == originalURL {
		return false
	}
	lower := strings.ToLower(link)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return false
	}
	for _, marker := range invalidLinkMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return false
		}
	}
	return true
}

// recordFromCandidate seeds an offer with the listing-level fields
func recordFromCandidate(cand offer.Candidate) *offer.Offer {
	return &offer.Offer{
		ASIN:        cand.ASIN,
		ProductName: cand.Name,
		OriginalURL: cand.OriginalURL,
		ImageURL:    cand.ThumbnailURL,
		ListPrice:   cand.ListPrice,
		SalePrice:   cand.SalePrice,
		Rating:      cand.Rating,
		HasCoupon:   cand.HasCoupon,
		Category:    cand.Category,
		SourceURL:   cand.SourceURL,
		ScrapeType:  cand.ScrapeType,
	}
}
