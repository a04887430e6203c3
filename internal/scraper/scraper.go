// Package scraper turns one listing configuration into a bounded stream of
// offer candidates, surviving markup drift through ordered selector
// strategies.
package scraper

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"offerworker/config"
	"offerworker/internal/browser"
	"offerworker/internal/offer"
	"offerworker/logger"
	"offerworker/pkg/errors"
)

const (
	// listing pagination advances the start index by this step
	pageStep = 30
	// page size grows after the storefront switches to larger batches
	smallPageSize = 60
	largePageSize = 90
	// consecutive pages or scroll rounds without new cards before stopping
	maxEmptyRounds  = 3
	maxScrollRounds = 15
	scrollPause     = 400 * time.Millisecond
)

// ListingScraper extracts candidate offers from listing pages
type ListingScraper struct {
	baseURL     string
	loadTimeout time.Duration
}

// New creates a listing scraper. baseURL resolves relative product links.
func New(baseURL string, loadTimeout time.Duration) *ListingScraper {
	return &ListingScraper{baseURL: baseURL, loadTimeout: loadTimeout}
}

// Scan lazily yields up to cfg.MaxOffers candidates from the listing page,
// in extraction order. A disabled config yields nothing and never navigates.
// The sequence is not restartable; re-scanning re-navigates. Fatal errors
// (blocking detection) and first-page navigation failures are yielded once,
// then the sequence ends.
func (s *ListingScraper) Scan(ctx context.Context, cfg config.ScrapeConfig, page browser.Page) iter.Seq2[offer.Candidate, error] {
	return func(yield func(offer.Candidate, error) bool) {
		if !cfg.Enabled {
			return
		}

		log := logger.ForScraper(cfg.Name)
		chains := buildChains(cfg)
		seen := make(map[string]bool)
		yielded := 0
		emptyPages := 0

		for pageNum := 0; ; pageNum++ {
			pageURL := listingURL(cfg.URL, pageNum)
			log.Debug().Str("url", pageURL).Int("page", pageNum+1).Msg("Loading listing page")

			if err := page.Navigate(ctx, pageURL, s.loadTimeout); err != nil {
				if pageNum == 0 {
					yield(offer.Candidate{}, err)
				} else {
					log.Warn().Err(err).Msg("Pagination navigation failed, stopping scan")
				}
				return
			}
			if err := browser.CheckBlocked(page); err != nil {
				yield(offer.Candidate{}, err)
				return
			}

			batch, err := s.collect(ctx, cfg, chains, page, seen, log)
			if err != nil {
				yield(offer.Candidate{}, err)
				return
			}

			for _, cand := range batch {
				if yielded >= cfg.MaxOffers {
					return
				}
				yielded++
				if !yield(cand, nil) {
					return
				}
			}

			if yielded >= cfg.MaxOffers {
				return
			}
			if len(batch) == 0 {
				emptyPages++
				if emptyPages >= maxEmptyRounds {
					log.Debug().Msg("No new cards on consecutive pages, listing exhausted")
					return
				}
			} else {
				emptyPages = 0
			}
		}
	}
}

// collect scrolls through the current listing page and extracts every new
// card. Cards already seen in this scan are skipped.
func (s *ListingScraper) collect(ctx context.Context, cfg config.ScrapeConfig, chains fieldChains, page browser.Page, seen map[string]bool, log *logger.Logger) ([]offer.Candidate, error) {
	var out []offer.Candidate
	noNew := 0

	for round := 0; round < maxScrollRounds; round++ {
		html, err := page.HTML()
		if err != nil {
			return out, err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return out, errors.New(errors.ErrorTypeNavigation, cfg.Name, "parse listing HTML", err)
		}

		cards := findCards(doc, chains)
		newInRound := 0
		cards.Each(func(_ int, card *goquery.Selection) {
			cand, ok := s.extractCandidate(card, cfg, chains, log)
			if !ok {
				return
			}
			key := cand.ASIN
			if key == "" {
				key = offer.BaseURL(cand.OriginalURL)
			}
			if seen[key] {
				return
			}
			seen[key] = true
			out = append(out, cand)
			newInRound++
		})

		if newInRound == 0 {
			noNew++
			if noNew >= maxEmptyRounds {
				break
			}
		} else {
			noNew = 0
		}

		if err := page.ScrollBy(1.2); err != nil {
			break
		}
		select {
		case <-time.After(scrollPause):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}

	return out, nil
}

// findCards tries the card selectors in order and keeps the first one that
// matches anything.
func findCards(doc *goquery.Document, chains fieldChains) *goquery.Selection {
	for _, sel := range chains.cards {
		if cards := doc.Find(sel); cards.Length() > 0 {
			return cards
		}
	}
	return doc.Find(chains.cards[len(chains.cards)-1])
}

// extractCandidate pulls one candidate out of a result card. Cards without
// a name, or without a price on price-carrying config types, are skipped
// with a warning and never abort the scan.
func (s *ListingScraper) extractCandidate(card *goquery.Selection, cfg config.ScrapeConfig, chains fieldChains, log *logger.Logger) (offer.Candidate, bool) {
	href, _ := firstMatch(card, chains.link)
	if href == "" {
		return offer.Candidate{}, false
	}
	productURL := s.resolveURL(href)

	asin, _ := card.Attr("data-asin")
	if len(asin) != 10 {
		asin = offer.ExtractASIN(productURL)
	}

	name, nameStrategy := firstMatch(card, chains.name)
	if name == "" {
		log.Warn().Str("url", productURL).Msg("Card yielded no name from any strategy, skipping")
		return offer.Candidate{}, false
	}

	listPrice, salePrice := cardPrices(card, chains)
	if salePrice == nil && cfg.Type != config.TypeDeal {
		log.Warn().Str("url", productURL).Str("name", truncate(name, 50)).
			Msg("Card yielded no price from any strategy, skipping")
		return offer.Candidate{}, false
	}

	cand := offer.Candidate{
		SourceURL:   cfg.URL,
		ScrapeType:  cfg.Type,
		Category:    cfg.Category,
		ASIN:        asin,
		OriginalURL: productURL,
		Name:        name,
		ListPrice:   listPrice,
		SalePrice:   salePrice,
	}

	if img, _ := firstMatch(card, chains.image); img != "" {
		cand.ThumbnailURL = img
	}
	if ratingText, _ := firstMatch(card, chains.rating); ratingText != "" {
		cand.Rating = offer.ParseRating(ratingText)
	}
	if cfg.Type == config.TypeCouponProduct {
		if badge, _ := firstMatch(card, chains.coupon); badge != "" {
			cand.HasCoupon = true
		}
	}

	log.Debug().
		Str("asin", asin).
		Str("name_strategy", nameStrategy).
		Str("name", truncate(name, 60)).
		Msg("Card extracted")

	return cand, true
}

func (s *ListingScraper) resolveURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return s.baseURL + href
}

// listingURL builds the paginated listing URL. The storefront paginates
// virtualized listings through a start-index parameter whose page size
// grows after the first few hundred results.
func listingURL(base string, pageNum int) string {
	base = strings.SplitN(base, "?", 2)[0]
	if pageNum == 0 {
		return base
	}
	startIndex := pageNum * pageStep
	pageSize := smallPageSize
	if startIndex > 330 {
		pageSize = largePageSize
	}
	return fmt.Sprintf("%s?promotionsSearchStartIndex=%d&promotionsSearchPageSize=%d", base, startIndex, pageSize)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
