package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"offerworker/config"
	"offerworker/internal/offer"
)

// Strategy is one way to pull a field out of a result card. Strategies are
// tried in order and the first one that yields a value wins; this ordered
// fallback is the primary defense against incremental markup drift.
type Strategy struct {
	Name    string
	Extract func(s *goquery.Selection) string
}

// text extracts the trimmed text of the first element matching selector
func text(selector string) Strategy {
	return Strategy{
		Name: "text " + selector,
		Extract: func(s *goquery.Selection) string {
			return strings.TrimSpace(s.Find(selector).First().Text())
		},
	}
}

// attr extracts an attribute of the first element matching selector
func attr(selector, name string) Strategy {
	return Strategy{
		Name: "attr " + selector + "@" + name,
		Extract: func(s *goquery.Selection) string {
			v, _ := s.Find(selector).First().Attr(name)
			return strings.TrimSpace(v)
		},
	}
}

// firstMatch runs a strategy chain and returns the first non-empty value
// together with the name of the strategy that produced it.
func firstMatch(s *goquery.Selection, chain []Strategy) (string, string) {
	for _, st := range chain {
		if v := st.Extract(s); v != "" {
			return v, st.Name
		}
	}
	return "", ""
}

// fieldChains holds the per-field strategy chains for one configuration
type fieldChains struct {
	cards  []string
	link   []Strategy
	name   []Strategy
	image  []Strategy
	rating []Strategy
	coupon []Strategy
	price  []Strategy
}

// buildChains assembles the default chains, with any per-config selector
// override installed as the highest-priority strategy of its field.
func buildChains(cfg config.ScrapeConfig) fieldChains {
	c := fieldChains{
		cards: []string{
			`div[data-testid='product-card']`,
			`div.zg-grid-general-faceout`,
			`div[data-asin]`,
		},
		link: []Strategy{
			attr(`a[href*='/dp/']`, "href"),
			attr(`a[data-testid='product-card-link']`, "href"),
			attr(`a[href*='/gp/product/']`, "href"),
		},
		name: []Strategy{
			attr(`img[alt]`, "alt"),
			text(`span.a-truncate-full`),
			text(`p[id^='title-']`),
			text(`div[class*='p13n-sc-css-line-clamp']`),
			text(`span.a-truncate-cut`),
		},
		image: []Strategy{
			attr(`img`, "src"),
			attr(`img`, "data-src"),
		},
		rating: []Strategy{
			text(`i[class*='a-icon-star'] span.a-icon-alt`),
			attr(`i[class*='a-icon-star']`, "aria-label"),
		},
		coupon: []Strategy{
			text(`span.s-coupon-highlight-color`),
			text(`span.couponBadge`),
			text(`span.promoPriceBlockMessage`),
		},
		price: []Strategy{
			text(`span[class*='p13n-sc-price']`),
			text(`span.price-tag-fraction`),
		},
	}

	if sel := cfg.Selectors["card"]; sel != "" {
		c.cards = append([]string{sel}, c.cards...)
	}
	override := func(chain []Strategy, field string) []Strategy {
		if sel := cfg.Selectors[field]; sel != "" {
			return append([]Strategy{text(sel)}, chain...)
		}
		return chain
	}
	if sel := cfg.Selectors["link"]; sel != "" {
		c.link = append([]Strategy{attr(sel, "href")}, c.link...)
	}
	if sel := cfg.Selectors["image"]; sel != "" {
		c.image = append([]Strategy{attr(sel, "src")}, c.image...)
	}
	c.name = override(c.name, "name")
	c.rating = override(c.rating, "rating")
	c.coupon = override(c.coupon, "coupon")
	c.price = override(c.price, "price")

	return c
}

var currencyMarkers = []string{"R$", "$", "€", "£"}

// cardPrices collects every price shown on a card. Cards render the sale
// price and the struck-through list price as separate offscreen spans, so
// the smallest amount is the sale price and the largest the list price.
func cardPrices(s *goquery.Selection, chains fieldChains) (listPrice, salePrice *float64) {
	var prices []float64
	s.Find("span.a-offscreen").Each(func(_ int, span *goquery.Selection) {
		t := strings.TrimSpace(span.Text())
		if !hasCurrency(t) {
			return
		}
		if p := offer.ParsePrice(t); p != nil {
			prices = append(prices, *p)
		}
	})

	if len(prices) == 0 {
		if v, _ := firstMatch(s, chains.price); v != "" {
			if p := offer.ParsePrice(v); p != nil {
				prices = append(prices, *p)
			}
		}
	}
	if len(prices) == 0 {
		return nil, nil
	}

	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	salePrice = &lo
	if hi > lo {
		listPrice = &hi
	}
	return listPrice, salePrice
}

func hasCurrency(t string) bool {
	for _, m := range currencyMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}
