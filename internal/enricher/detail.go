package enricher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"offerworker/internal/offer"
)

// Detail page extraction. Every field is read through a short ordered list
// of selectors, first success wins; a miss leaves the listing value alone.

var (
	reviewDigits = regexp.MustCompile(`[\d.,]+`)
	nonDigit     = regexp.MustCompile(`[^\d]`)
	promoCleanup = regexp.MustCompile(`\s*(Ver itens participantes|Termos)\s*`)
)

// parseDetail refreshes rec with the richer fields of the product page.
// Listing values stay in place when the page does not show a better one.
func parseDetail(html string, rec *offer.Offer) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	if rec.ASIN == "" {
		if v, ok := doc.Find("input#ASIN").Attr("value"); ok && len(v) == 10 {
			rec.ASIN = v
		}
	}

	if p := detailSalePrice(doc); p != nil {
		rec.SalePrice = p
	}
	if p := detailListPrice(doc); p != nil {
		rec.ListPrice = p
	}

	parsePromotions(doc, rec)

	if doc.Find("i.a-icon-prime, #primeBadge_feature_div i[aria-label='Prime']").Length() > 0 {
		rec.PrimeEligible = true
	}

	if txt := doc.Find("#acrPopover span.a-icon-alt, i[class*='a-icon-star'] span.a-icon-alt").First().Text(); txt != "" {
		if r := offer.ParseRating(txt); r != nil {
			rec.Rating = r
		}
	}

	if txt := doc.Find("#acrCustomerReviewText").First().Text(); txt != "" {
		digits := nonDigit.ReplaceAllString(reviewDigits.FindString(txt), "")
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			rec.ReviewCount = &n
		}
	}

	if span := doc.Find("span[data-csa-c-delivery-price]").First(); span.Length() > 0 {
		price, _ := span.Attr("data-csa-c-delivery-price")
		when, _ := span.Attr("data-csa-c-delivery-time")
		if price != "" {
			info := price
			if when != "" {
				info += " - " + when
			}
			rec.ShippingInfo = info
		}
	}

	if txt := strings.TrimSpace(doc.Find("#best-offer-string-cc").First().Text()); txt != "" {
		rec.InstallmentInfo = txt
	}

	if crumbs := breadcrumb(doc); crumbs != "" && rec.Category == "" {
		rec.Category = crumbs
	}
}

// detailSalePrice reads the price-to-pay block: whole+fraction spans first
// because they survive more layout variants, then the offscreen fallbacks.
func detailSalePrice(doc *goquery.Document) *float64 {
	whole := strings.TrimSpace(doc.Find("span.priceToPay span.a-price-whole").First().Text())
	fraction := strings.TrimSpace(doc.Find("span.priceToPay span.a-price-fraction").First().Text())
	if whole != "" && fraction != "" {
		whole = nonDigit.ReplaceAllString(whole, "")
		fraction = nonDigit.ReplaceAllString(fraction, "")
		if whole != "" && fraction != "" {
			if p := offer.ParsePrice(whole + "," + fraction); p != nil {
				return p
			}
		}
	}

	for _, sel := range []string{
		"#corePrice_feature_div span.a-offscreen",
		"#corePriceDisplay_desktop_feature_div span.a-offscreen",
	} {
		if txt := doc.Find(sel).First().Text(); txt != "" {
			if p := offer.ParsePrice(txt); p != nil {
				return p
			}
		}
	}
	return nil
}

// detailListPrice reads the struck-through "De:" price
func detailListPrice(doc *goquery.Document) *float64 {
	for _, sel := range []string{
		"span.a-price.a-text-price[data-a-strike='true'] span.a-offscreen",
		".basisPrice span.a-offscreen",
	} {
		if txt := doc.Find(sel).First().Text(); txt != "" {
			if p := offer.ParsePrice(txt); p != nil {
				return p
			}
		}
	}
	return nil
}

// parsePromotions joins every promotion block with a "|||" separator so
// downstream senders can split them again.
func parsePromotions(doc *goquery.Document, rec *offer.Offer) {
	container := doc.Find("span.promoPriceBlockMessage").First()
	if container.Length() == 0 {
		return
	}

	var promotions []string
	container.Find("div[style*='padding']").Each(func(_ int, div *goquery.Selection) {
		var parts []string
		if badge := strings.TrimSpace(div.Find("label[id^='greenBadge']").First().Text()); badge != "" {
			parts = append(parts, badge)
			if rec.CouponDiscount == "" {
				rec.CouponDiscount = badge
			}
		}
		if msg := strings.TrimSpace(div.Find("span[id^='promoMessage']").First().Text()); msg != "" {
			parts = append(parts, strings.TrimSpace(promoCleanup.ReplaceAllString(msg, "")))
		}
		if joined := strings.TrimSpace(strings.Join(parts, " ")); joined != "" {
			promotions = append(promotions, joined)
		}
	})

	if len(promotions) > 0 {
		rec.PromotionText = strings.Join(promotions, "|||")
		rec.HasCoupon = true
	}
}

func breadcrumb(doc *goquery.Document) string {
	var crumbs []string
	doc.Find("#wayfinding-breadcrumbs_feature_div li a").Each(func(_ int, a *goquery.Selection) {
		if t := strings.TrimSpace(a.Text()); t != "" {
			crumbs = append(crumbs, t)
		}
	})
	return strings.Join(crumbs, " > ")
}
