package offer

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Status is the distribution state of an offer on one channel
type Status string

const (
	StatusNew   Status = "new"
	StatusSent  Status = "sent"
	StatusError Status = "error"
)

// Channels lists the downstream distribution channels in dispatch order
var Channels = []string{"telegram", "whatsapp", "tiktok"}

// Candidate is a product summary extracted from one listing card.
// It is transient: consumed by the enricher, never persisted.
type Candidate struct {
	SourceURL    string
	ScrapeType   string
	Category     string
	ASIN         string
	OriginalURL  string
	ThumbnailURL string
	Name         string
	ListPrice    *float64
	SalePrice    *float64
	Rating       *float64
	HasCoupon    bool
}

// Offer is the persisted entity produced by the pipeline.
// Identity key is the ASIN when present, else the original URL with
// query string and fragment stripped.
type Offer struct {
	ID                 int64
	ASIN               string
	ProductName        string
	OriginalURL        string
	AffiliateURL       string
	ImageURL           string
	ListPrice          *float64
	SalePrice          *float64
	DiscountPercentage *int
	HasCoupon          bool
	CouponCode         string
	CouponDiscount     string
	PromotionText      string
	PrimeEligible      bool
	Rating             *float64
	ReviewCount        *int
	ShippingInfo       string
	InstallmentInfo    string
	Category           string
	SourceURL          string
	ScrapeType         string

	StatusTelegram Status
	StatusWhatsapp Status
	StatusTiktok   Status
	SentAtTelegram *time.Time
	SentAtWhatsapp *time.Time
	SentAtTiktok   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdentityKey returns the deduplication key for the offer
func (o *Offer) IdentityKey() string {
	if o.ASIN != "" {
		return o.ASIN
	}
	return BaseURL(o.OriginalURL)
}

// RecomputeDiscount derives the discount percentage from the two prices.
// It is nil unless both prices are present and the list price is higher.
func (o *Offer) RecomputeDiscount() {
	o.DiscountPercentage = DiscountPercent(o.ListPrice, o.SalePrice)
}

// DiscountPercent returns round-half-up((list-sale)/list*100) as an integer
// percentage, or nil when either price is missing or there is no discount.
func DiscountPercent(listPrice, salePrice *float64) *int {
	if listPrice == nil || salePrice == nil || *listPrice <= 0 || *listPrice <= *salePrice {
		return nil
	}
	pct := int(math.Round((*listPrice - *salePrice) / *listPrice * 100))
	return &pct
}

// BaseURL strips the query string and fragment from a product URL so that
// tracking parameters do not defeat deduplication.
func BaseURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`ASIN=([A-Z0-9]{10})`),
}

// ExtractASIN pulls the catalog identifier out of a product URL, if any
func ExtractASIN(rawURL string) string {
	for _, p := range asinPatterns {
		if m := p.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	}
	return ""
}

var nonPriceChars = regexp.MustCompile(`[^0-9.]`)

// ParsePrice converts a localized price string such as "R$ 1.234,56" to a
// float. Returns nil when no parseable amount is present.
func ParsePrice(text string) *float64 {
	if text == "" {
		return nil
	}
	clean := strings.TrimSpace(strings.ReplaceAll(text, "R$", ""))
	clean = strings.ReplaceAll(clean, " ", "")
	// Thousands separator first, then decimal comma
	clean = strings.ReplaceAll(clean, ".", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	clean = nonPriceChars.ReplaceAllString(clean, "")
	if clean == "" {
		return nil
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

var ratingOutOfFive = regexp.MustCompile(`([\d][.,]?\d*)\s*de\s*5`)

// ParseRating reads "4,8 de 5 estrelas" style texts. Both comma and dot are
// decimal separators here, so the price parser does not apply.
func ParseRating(text string) *float64 {
	m := ratingOutOfFive.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 || v > 5 {
		return nil
	}
	return &v
}

// FloatsEqual compares two optional prices for the re-offer decision
func FloatsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(*a-*b) < 0.005
}
