package browser

import (
	"strings"
	"time"

	"offerworker/pkg/errors"
)

// Widget generates an affiliate link through an in-page interactive tool.
// The enricher only depends on this capability set, so the fragile toolbar
// automation stays replaceable.
type Widget interface {
	// Generate opens the tool on the current product page and returns the
	// generated shortened link.
	Generate(p Page) (string, error)
}

// SiteStripe selectors. The toolbar is injected by the associates program
// for logged-in partner accounts.
const (
	siteStripeLinkButton = "#amzn-ss-get-link-button"
	siteStripeShortlink  = "#amzn-ss-text-shortlink-textarea"
)

// SiteStripeWidget drives the associates toolbar on product detail pages
type SiteStripeWidget struct {
	// OpenTimeout bounds the wait for the toolbar button to render
	OpenTimeout time.Duration
	// ReadTimeout bounds the wait for the shortlink output after the click
	ReadTimeout time.Duration
}

// Generate clicks the "get link" control and reads the shortlink output
func (w *SiteStripeWidget) Generate(p Page) (string, error) {
	if err := p.Click(siteStripeLinkButton, w.OpenTimeout); err != nil {
		return "", errors.NewWidget("toolbar link button did not render", err)
	}

	link, err := p.ReadValue(siteStripeShortlink, w.ReadTimeout)
	if err != nil {
		return "", errors.NewWidget("shortlink output did not render", err)
	}

	link = strings.TrimSpace(link)
	if link == "" {
		return "", errors.NewWidget("shortlink output was empty", nil)
	}
	return link, nil
}
