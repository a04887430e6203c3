// Package browser owns the single authenticated browser context used by a
// run. The pipeline only sees the Page and Widget capability interfaces, so
// the automation backend can be swapped without touching the scraper or the
// enricher.
package browser

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"offerworker/internal/session"
	"offerworker/logger"
	"offerworker/pkg/errors"
)

// Page is one navigable browser tab
type Page interface {
	// Navigate loads url and waits for the DOM to settle
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// URL returns the current location after redirects
	URL() string

	// HTML returns a snapshot of the rendered DOM
	HTML() (string, error)

	// ScrollBy scrolls down by the given fraction of the viewport height
	ScrollBy(fraction float64) error

	// Click waits for the element and clicks it
	Click(selector string, timeout time.Duration) error

	// ReadValue waits for the element and returns its value property
	ReadValue(selector string, timeout time.Duration) (string, error)

	// Close closes the tab
	Close() error
}

// Browser wraps one headless browser carrying the authenticated session
type Browser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	log      *logger.Logger
}

// Launch starts a headless browser and installs the session cookies.
// The caller owns the browser for the whole run and must Close it,
// including on the fatal/blocked path.
func Launch(sess *session.Session) (*Browser, error) {
	l := launcher.New().Headless(true).Logger(io.Discard)
	if bin := os.Getenv("ROD_BROWSER_BIN"); bin != "" {
		l = l.Bin(bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.NewNavigation("browser", "launch browser", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, errors.NewNavigation("browser", "connect browser", err)
	}

	if err := b.SetCookies(cookieParams(sess.Cookies)); err != nil {
		b.Close()
		l.Cleanup()
		return nil, errors.NewNavigation("browser", "install session cookies", err)
	}

	log := logger.Default.WithField("component", "browser")
	log.Debug().Int("cookies", len(sess.Cookies)).Msg("Browser launched with session")

	return &Browser{launcher: l, browser: b, log: log}, nil
}

// NewPage opens a tab with a desktop viewport
func (b *Browser) NewPage() (Page, error) {
	p, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, errors.NewNavigation("browser", "open page", err)
	}

	err = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  1920,
		Height: 1080,
	})
	if err != nil {
		p.Close()
		return nil, errors.NewNavigation("browser", "set viewport", err)
	}

	return &rodPage{page: p}, nil
}

// Close releases the browser and the launcher
func (b *Browser) Close() {
	b.browser.Close()
	b.launcher.Cleanup()
}

func cookieParams(cookies []session.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch c.SameSite {
		case "Strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case "Lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "None":
			p.SameSite = proto.NetworkCookieSameSiteNone
		}
		params = append(params, p)
	}
	return params
}

// rodPage adapts a rod page to the Page interface
type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	timed := p.page.Context(ctx).Timeout(timeout)
	if err := timed.Navigate(url); err != nil {
		return errors.NewNavigation(url, "navigate", err)
	}

	// Settle the DOM; a failed stabilization is not fatal, the page may
	// simply keep animating.
	if err := timed.WaitStable(time.Second); err == nil {
		_ = timed.WaitDOMStable(2*time.Second, 0.1)
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) HTML() (string, error) {
	html, err := p.page.HTML()
	if err != nil {
		return "", errors.NewNavigation(p.URL(), "read page HTML", err)
	}
	return html, nil
}

func (p *rodPage) ScrollBy(fraction float64) error {
	_, err := p.page.Eval(`(f) => window.scrollBy(0, window.innerHeight * f)`, fraction)
	return err
}

func (p *rodPage) Click(selector string, timeout time.Duration) error {
	el, err := p.page.Timeout(timeout).Element(selector)
	if err != nil {
		return errors.NewSelector(p.URL(), selector)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return errors.NewSelector(p.URL(), selector)
	}
	return nil
}

func (p *rodPage) ReadValue(selector string, timeout time.Duration) (string, error) {
	el, err := p.page.Timeout(timeout).Element(selector)
	if err != nil {
		return "", errors.NewSelector(p.URL(), selector)
	}
	v, err := el.Property("value")
	if err != nil {
		return "", errors.NewSelector(p.URL(), selector)
	}
	return v.Str(), nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
