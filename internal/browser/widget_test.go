package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerworker/pkg/errors"
)

type stubPage struct {
	url      string
	html     string
	clickErr error
	value    string
	readErr  error
	clicked  []string
}

func (p *stubPage) Navigate(context.Context, string, time.Duration) error { return nil }
func (p *stubPage) URL() string                                           { return p.url }
func (p *stubPage) HTML() (string, error)                                 { return p.html, nil }
func (p *stubPage) ScrollBy(float64) error                                { return nil }
func (p *stubPage) Close() error                                          { return nil }

func (p *stubPage) Click(selector string, _ time.Duration) error {
	p.clicked = append(p.clicked, selector)
	return p.clickErr
}

func (p *stubPage) ReadValue(string, time.Duration) (string, error) {
	return p.value, p.readErr
}

func TestCheckBlockedByURL(t *testing.T) {
	p := &stubPage{url: "https://store.test/errors/validateCaptcha", html: "<html></html>"}

	err := CheckBlocked(p)
	require.Error(t, err)
	assert.True(t, errors.IsBlocked(err))
}

func TestCheckBlockedByBody(t *testing.T) {
	p := &stubPage{
		url:  "https://store.test/deals",
		html: "<html><body>Enter the characters you see below</body></html>",
	}

	err := CheckBlocked(p)
	require.Error(t, err)
	assert.True(t, errors.IsBlocked(err))
	assert.True(t, errors.IsFatal(err))
}

func TestCheckBlockedCleanPage(t *testing.T) {
	p := &stubPage{url: "https://store.test/deals", html: "<html><body>ofertas</body></html>"}
	assert.NoError(t, CheckBlocked(p))
}

func TestSiteStripeGenerate(t *testing.T) {
	p := &stubPage{value: " https://amzn.to/3abcdef \n"}
	w := &SiteStripeWidget{OpenTimeout: time.Second, ReadTimeout: time.Second}

	link, err := w.Generate(p)
	require.NoError(t, err)
	assert.Equal(t, "https://amzn.to/3abcdef", link)
	assert.Equal(t, []string{siteStripeLinkButton}, p.clicked)
}

func TestSiteStripeGenerateButtonMissing(t *testing.T) {
	p := &stubPage{clickErr: errors.NewSelector("https://store.test/dp/x", siteStripeLinkButton)}
	w := &SiteStripeWidget{OpenTimeout: time.Second, ReadTimeout: time.Second}

	_, err := w.Generate(p)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeWidget, errors.TypeOf(err))
	assert.False(t, errors.IsFatal(err))
}

func TestSiteStripeGenerateEmptyOutput(t *testing.T) {
	p := &stubPage{value: "   "}
	w := &SiteStripeWidget{OpenTimeout: time.Second, ReadTimeout: time.Second}

	_, err := w.Generate(p)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeWidget, errors.TypeOf(err))
}
