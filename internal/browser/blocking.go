package browser

import (
	"strings"

	"offerworker/pkg/errors"
)

// Markers the storefront serves when it suspects automated traffic. An
// unexpected redirect to the error path counts as well. The list is checked
// after every navigation; a hit aborts the run.
var (
	blockedURLMarkers = []string{
		"validateCaptcha",
		"/errors/",
	}
	blockedBodyMarkers = []string{
		"api-services-support@amazon.com",
		"Digite os caracteres que aparecem",
		"Enter the characters you see below",
		"automated access to Amazon data",
	}
)

// CheckBlocked inspects the current page for blocking or captcha markers.
// Returns a fatal blocked error on a hit, nil otherwise.
func CheckBlocked(p Page) error {
	url := p.URL()
	for _, marker := range blockedURLMarkers {
		if strings.Contains(url, marker) {
			return errors.NewBlocked(url, marker)
		}
	}

	html, err := p.HTML()
	if err != nil {
		// Not being able to read the page is a navigation problem, not
		// evidence of blocking.
		return nil
	}
	for _, marker := range blockedBodyMarkers {
		if strings.Contains(html, marker) {
			return errors.NewBlocked(url, marker)
		}
	}
	return nil
}
