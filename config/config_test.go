package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ASSOCIATE_TAG", "mytag-20")

	cfg := LoadConfig()

	assert.Equal(t, "mytag-20", cfg.AssociateTag)
	assert.Equal(t, "https://www.amazon.com.br", cfg.BaseURL)
	assert.Equal(t, "offers.db", cfg.DatabasePath)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 5*24*time.Hour, cfg.ReofferAfter)
	assert.Equal(t, 30*time.Second, cfg.PageLoadTimeout)
	assert.Equal(t, 8*time.Second, cfg.WidgetOpenTimeout)
	assert.Equal(t, 3, cfg.WidgetAttempts)
	assert.Equal(t, 2, cfg.DetailAttempts)
	assert.Equal(t, 0.5, cfg.RatePerSecond)
	assert.Equal(t, 1500*time.Millisecond, cfg.PacingMin)
	assert.Equal(t, "offers", cfg.RedisStream)
	assert.Equal(t, 500, cfg.RedisStreamMax)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ASSOCIATE_TAG", "othertag-20")
	t.Setenv("REOFFER_AFTER_DAYS", "3")
	t.Setenv("WIDGET_ATTEMPTS", "5")
	t.Setenv("RATE_PER_SECOND", "2.5")

	cfg := LoadConfig()

	assert.Equal(t, 3*24*time.Hour, cfg.ReofferAfter)
	assert.Equal(t, 5, cfg.WidgetAttempts)
	assert.Equal(t, 2.5, cfg.RatePerSecond)
}

func TestValidateRejectsMissingTag(t *testing.T) {
	cfg := &Config{DatabasePath: "x.db", WidgetAttempts: 1, DetailAttempts: 1}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvertedPacing(t *testing.T) {
	cfg := &Config{
		AssociateTag:   "tag-20",
		DatabasePath:   "x.db",
		WidgetAttempts: 1,
		DetailAttempts: 1,
		PacingMin:      2 * time.Second,
		PacingMax:      time.Second,
	}
	assert.Error(t, cfg.Validate())
}

const validScrapeConfigs = `
scrape_configs:
  - name: deals-home
    url: https://www.amazon.com.br/deals
    type: deal
    max_offers: 20
    enabled: true
    category: ofertas
  - name: coupons-electronics
    url: https://www.amazon.com.br/promotions
    type: coupon+product
    max_offers: 10
    enabled: false
    selectors:
      card: "div[data-testid='promo-card']"
      name: "span.promo-title"
`

func TestLoadScrapeConfigs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrape_configs.yml")
	require.NoError(t, os.WriteFile(path, []byte(validScrapeConfigs), 0o644))

	configs, err := LoadScrapeConfigs(path)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "deals-home", configs[0].Name)
	assert.Equal(t, TypeDeal, configs[0].Type)
	assert.True(t, configs[0].Enabled)
	assert.Equal(t, 20, configs[0].MaxOffers)

	assert.False(t, configs[1].Enabled)
	assert.Equal(t, "span.promo-title", configs[1].Selectors["name"])
}

func TestLoadScrapeConfigsRejectsBadType(t *testing.T) {
	bad := `
scrape_configs:
  - name: broken
    url: https://example.com
    type: banner
    max_offers: 5
    enabled: true
`
	path := filepath.Join(t.TempDir(), "scrape_configs.yml")
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadScrapeConfigs(path)
	assert.Error(t, err)
}

func TestLoadScrapeConfigsMissingFile(t *testing.T) {
	_, err := LoadScrapeConfigs(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestScrapeConfigValidate(t *testing.T) {
	valid := ScrapeConfig{Name: "a", URL: "https://example.com", Type: TypeProduct, MaxOffers: 1}
	assert.NoError(t, valid.Validate())

	assert.Error(t, ScrapeConfig{URL: "u", Type: TypeProduct, MaxOffers: 1}.Validate())
	assert.Error(t, ScrapeConfig{Name: "a", Type: TypeProduct, MaxOffers: 1}.Validate())
	assert.Error(t, ScrapeConfig{Name: "a", URL: "u", Type: TypeProduct}.Validate())
}
