package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestDiscountPercent(t *testing.T) {
	tests := []struct {
		name string
		list *float64
		sale *float64
		want *int
	}{
		{"simple discount", f(100), f(75), intPtr(25)},
		{"rounds half up", f(200), f(175), intPtr(13)}, // 12.5%
		{"rounds down", f(300), f(263), intPtr(12)},    // 12.33%
		{"no discount when equal", f(100), f(100), nil},
		{"no discount when sale higher", f(100), f(120), nil},
		{"missing list price", nil, f(50), nil},
		{"missing sale price", f(100), nil, nil},
		{"zero list price", f(0), f(0), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiscountPercent(tt.list, tt.sale)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func intPtr(v int) *int { return &v }

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"R$ 1.234,56", f(1234.56)},
		{"R$99,90", f(99.90)},
		{"1.299,00", f(1299.00)},
		{"R$ 5", f(5)},
		{"", nil},
		{"sem preço", nil},
		{"R$ 0,00", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePrice(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func TestExtractASIN(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.amazon.com.br/dp/B0ABCDEF12?th=1", "B0ABCDEF12"},
		{"https://www.amazon.com.br/produto-x/dp/B012345678/ref=sr_1_1", "B012345678"},
		{"https://www.amazon.com.br/gp/product/B0XYZXYZ99", "B0XYZXYZ99"},
		{"https://www.amazon.com.br/checkout?ASIN=B011112222&qty=1", "B011112222"},
		{"https://www.amazon.com.br/deals", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractASIN(tt.url), tt.url)
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"4,8 de 5 estrelas", f(4.8)},
		{"4.5 de 5 stars", f(4.5)},
		{"5 de 5 estrelas", f(5)},
		{"Classificação média: 3,0 de 5", f(3.0)},
		{"de 5 estrelas", nil},
		{"45 de 5", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseRating(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t,
		"https://www.amazon.com.br/dp/B0ABCDEF12",
		BaseURL("https://www.amazon.com.br/dp/B0ABCDEF12?ref=deals&tag=x#detail"))
	assert.Equal(t,
		"https://www.amazon.com.br/dp/B0ABCDEF12",
		BaseURL("https://www.amazon.com.br/dp/B0ABCDEF12"))
	assert.Equal(t, "", BaseURL(""))
}

func TestIdentityKey(t *testing.T) {
	withASIN := &Offer{ASIN: "B0ABCDEF12", OriginalURL: "https://example.com/dp/other"}
	assert.Equal(t, "B0ABCDEF12", withASIN.IdentityKey())

	withoutASIN := &Offer{OriginalURL: "https://example.com/item?tag=x"}
	assert.Equal(t, "https://example.com/item", withoutASIN.IdentityKey())
}

func TestFloatsEqual(t *testing.T) {
	assert.True(t, FloatsEqual(f(10.00), f(10.004)))
	assert.False(t, FloatsEqual(f(10.00), f(10.01)))
	assert.True(t, FloatsEqual(nil, nil))
	assert.False(t, FloatsEqual(f(10), nil))
	assert.False(t, FloatsEqual(nil, f(10)))
}

func TestRecomputeDiscount(t *testing.T) {
	o := &Offer{ListPrice: f(100), SalePrice: f(60)}
	o.RecomputeDiscount()
	require.NotNil(t, o.DiscountPercentage)
	assert.Equal(t, 40, *o.DiscountPercentage)

	o.ListPrice = nil
	o.RecomputeDiscount()
	assert.Nil(t, o.DiscountPercentage)
}
