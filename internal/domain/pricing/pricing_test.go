package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHostingPackage_AnnualPrice(t *testing.T) {
	p := HostingPackage{MonthlyPrice: decimal.RequireFromString("4.99")}
	assert.True(t, decimal.RequireFromString("59.88").Equal(p.AnnualPrice()))
}

func TestNormalizeTLD(t *testing.T) {
	tests := map[string]string{
		"com":     ".com",
		".COM":    ".com",
		"..co.uk": ".co.uk",
		" io ":    ".io",
		"":        "",
		".":       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeTLD(in), "input %q", in)
	}
}
