package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"partnerpay/internal/core/types"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name    string
		rate    string
		untaxed string
		refund  bool
		want    string
	}{
		{"five percent of 1000", "5", "1000", false, "50"},
		{"fractional rate", "2.5", "1000", false, "25"},
		{"zero rate yields exactly zero", "0", "1000", false, "0"},
		{"refund forces negative", "5", "1000", true, "-50"},
		{"refund of negative amount stays negative", "5", "-1000", true, "-50"},
		{"zero amount", "5", "0", false, "0"},
		{"full rate", "100", "199.99", false, "199.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := types.MustMoney(tt.rate)
			untaxed := types.MustMoney(tt.untaxed)
			want := types.MustMoney(tt.want)

			got := Calculate(rate, untaxed, tt.refund)
			assert.True(t, got.Equal(want), "got %s, want %s", got, want)
		})
	}
}

func TestCalculate_DecimalPrecision(t *testing.T) {
	// 3.33% of 0.10 must not lose precision to float rounding.
	got := Calculate(types.MustMoney("3.33"), types.MustMoney("0.10"), false)
	assert.True(t, got.Equal(types.MustMoney("0.00333")), "got %s", got)
}
