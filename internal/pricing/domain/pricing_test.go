package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuoteBuy(t *testing.T) {
	tests := []struct {
		name          string
		fiatIn        string
		spotRate      string
		marginPct     string
		networkFee    string
		wantCrypto    string
		wantRate      string
		wantFeeFiat   string
		wantTotalFiat string
		wantErr       error
	}{
		{
			name:          "no fee margin 2 percent",
			fiatIn:        "50000",
			spotRate:      "1000000",
			marginPct:     "2",
			networkFee:    "0",
			wantCrypto:    "0.04901961",
			wantRate:      "1020000",
			wantFeeFiat:   "0",
			wantTotalFiat: "50000",
		},
		{
			name:          "network fee converted at spot rate",
			fiatIn:        "10000",
			spotRate:      "1000000",
			marginPct:     "2",
			networkFee:    "0.001",
			wantCrypto:    "0.00882353",
			wantRate:      "1020000",
			wantFeeFiat:   "1000",
			wantTotalFiat: "10000",
		},
		{
			name:       "fee equals input",
			fiatIn:     "1000",
			spotRate:   "1000000",
			marginPct:  "2",
			networkFee: "0.001",
			wantErr:    ErrAmountTooLow,
		},
		{
			name:       "fee exceeds input",
			fiatIn:     "500",
			spotRate:   "1000000",
			marginPct:  "2",
			networkFee: "0.001",
			wantErr:    ErrAmountTooLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := QuoteBuy(d(tt.fiatIn), d(tt.spotRate), d(tt.marginPct), d(tt.networkFee))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, q.CryptoOut.Equal(d(tt.wantCrypto)), "crypto out = %s", q.CryptoOut)
			assert.True(t, q.EffectiveRate.Equal(d(tt.wantRate)), "effective rate = %s", q.EffectiveRate)
			assert.True(t, q.NetworkFeeFiat.Equal(d(tt.wantFeeFiat)), "fee fiat = %s", q.NetworkFeeFiat)
			assert.True(t, q.TotalFiat.Equal(d(tt.wantTotalFiat)), "total fiat = %s", q.TotalFiat)
		})
	}
}

func TestQuoteSell(t *testing.T) {
	q, err := QuoteSell(d("0.01"), d("1000000000"), d("2"), d("10000"))
	require.NoError(t, err)
	assert.True(t, q.FiatOut.Equal(d("9800000")), "fiat out = %s", q.FiatOut)
	assert.True(t, q.EffectiveRate.Equal(d("980000000")), "effective rate = %s", q.EffectiveRate)
}

func TestQuoteSellBelowFloor(t *testing.T) {
	_, err := QuoteSell(d("0.000001"), d("1000000000"), d("2"), d("10000"))
	require.ErrorIs(t, err, ErrAmountTooLow)
}

func TestQuoteBuyByCrypto(t *testing.T) {
	q, err := QuoteBuyByCrypto(d("0.01"), d("1000000"), d("2"), d("0.001"))
	require.NoError(t, err)
	assert.True(t, q.TotalFiat.Equal(d("11200")), "total fiat = %s", q.TotalFiat)
	assert.True(t, q.NetworkFeeFiat.Equal(d("1000")), "fee fiat = %s", q.NetworkFeeFiat)

	_, err = QuoteBuyByCrypto(d("0"), d("1000000"), d("2"), d("0"))
	require.ErrorIs(t, err, ErrAmountTooLow)
}

// 价差不可反转：正价差下买入后立刻卖出必然少于投入。
func TestRoundTripSpreadNeverInverts(t *testing.T) {
	amounts := []string{"10000", "50000", "123457", "999999", "5000000"}
	margins := []string{"0.5", "1", "2", "5"}
	rate := d("1000000")

	for _, a := range amounts {
		for _, m := range margins {
			buy, err := QuoteBuy(d(a), rate, d(m), d("0"))
			require.NoError(t, err)

			sell, err := QuoteSell(buy.CryptoOut, rate, d(m), d("0"))
			require.NoError(t, err)

			assert.True(t, sell.FiatOut.LessThan(d(a)),
				"amount %s margin %s: round trip %s must be below input", a, m, sell.FiatOut)
		}
	}
}
