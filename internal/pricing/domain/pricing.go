// Package domain 定价引擎：法币与加密货币之间的报价换算。
// 纯函数，无副作用；所有金额使用精确十进制，禁止二进制浮点。
package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAmountTooLow 金额低于可成交下限（手续费吃掉本金，或卖出所得低于平台下限）
var ErrAmountTooLow = errors.New("pricing: amount too low")

// CryptoPrecision 加密货币数量保留的小数位
const CryptoPrecision = 8

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// BuyQuote 买入报价结果
type BuyQuote struct {
	// 用户收到的加密货币数量
	CryptoOut decimal.Decimal
	// 加价后的成交汇率
	EffectiveRate decimal.Decimal
	// 按原始汇率折算的网络手续费（法币）
	NetworkFeeFiat decimal.Decimal
	// 实际扣除的法币总额
	TotalFiat decimal.Decimal
}

// SellQuote 卖出报价结果
type SellQuote struct {
	// 用户到账的法币金额
	FiatOut decimal.Decimal
	// 减价后的成交汇率
	EffectiveRate decimal.Decimal
}

// QuoteBuy 按法币投入金额报买入价。
// 成交汇率 = 现货汇率 × (1 + margin/100)；网络手续费按未加价的现货汇率折算法币。
// 手续费不低于投入金额时返回 ErrAmountTooLow。
func QuoteBuy(fiatIn, spotRate, marginPct, networkFee decimal.Decimal) (BuyQuote, error) {
	effectiveRate := spotRate.Mul(one.Add(marginPct.Div(hundred)))
	networkFeeFiat := networkFee.Mul(spotRate).RoundBank(0)

	available := fiatIn.Sub(networkFeeFiat)
	if available.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrAmountTooLow
	}

	cryptoOut := available.Div(effectiveRate).RoundBank(CryptoPrecision)

	return BuyQuote{
		CryptoOut:      cryptoOut,
		EffectiveRate:  effectiveRate,
		NetworkFeeFiat: networkFeeFiat,
		TotalFiat:      fiatIn.RoundBank(0),
	}, nil
}

// QuoteBuyByCrypto 按加密货币数量报买入价，返回应付法币总额。
func QuoteBuyByCrypto(cryptoIn, spotRate, marginPct, networkFee decimal.Decimal) (BuyQuote, error) {
	if cryptoIn.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrAmountTooLow
	}

	effectiveRate := spotRate.Mul(one.Add(marginPct.Div(hundred)))
	networkFeeFiat := networkFee.Mul(spotRate).RoundBank(0)
	subtotal := cryptoIn.Mul(effectiveRate).RoundBank(0)

	return BuyQuote{
		CryptoOut:      cryptoIn.RoundBank(CryptoPrecision),
		EffectiveRate:  effectiveRate,
		NetworkFeeFiat: networkFeeFiat,
		TotalFiat:      subtotal.Add(networkFeeFiat),
	}, nil
}

// QuoteSell 按加密货币数量报卖出价。
// 成交汇率 = 现货汇率 × (1 − margin/100)；所得低于 minFiat 时返回 ErrAmountTooLow。
func QuoteSell(cryptoIn, spotRate, marginPct, minFiat decimal.Decimal) (SellQuote, error) {
	effectiveRate := spotRate.Mul(one.Sub(marginPct.Div(hundred)))
	fiatOut := cryptoIn.Mul(effectiveRate).RoundBank(0)

	if fiatOut.LessThan(minFiat) {
		return SellQuote{}, ErrAmountTooLow
	}

	return SellQuote{
		FiatOut:       fiatOut,
		EffectiveRate: effectiveRate,
	}, nil
}
