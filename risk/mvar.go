package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODIFIED VALUE-AT-RISK - Cornish-Fisher expansion
// ═══════════════════════════════════════════════════════════════════════════════
//
//   z_cf = z + (z²−1)·skew/6 + (z³−3z)·kurt/24 − (2z³−5z)·skew²/36
//   mVaR = −(μ + z_cf·σ) · portfolio_value
//
// Adjusts the Gaussian quantile for the skew and excess kurtosis of the
// open positions' return distribution.
//
// ═══════════════════════════════════════════════════════════════════════════════

// returnMoments are the first four moments of a return sample.
type returnMoments struct {
	Mean float64
	Std  float64
	Skew float64
	Kurt float64 // excess kurtosis
	N    int
}

// moments computes sample moments. Skew and kurtosis need at least three
// observations; with fewer they stay zero and mVaR degrades gracefully to
// the Gaussian case.
func moments(xs []float64) returnMoments {
	m := returnMoments{N: len(xs)}
	if m.N == 0 {
		return m
	}
	for _, x := range xs {
		m.Mean += x
	}
	m.Mean /= float64(m.N)
	if m.N < 2 {
		return m
	}
	var m2, m3, m4 float64
	for _, x := range xs {
		d := x - m.Mean
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
	}
	n := float64(m.N)
	m2 /= n
	m3 /= n
	m4 /= n
	m.Std = math.Sqrt(m2 * n / (n - 1))
	if m2 > 0 && m.N >= 3 {
		m.Skew = m3 / math.Pow(m2, 1.5)
		m.Kurt = m4/(m2*m2) - 3.0
	}
	return m
}

// cornishFisherZ adjusts the (negative) Gaussian quantile for skew and
// kurtosis. z is passed as a positive confidence quantile, e.g. 1.645.
func cornishFisherZ(z, skew, kurt float64) float64 {
	zq := -z // loss-side quantile
	return zq +
		(zq*zq-1)*skew/6 +
		(zq*zq*zq-3*zq)*kurt/24 -
		(2*zq*zq*zq-5*zq)*skew*skew/36
}

// modifiedVaR returns the mVaR in currency units for a portfolio value.
// Result is floored at zero: a distribution with no loss-side mass carries
// no value at risk.
func modifiedVaR(m returnMoments, z float64, portfolioValue decimal.Decimal) decimal.Decimal {
	if m.N == 0 || m.Std == 0 {
		return decimal.Zero
	}
	zcf := cornishFisherZ(z, m.Skew, m.Kurt)
	v := -(m.Mean + zcf*m.Std)
	if v <= 0 {
		return decimal.Zero
	}
	return portfolioValue.Mul(decimal.NewFromFloat(v))
}
