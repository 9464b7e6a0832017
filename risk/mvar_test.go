package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestCornishFisherZ_GaussianCase tests that zero skew/kurtosis reduces to
// the plain Gaussian quantile
func TestCornishFisherZ_GaussianCase(t *testing.T) {
	assert.InDelta(t, -1.645, cornishFisherZ(1.645, 0, 0), 1e-9)
	assert.InDelta(t, -2.326, cornishFisherZ(2.326, 0, 0), 1e-9)
}

// TestCornishFisherZ_NegativeSkewWorsens tests that left-skewed returns
// push the loss quantile further out
func TestCornishFisherZ_NegativeSkewWorsens(t *testing.T) {
	gaussian := cornishFisherZ(1.645, 0, 0)
	skewed := cornishFisherZ(1.645, -1.0, 0)
	assert.Less(t, skewed, gaussian)
}

// TestModifiedVaR_Basics tests scaling and the zero floor
func TestModifiedVaR_Basics(t *testing.T) {
	value := decimal.NewFromInt(10_000)

	// Symmetric sample around zero with spread: positive VaR.
	sample := []float64{-0.10, -0.05, 0.0, 0.05, 0.10, -0.08, 0.08, 0.02, -0.02, 0.0}
	v := modifiedVaR(moments(sample), 1.645, value)
	assert.True(t, v.GreaterThan(decimal.Zero))

	// Uniformly strong gains: no loss-side mass, floored at zero.
	gains := []float64{0.50, 0.52, 0.49, 0.51, 0.50, 0.51}
	assert.True(t, modifiedVaR(moments(gains), 1.645, value).IsZero())

	// Empty sample: zero.
	assert.True(t, modifiedVaR(moments(nil), 1.645, value).IsZero())
}

// TestMoments tests the sample moment helper
func TestMoments(t *testing.T) {
	m := moments([]float64{1, 1, 1, 1})
	assert.Equal(t, 1.0, m.Mean)
	assert.Equal(t, 0.0, m.Std)

	m = moments([]float64{-0.2, -0.1, 0, 0.1, 0.2})
	assert.InDelta(t, 0.0, m.Mean, 1e-9)
	assert.Greater(t, m.Std, 0.0)
	assert.InDelta(t, 0.0, m.Skew, 1e-9)
}
