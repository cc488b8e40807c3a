package garch

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/banachtech/banklens/data"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// simulate draws a GARCH(1,1) return path with known parameters so the fit has
// genuine volatility clustering to latch onto.
func simulate(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	norm := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: rng}
	omega, alpha, beta := 0.1, 0.1, 0.8
	s2 := omega / (1.0 - alpha - beta)
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		e := math.Sqrt(s2) * norm.Rand()
		out[t] = e / 100.0
		s2 = omega + alpha*e*e + beta*s2
	}
	return out
}

func TestFitModel(t *testing.T) {
	returns := simulate(600, 7)
	fit, err := FitModel(returns, 1, 1)
	require.NoError(t, err)

	require.Equal(t, []string{"mu", "omega", "alpha[1]", "beta[1]"}, fit.Names)
	require.Len(t, fit.Coef, 4)
	require.Len(t, fit.StdErr, 4)
	require.Len(t, fit.PValues, 4)
	require.Len(t, fit.CondVol, len(returns))

	// omega, alpha, beta are positive by construction of the transform.
	for _, c := range fit.Coef[1:] {
		require.Greater(t, c, 0.0)
	}
	for _, v := range fit.CondVol {
		require.False(t, math.IsNaN(v))
		require.Greater(t, v, 0.0)
	}
	require.False(t, math.IsNaN(fit.LogLikelihood))

	// ln(600) > 2, so BIC penalises harder than AIC.
	require.Greater(t, fit.BIC, fit.AIC)
	require.InDelta(t, 2.0*4.0-2.0*fit.LogLikelihood, fit.AIC, 1e-9)
}

func TestFitModelInsufficientData(t *testing.T) {
	_, err := FitModel(simulate(20, 1), 1, 1)
	require.ErrorIs(t, err, data.ErrInsufficientData)
}

func TestFitModelBadOrder(t *testing.T) {
	_, err := FitModel(simulate(100, 1), 0, 1)
	require.Error(t, err)
}

func TestFitPanel(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	panel := data.ReturnPanel{
		Tickers: []string{"A", "B"},
		Rets: map[string][]float64{
			"A": simulate(400, 11),
			"B": simulate(400, 13),
		},
	}
	for i := 0; i < 400; i++ {
		panel.Dates = append(panel.Dates, base.AddDate(0, 0, i))
	}

	fits, err := FitPanel(context.Background(), panel, 1, 1)
	require.NoError(t, err)
	require.Len(t, fits, 2)
	for _, tk := range panel.Tickers {
		fit, ok := fits[tk]
		require.True(t, ok)
		require.Len(t, fit.CondVol, 400)
	}
}

func TestFitPanelPropagatesFailure(t *testing.T) {
	panel := data.ReturnPanel{
		Tickers: []string{"A"},
		Dates:   []time.Time{time.Now()},
		Rets:    map[string][]float64{"A": {0.01}},
	}
	_, err := FitPanel(context.Background(), panel, 1, 1)
	require.ErrorIs(t, err, data.ErrInsufficientData)
}
