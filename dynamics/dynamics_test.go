package dynamics

import (
	"math"
	"testing"
	"time"

	"github.com/banachtech/banklens/data"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

func makePanel(cols map[string][]float64, order []string) data.ReturnPanel {
	n := len(cols[order[0]])
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	p := data.ReturnPanel{Tickers: order, Rets: cols}
	for i := 0; i < n; i++ {
		p.Dates = append(p.Dates, base.AddDate(0, 0, i))
	}
	return p
}

// simulateVAR1 draws from a stable bivariate VAR(1) with transition matrix
// [[0.5, 0.1], [0.0, 0.3]].
func simulateVAR1(n int, seed uint64) (a, b []float64) {
	rng := rand.New(rand.NewSource(seed))
	norm := distuv.Normal{Mu: 0.0, Sigma: 0.01, Src: rng}
	a = make([]float64, n)
	b = make([]float64, n)
	x, y := 0.0, 0.0
	for i := 0; i < n; i++ {
		x, y = 0.5*x+0.1*y+norm.Rand(), 0.3*y+norm.Rand()
		a[i], b[i] = x, y
	}
	return a, b
}

func TestInferRank(t *testing.T) {
	cases := []struct {
		name   string
		trace  []float64
		crit95 []float64
		want   int
	}{
		{"one relation", []float64{30, 10}, []float64{20, 15}, 1},
		{"full rank", []float64{30, 20}, []float64{20, 15}, 2},
		{"none", []float64{10, 5}, []float64{20, 15}, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, InferRank(tc.trace, tc.crit95))
		})
	}
}

func TestFTest(t *testing.T) {
	// ((100-80)/3) / (80/(500-7-1)) = 41 exactly.
	f, p, err := FTest(100.0, 80.0, 3, 500, 7)
	require.NoError(t, err)
	require.InDelta(t, 41.0, f, 1e-9)
	require.Greater(t, p, 0.0)
	require.Less(t, p, 1e-6)
}

func TestFTestDegenerateDF(t *testing.T) {
	_, _, err := FTest(100.0, 80.0, 0, 500, 7)
	require.ErrorIs(t, err, ErrNotApplicable)
	_, _, err = FTest(100.0, 80.0, 3, 8, 7)
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestFitVAR(t *testing.T) {
	a, b := simulateVAR1(400, 5)
	panel := makePanel(map[string][]float64{"A": a, "B": b}, []string{"A", "B"})

	fit, err := FitVAR(panel, 3, AIC, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fit.Lag, 1)
	require.LessOrEqual(t, fit.Lag, 3)
	require.True(t, fit.Stable)
	require.Len(t, fit.Roots, 2*fit.Lag)
	for _, r := range fit.Roots {
		require.Less(t, r, 1.0)
	}

	require.Len(t, fit.IRF, 11)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			require.InDelta(t, want, fit.IRF[0].At(i, j), 1e-12)
		}
	}
	require.Len(t, fit.Coef, fit.Lag)
	require.Len(t, fit.Intercept, 2)
}

func TestFitVARNeedsTwoInstruments(t *testing.T) {
	a, _ := simulateVAR1(100, 1)
	panel := makePanel(map[string][]float64{"A": a}, []string{"A"})
	_, err := FitVAR(panel, 2, AIC, 5)
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestFitVARUnknownCriterion(t *testing.T) {
	a, b := simulateVAR1(100, 2)
	panel := makePanel(map[string][]float64{"A": a, "B": b}, []string{"A", "B"})
	_, err := FitVAR(panel, 2, Criterion("mdl"), 5)
	require.Error(t, err)
}

// cointegratedPair builds a random walk and a noisy copy of it, a textbook
// cointegrated system with one long-run relation.
func cointegratedPair(n int, seed uint64) (x, y []float64) {
	rng := rand.New(rand.NewSource(seed))
	norm := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: rng}
	x = make([]float64, n)
	y = make([]float64, n)
	level := 0.0
	for i := 0; i < n; i++ {
		level += norm.Rand()
		x[i] = level
		y[i] = level + 0.5*norm.Rand()
	}
	return x, y
}

func TestJohansenCointegratedPair(t *testing.T) {
	x, y := cointegratedPair(400, 21)
	panel := makePanel(map[string][]float64{"X": x, "Y": y}, []string{"X", "Y"})

	res, err := Johansen(panel, 2)
	require.NoError(t, err)
	require.Len(t, res.TraceStats, 2)
	require.Equal(t, []float64{15.4943, 3.8415}, res.Crit95)
	for _, l := range res.Eigenvalues {
		require.GreaterOrEqual(t, l, 0.0)
		require.Less(t, l, 1.0)
	}
	require.GreaterOrEqual(t, res.Rank, 1)
}

func TestJohansenNeedsTwoInstruments(t *testing.T) {
	x, _ := cointegratedPair(100, 1)
	panel := makePanel(map[string][]float64{"X": x}, []string{"X"})
	_, err := Johansen(panel, 1)
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestFitVECM(t *testing.T) {
	x, y := cointegratedPair(400, 21)
	panel := makePanel(map[string][]float64{"X": x, "Y": y}, []string{"X", "Y"})

	fit, err := FitVECM(panel, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, fit.Rank)
	require.Len(t, fit.Beta["X"], 1)
	require.Len(t, fit.Beta["Y"], 1)
	require.Len(t, fit.Alpha["X"], 1)

	// Normalization pins the first variable's long-run coefficient to one; the
	// second should be close to the true relation y ≈ x, i.e. about -1.
	require.InDelta(t, 1.0, fit.Beta["X"][0], 1e-9)
	require.InDelta(t, -1.0, fit.Beta["Y"][0], 0.2)
}

func TestFitVECMRankZero(t *testing.T) {
	x, y := cointegratedPair(100, 3)
	panel := makePanel(map[string][]float64{"X": x, "Y": y}, []string{"X", "Y"})
	_, err := FitVECM(panel, 0, 1)
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestFitVECMRankTooHigh(t *testing.T) {
	x, y := cointegratedPair(100, 3)
	panel := makePanel(map[string][]float64{"X": x, "Y": y}, []string{"X", "Y"})
	_, err := FitVECM(panel, 2, 1)
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestCompareDLM(t *testing.T) {
	// The target loads on the regressor's first lag, so the cross-lag block
	// must be jointly significant.
	rng := rand.New(rand.NewSource(9))
	norm := distuv.Normal{Mu: 0.0, Sigma: 0.01, Src: rng}
	n := 300
	xcol := make([]float64, n)
	ycol := make([]float64, n)
	for i := 0; i < n; i++ {
		xcol[i] = norm.Rand()
		if i > 0 {
			ycol[i] = 0.8*xcol[i-1] + 0.1*norm.Rand()
		}
	}
	panel := makePanel(map[string][]float64{"X": xcol, "Y": ycol}, []string{"X", "Y"})

	cmp, err := CompareDLM(panel, "Y", []string{"X"}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, cmp.DFNum)
	require.Equal(t, 5, cmp.Unrestricted.NCoef)
	require.Equal(t, 3, cmp.Restricted.NCoef)
	require.LessOrEqual(t, cmp.Unrestricted.RSS, cmp.Restricted.RSS)
	require.Less(t, cmp.PValue, 0.01)

	ls, ok := cmp.LagSummary["X"]
	require.True(t, ok)
	require.InDelta(t, 1.5, ls.MeanLag, 1e-12)
	require.True(t, ls.Defined)
	require.GreaterOrEqual(t, cmp.VARLag, 1)
}

func TestCompareDLMTargetAsRegressor(t *testing.T) {
	x, y := simulateVAR1(100, 4)
	panel := makePanel(map[string][]float64{"X": x, "Y": y}, []string{"X", "Y"})
	_, err := CompareDLM(panel, "Y", []string{"Y"}, 2)
	require.Error(t, err)
}

func TestLagStructureUndefinedWeight(t *testing.T) {
	ls := lagStructure([]float64{1.0, -1.0})
	require.InDelta(t, 1.5, ls.MeanLag, 1e-12)
	require.True(t, math.IsNaN(ls.WeightedLag))
	require.False(t, ls.Defined)
}
