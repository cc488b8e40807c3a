// Package portfolio solves long-only allocation problems over an aligned
// return panel: minimum variance, maximum Sharpe, efficient frontier and
// random feasible portfolios with concentration diagnostics.
package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/banachtech/banklens/data"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Portfolio is a fully-invested long-only weight vector with its moments.
type Portfolio struct {
	Weights map[string]float64 `json:"weights"`
	Return  float64            `json:"return"`
	Risk    float64            `json:"risk"`
}

// FrontierPoint is one feasible point of the efficient frontier.
type FrontierPoint struct {
	Target  float64            `json:"target_return"`
	Risk    float64            `json:"risk"`
	Weights map[string]float64 `json:"weights"`
}

// Sample is one random feasible portfolio. Concentration is the
// Herfindahl-Hirschman index of the weights.
type Sample struct {
	Return        float64 `json:"return"`
	Risk          float64 `json:"risk"`
	Concentration float64 `json:"concentration"`
}

// MeanCov computes per-instrument mean returns and the sample covariance
// matrix from the aligned panel. The same matrix feeds every optimization so
// solver output and reported risk always agree.
func MeanCov(panel data.ReturnPanel) ([]float64, *mat.SymDense, error) {
	if len(panel.Tickers) == 0 || panel.Len() < 2 {
		return nil, nil, data.ErrInsufficientData
	}
	n := len(panel.Tickers)
	obs := mat.NewDense(panel.Len(), n, nil)
	mu := make([]float64, n)
	for j, tk := range panel.Tickers {
		col := panel.Rets[tk]
		obs.SetCol(j, col)
		mu[j] = stat.Mean(col, nil)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, obs, nil)
	return mu, &cov, nil
}

// MinVariance solves min wᵀΣw subject to sum(w)=1, w ≥ 0. No closed form
// exists under the long-only constraint, so the QP is solved directly.
func MinVariance(panel data.ReturnPanel) (Portfolio, error) {
	mu, cov, err := MeanCov(panel)
	if err != nil {
		return Portfolio{}, err
	}
	n := len(mu)
	w, err := solveLongOnly(cov, mu, equalWeights(n), nil, nil)
	if err != nil {
		return Portfolio{}, fmt.Errorf("minimum variance: %w", err)
	}
	return makePortfolio(panel.Tickers, w, mu, cov), nil
}

// MaxSharpe approximates the long-only maximum Sharpe portfolio by scanning a
// grid of target returns over [min μ, max μ], solving a minimum-variance QP
// with w·μ ≥ target at each level and keeping the feasible solution with the
// best Sharpe ratio. Infeasible grid points are skipped; ties go to the first
// point found in ascending target order.
func MaxSharpe(panel data.ReturnPanel, riskFree float64, nTargets int) (Portfolio, error) {
	if nTargets <= 0 {
		nTargets = 50
	}
	mu, cov, err := MeanCov(panel)
	if err != nil {
		return Portfolio{}, err
	}

	best := Portfolio{}
	bestSharpe := math.Inf(-1)
	for _, target := range linspace(min(mu), max(mu), nTargets) {
		w, err := solveLongOnly(cov, mu, startFor(mu, target), &target, nil)
		if err != nil {
			continue
		}
		ret := dot(w, mu)
		risk := math.Sqrt(quadForm(cov, w))
		if risk <= 0 {
			continue
		}
		if s := (ret - riskFree) / risk; s > bestSharpe {
			bestSharpe = s
			best = makePortfolio(panel.Tickers, w, mu, cov)
		}
	}
	if math.IsInf(bestSharpe, -1) {
		return Portfolio{}, fmt.Errorf("max sharpe: no feasible grid point: %w", ErrInfeasible)
	}
	return best, nil
}

// Frontier traces the efficient frontier with an equality return constraint at
// each grid target. Infeasible targets are dropped from the output, not padded.
func Frontier(panel data.ReturnPanel, nPoints int) ([]FrontierPoint, error) {
	if nPoints <= 0 {
		nPoints = 25
	}
	mu, cov, err := MeanCov(panel)
	if err != nil {
		return nil, err
	}

	var out []FrontierPoint
	for _, target := range linspace(min(mu), max(mu), nPoints) {
		w, err := solveLongOnly(cov, mu, startFor(mu, target), nil, &target)
		if err != nil {
			continue
		}
		out = append(out, FrontierPoint{
			Target:  target,
			Risk:    math.Sqrt(quadForm(cov, w)),
			Weights: weightMap(panel.Tickers, w),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("efficient frontier: no feasible grid point: %w", ErrInfeasible)
	}
	return out, nil
}

// RandomPortfolios samples long-only fully-invested weight vectors for
// visualising the feasible risk/return/concentration space. Descriptive only;
// no optimization consumes the samples.
func RandomPortfolios(panel data.ReturnPanel, n int, src rand.Source) ([]Sample, error) {
	if n <= 0 {
		n = 2000
	}
	mu, cov, err := MeanCov(panel)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	rng := rand.New(src)
	k := len(mu)
	out := make([]Sample, n)
	w := make([]float64, k)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := range w {
			w[j] = rng.Float64()
			sum += w[j]
		}
		for j := range w {
			w[j] /= sum
		}
		out[i] = Sample{
			Return:        dot(w, mu),
			Risk:          math.Sqrt(quadForm(cov, w)),
			Concentration: HHI(w),
		}
	}
	return out, nil
}

// HHI is the Herfindahl-Hirschman concentration index, the sum of squared
// weights.
func HHI(w []float64) float64 {
	s := 0.0
	for _, v := range w {
		s += v * v
	}
	return s
}

// solveLongOnly assembles the QP for min wᵀΣw with sum(w)=1, w ≥ 0 and an
// optional return floor (w·μ ≥ *floor) or return equality (w·μ = *equal).
func solveLongOnly(cov *mat.SymDense, mu, x0 []float64, floor, equal *float64) ([]float64, error) {
	n := len(mu)
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1.0
	}
	prob := qp{
		Q:   cov,
		aeq: [][]float64{ones},
		beq: []float64{1.0},
		x0:  x0,
	}
	if equal != nil {
		prob.aeq = append(prob.aeq, append([]float64(nil), mu...))
		prob.beq = append(prob.beq, *equal)
	}
	for i := 0; i < n; i++ {
		row := make([]float64, n)
		row[i] = 1.0
		prob.g = append(prob.g, row)
		prob.h = append(prob.h, 0.0)
	}
	if floor != nil {
		prob.g = append(prob.g, append([]float64(nil), mu...))
		prob.h = append(prob.h, *floor)
	}
	return prob.solve()
}

// startFor builds a feasible long-only starting point with w·μ = target by
// blending the vertices of the worst and best mean-return assets.
func startFor(mu []float64, target float64) []float64 {
	lo, hi := min(mu), max(mu)
	iLo, iHi := argmin(mu), argmax(mu)
	w := make([]float64, len(mu))
	if hi == lo {
		return equalWeights(len(mu))
	}
	lam := (target - lo) / (hi - lo)
	if lam < 0 {
		lam = 0
	}
	if lam > 1 {
		lam = 1
	}
	w[iHi] += lam
	w[iLo] += 1.0 - lam
	return w
}

func makePortfolio(tickers []string, w, mu []float64, cov *mat.SymDense) Portfolio {
	return Portfolio{
		Weights: weightMap(tickers, w),
		Return:  dot(w, mu),
		Risk:    math.Sqrt(quadForm(cov, w)),
	}
}

func weightMap(tickers []string, w []float64) map[string]float64 {
	out := make(map[string]float64, len(tickers))
	for i, tk := range tickers {
		out[tk] = w[i]
	}
	return out
}

func quadForm(cov *mat.SymDense, w []float64) float64 {
	n := len(w)
	s := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s += w[i] * cov.At(i, j) * w[j]
		}
	}
	return s
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	return w
}

func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

func min(xs []float64) float64 { return xs[argmin(xs)] }

func max(xs []float64) float64 { return xs[argmax(xs)] }

func argmin(xs []float64) int {
	k := 0
	for i, v := range xs {
		if v < xs[k] {
			k = i
		}
	}
	return k
}
func argmax(xs []float64) int {
	k := 0
	for i, v := range xs {
		if v > xs[k] {
			k = i
		}
	}
	return k
}
