// Package dynamics fits multivariate time-series models over a return panel:
// VAR with lag-order selection, Johansen cointegration tests, VECM and
// distributed-lag regressions with nested-model significance tests.
package dynamics

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/banachtech/banklens/data"
	"gonum.org/v1/gonum/mat"
)

// Criterion names a lag-selection information criterion.
type Criterion string

const (
	AIC  Criterion = "aic"
	BIC  Criterion = "bic"
	HQIC Criterion = "hqic"
)

// VARFit is an estimated vector autoregression. Coef[l] holds the k×k
// coefficient matrix of lag l+1, rows indexing equations and columns the
// lagged variables, both in panel ticker order.
type VARFit struct {
	Tickers []string

	Lag       int
	Criterion Criterion
	CritValue float64

	Intercept []float64
	Coef      []*mat.Dense
	Sigma     *mat.Dense

	AIC, BIC, HQIC float64

	Stable bool
	Roots  []float64

	// IRF[h].At(i, j) is the response of variable i at horizon h to a one
	// unit shock in variable j; non-orthogonalized, IRF[0] = identity.
	IRF []*mat.Dense
}

// FitVAR selects the lag order in 1..maxLag by minimizing the chosen
// information criterion (candidates compared on a common sample, then the
// winner refit on the full available sample), and reports stability and
// non-orthogonalized impulse responses over the given horizon.
func FitVAR(panel data.ReturnPanel, maxLag int, ic Criterion, horizon int) (*VARFit, error) {
	k := len(panel.Tickers)
	if k < 2 {
		return nil, fmt.Errorf("VAR needs at least two instruments: %w", ErrNotApplicable)
	}
	if maxLag < 1 {
		return nil, fmt.Errorf("maxLag must be positive, got %v", maxLag)
	}
	t := panel.Len()
	if t < maxLag+k+2 {
		return nil, fmt.Errorf("VAR(%v) over %v observations: %w", maxLag, t, data.ErrInsufficientData)
	}
	ic = Criterion(strings.ToLower(string(ic)))
	if ic != AIC && ic != BIC && ic != HQIC {
		return nil, fmt.Errorf("unknown information criterion %q", ic)
	}

	rows := panel.Matrix()

	bestLag, bestVal := 1, math.Inf(1)
	for p := 1; p <= maxLag; p++ {
		est, err := estimateVAR(rows, p, maxLag)
		if err != nil {
			continue
		}
		if v := est.criterion(ic); v < bestVal {
			bestLag, bestVal = p, v
		}
	}

	est, err := estimateVAR(rows, bestLag, bestLag)
	if err != nil {
		return nil, err
	}

	fit := &VARFit{
		Tickers:   append([]string(nil), panel.Tickers...),
		Lag:       bestLag,
		Criterion: ic,
		Intercept: est.intercept,
		Coef:      est.coef,
		Sigma:     est.sigma,
		AIC:       est.criterion(AIC),
		BIC:       est.criterion(BIC),
		HQIC:      est.criterion(HQIC),
	}
	fit.CritValue = est.criterion(ic)
	fit.Roots = companionRoots(est.coef, k)
	fit.Stable = allInsideUnitCircle(fit.Roots)
	fit.IRF = impulseResponses(est.coef, k, horizon)
	return fit, nil
}

// varEstimate is a single fixed-lag estimation, offset so that candidate fits
// for lag selection share the same sample.
type varEstimate struct {
	intercept []float64
	coef      []*mat.Dense
	sigma     *mat.Dense
	nobs      int
	neqs      int
	lag       int
}

func estimateVAR(rows [][]float64, p, offset int) (*varEstimate, error) {
	t := len(rows)
	k := len(rows[0])
	nobs := t - offset
	if nobs < k*p+2 {
		return nil, data.ErrInsufficientData
	}

	x := mat.NewDense(nobs, 1+k*p, nil)
	y := mat.NewDense(nobs, k, nil)
	for i := 0; i < nobs; i++ {
		ti := offset + i
		x.Set(i, 0, 1.0)
		for l := 1; l <= p; l++ {
			for j := 0; j < k; j++ {
				x.Set(i, 1+(l-1)*k+j, rows[ti-l][j])
			}
		}
		for j := 0; j < k; j++ {
			y.Set(i, j, rows[ti][j])
		}
	}

	b, err := lstsq(x, y)
	if err != nil {
		return nil, err
	}
	u := residuals(x, y, b)
	var sigma mat.Dense
	sigma.Mul(u.T(), u)
	sigma.Scale(1.0/float64(nobs), &sigma)

	est := &varEstimate{
		intercept: make([]float64, k),
		sigma:     &sigma,
		nobs:      nobs,
		neqs:      k,
		lag:       p,
	}
	for j := 0; j < k; j++ {
		est.intercept[j] = b.At(0, j)
	}
	for l := 0; l < p; l++ {
		a := mat.NewDense(k, k, nil)
		for eq := 0; eq < k; eq++ {
			for j := 0; j < k; j++ {
				a.Set(eq, j, b.At(1+l*k+j, eq))
			}
		}
		est.coef = append(est.coef, a)
	}
	return est, nil
}

// criterion computes the multivariate information criteria on the ML residual
// covariance, with the per-observation free-parameter penalty convention.
func (e *varEstimate) criterion(ic Criterion) float64 {
	ld := logDet(e.sigma)
	free := float64(e.lag*e.neqs*e.neqs + e.neqs)
	nobs := float64(e.nobs)
	switch ic {
	case BIC:
		return ld + math.Log(nobs)/nobs*free
	case HQIC:
		return ld + 2.0*math.Log(math.Log(nobs))/nobs*free
	default:
		return ld + 2.0/nobs*free
	}
}

// companionRoots returns the moduli of the eigenvalues of the companion-form
// transition matrix. All strictly inside the unit circle is necessary and
// sufficient for stationarity.
func companionRoots(coef []*mat.Dense, k int) []float64 {
	p := len(coef)
	dim := k * p
	comp := mat.NewDense(dim, dim, nil)
	for l, a := range coef {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				comp.Set(i, l*k+j, a.At(i, j))
			}
		}
	}
	for i := k; i < dim; i++ {
		comp.Set(i, i-k, 1.0)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(comp, mat.EigenNone); !ok {
		return nil
	}
	values := eig.Values(nil)
	roots := make([]float64, len(values))
	for i, v := range values {
		roots[i] = cmplx.Abs(v)
	}
	return roots
}

func allInsideUnitCircle(roots []float64) bool {
	if roots == nil {
		return false
	}
	for _, r := range roots {
		if r >= 1.0 {
			return false
		}
	}
	return true
}

// impulseResponses runs the MA recursion Phi_h = sum_j A_j Phi_{h-j} with no
// structural ordering applied to the shocks.
func impulseResponses(coef []*mat.Dense, k, horizon int) []*mat.Dense {
	if horizon < 0 {
		horizon = 0
	}
	phi := make([]*mat.Dense, horizon+1)
	phi[0] = identity(k)
	for h := 1; h <= horizon; h++ {
		acc := mat.NewDense(k, k, nil)
		for j := 1; j <= h && j <= len(coef); j++ {
			var term mat.Dense
			term.Mul(coef[j-1], phi[h-j])
			acc.Add(acc, &term)
		}
		phi[h] = acc
	}
	return phi
}

func identity(k int) *mat.Dense {
	m := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}
