package dynamics

import (
	"fmt"
	"math"

	"github.com/banachtech/banklens/data"
	"gonum.org/v1/gonum/mat"
)

// CointegrationResult holds Johansen trace statistics per hypothesized rank
// r = 0..k-1 with asymptotic critical values, and the rank inferred at the 5%
// level under the sequential testing convention.
type CointegrationResult struct {
	Tickers []string `json:"tickers"`

	TraceStats  []float64 `json:"trace_stats"`
	Crit90      []float64 `json:"crit_90"`
	Crit95      []float64 `json:"crit_95"`
	Crit99      []float64 `json:"crit_99"`
	Eigenvalues []float64 `json:"eigenvalues"`
	Rank        int       `json:"rank"`
}

// MacKinnon-Haug-Michelis asymptotic critical values for the trace statistic
// in the constant-term case, indexed by the number of common trends k-r, at
// 90/95/99% confidence. Systems beyond 10 variables are not covered.
var traceCritValues = [][3]float64{
	{2.7055, 3.8415, 6.6349},
	{13.4294, 15.4943, 19.9349},
	{27.0669, 29.7961, 35.4628},
	{44.4929, 47.8545, 54.6815},
	{65.8202, 69.8189, 77.8204},
	{91.1090, 95.7542, 104.9637},
	{120.3673, 125.6154, 135.9825},
	{153.6341, 159.5297, 171.0905},
	{190.8714, 197.3772, 210.0366},
	{232.1030, 239.2468, 253.2526},
}

// johansenStats carries the intermediate quantities shared between the trace
// test and the VECM estimator.
type johansenStats struct {
	tickers []string
	lambda  []float64  // eigenvalues, descending
	beta    *mat.Dense // k×k eigenvectors, column i paired with lambda[i]
	s01     *mat.Dense
	s11     *mat.Dense
	teff    int
}

// Johansen runs the cointegration trace test at a fixed number of lagged
// differences, with a constant deterministic term.
func Johansen(panel data.ReturnPanel, lagDiff int) (*CointegrationResult, error) {
	st, err := johansenEstimate(panel, lagDiff)
	if err != nil {
		return nil, err
	}
	k := len(st.tickers)
	if k > len(traceCritValues) {
		return nil, fmt.Errorf("no trace critical values for %v variables: %w", k, ErrNotApplicable)
	}

	res := &CointegrationResult{
		Tickers:     st.tickers,
		Eigenvalues: st.lambda,
		TraceStats:  make([]float64, k),
		Crit90:      make([]float64, k),
		Crit95:      make([]float64, k),
		Crit99:      make([]float64, k),
	}
	for r := 0; r < k; r++ {
		sum := 0.0
		for i := r; i < k; i++ {
			sum += math.Log(1.0 - st.lambda[i])
		}
		res.TraceStats[r] = -float64(st.teff) * sum
		cv := traceCritValues[k-r-1]
		res.Crit90[r], res.Crit95[r], res.Crit99[r] = cv[0], cv[1], cv[2]
	}
	res.Rank = InferRank(res.TraceStats, res.Crit95)
	return res, nil
}

// InferRank counts the hypotheses whose trace statistic exceeds the 95%
// critical value, the sequential-testing convention for the cointegrating
// rank estimate.
func InferRank(trace, crit95 []float64) int {
	rank := 0
	for i := range trace {
		if trace[i] > crit95[i] {
			rank++
		}
	}
	return rank
}

// johansenEstimate residualizes the differenced series and the lagged levels
// on the short-run terms, then solves the reduced-rank eigenproblem on the
// product-moment matrices.
func johansenEstimate(panel data.ReturnPanel, lagDiff int) (*johansenStats, error) {
	k := len(panel.Tickers)
	if k < 2 {
		return nil, fmt.Errorf("cointegration test needs at least two instruments: %w", ErrNotApplicable)
	}
	if lagDiff < 1 {
		return nil, fmt.Errorf("lagDiff must be positive, got %v", lagDiff)
	}
	t := panel.Len()
	teff := t - 1 - lagDiff
	if teff < k*lagDiff+k+2 {
		return nil, fmt.Errorf("johansen with %v lagged differences over %v observations: %w",
			lagDiff, t, data.ErrInsufficientData)
	}

	rows := panel.Matrix()
	dy := make([][]float64, t-1)
	for i := 1; i < t; i++ {
		d := make([]float64, k)
		for j := 0; j < k; j++ {
			d[j] = rows[i][j] - rows[i-1][j]
		}
		dy[i-1] = d
	}

	// Short-run regressors: constant plus lagDiff lags of the differences.
	ncols := 1 + k*lagDiff
	z := mat.NewDense(teff, ncols, nil)
	d0 := mat.NewDense(teff, k, nil)
	lv := mat.NewDense(teff, k, nil)
	for i := 0; i < teff; i++ {
		ti := lagDiff + i
		z.Set(i, 0, 1.0)
		for l := 1; l <= lagDiff; l++ {
			for j := 0; j < k; j++ {
				z.Set(i, 1+(l-1)*k+j, dy[ti-l][j])
			}
		}
		for j := 0; j < k; j++ {
			d0.Set(i, j, dy[ti][j])
			lv.Set(i, j, rows[ti][j])
		}
	}

	b0, err := lstsq(z, d0)
	if err != nil {
		return nil, err
	}
	b1, err := lstsq(z, lv)
	if err != nil {
		return nil, err
	}
	r0 := residuals(z, d0, b0)
	r1 := residuals(z, lv, b1)

	nf := float64(teff)
	var s00, s11, s01 mat.Dense
	s00.Mul(r0.T(), r0)
	s00.Scale(1.0/nf, &s00)
	s11.Mul(r1.T(), r1)
	s11.Scale(1.0/nf, &s11)
	s01.Mul(r0.T(), r1)
	s01.Scale(1.0/nf, &s01)

	// Whiten with the Cholesky factor of S11 to obtain a symmetric problem:
	// eigenvalues of S11^-1 S10 S00^-1 S01 equal those of
	// L^-1 S10 S00^-1 S01 L^-T with S11 = L L^T.
	s11sym := denseToSym(&s11)
	var chol mat.Cholesky
	if ok := chol.Factorize(s11sym); !ok {
		return nil, fmt.Errorf("levels moment matrix not positive definite: %w", ErrNotApplicable)
	}
	var ltri mat.TriDense
	chol.LTo(&ltri)

	var s00invS01 mat.Dense
	if err := s00invS01.Solve(&s00, &s01); err != nil {
		return nil, fmt.Errorf("difference moment matrix singular: %w", ErrNotApplicable)
	}
	var c mat.Dense
	c.Mul(s01.T(), &s00invS01) // S10 S00^-1 S01

	var w mat.Dense
	if err := w.Solve(&ltri, &c); err != nil {
		return nil, fmt.Errorf("whitening failed: %w", ErrNotApplicable)
	}
	var mT mat.Dense
	if err := mT.Solve(&ltri, w.T()); err != nil {
		return nil, fmt.Errorf("whitening failed: %w", ErrNotApplicable)
	}

	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, 0.5*(mT.At(i, j)+mT.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("eigen decomposition failed: %w", ErrNotApplicable)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Ascending from EigenSym; reverse to descending and map the whitened
	// eigenvectors back through L^-T.
	lambda := make([]float64, k)
	beta := mat.NewDense(k, k, nil)
	var lT mat.Dense
	lT.CloneFrom(ltri.T())
	for i := 0; i < k; i++ {
		src := k - 1 - i
		lambda[i] = clampUnit(vals[src])
		v := mat.NewVecDense(k, nil)
		for j := 0; j < k; j++ {
			v.SetVec(j, vecs.At(j, src))
		}
		var bi mat.VecDense
		if err := bi.SolveVec(&lT, v); err != nil {
			return nil, fmt.Errorf("eigenvector back-substitution failed: %w", ErrNotApplicable)
		}
		for j := 0; j < k; j++ {
			beta.Set(j, i, bi.AtVec(j))
		}
	}

	return &johansenStats{
		tickers: append([]string(nil), panel.Tickers...),
		lambda:  lambda,
		beta:    beta,
		s01:     &s01,
		s11:     &s11,
		teff:    teff,
	}, nil
}

func denseToSym(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// clampUnit keeps squared canonical correlations inside [0, 1) against
// floating-point drift so the trace statistic's logarithm stays defined.
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v >= 1 {
		return 1 - 1e-12
	}
	return v
}
