package dynamics

import (
	"fmt"
	"math"

	"github.com/banachtech/banklens/data"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// OLSFit summarises one distributed-lag regression.
type OLSFit struct {
	Names []string  `json:"names"`
	Coef  []float64 `json:"coef"`
	RSS   float64   `json:"rss"`
	Nobs  int       `json:"nobs"`
	NCoef int       `json:"ncoef"`
	AIC   float64   `json:"aic"`
	BIC   float64   `json:"bic"`
}

// LagStructure summarises spillover timing for one regressor. WeightedLag is
// NaN with Defined=false when the lag coefficients sum to zero.
type LagStructure struct {
	MeanLag     float64 `json:"mean_lag"`
	WeightedLag float64 `json:"weighted_lag"`
	Defined     bool    `json:"defined"`
}

// DLMComparison contrasts an unrestricted distributed-lag model (own plus
// cross lags) against a restricted one (own lags only) via a nested-model
// F-test, and benchmarks both against a VAR over the same variables.
type DLMComparison struct {
	Target     string
	Regressors []string
	Lags       int

	Unrestricted OLSFit
	Restricted   OLSFit

	FStat  float64
	PValue float64
	DFNum  int
	DFDen  int

	LagSummary map[string]LagStructure

	VARLag int
	VARAIC float64
	VARBIC float64
}

// CompareDLM regresses the target instrument's return on k lags of itself and
// of each regressor (unrestricted), and on its own k lags only (restricted).
// Both regressions share the same aligned sample.
func CompareDLM(panel data.ReturnPanel, target string, regressors []string, k int) (*DLMComparison, error) {
	if k < 1 {
		return nil, fmt.Errorf("lag count must be positive, got %v", k)
	}
	if len(regressors) == 0 {
		return nil, fmt.Errorf("at least one regressor required: %w", ErrNotApplicable)
	}
	y, ok := panel.Rets[target]
	if !ok {
		return nil, fmt.Errorf("target %v not in panel", target)
	}
	xs := make([][]float64, len(regressors))
	for i, tk := range regressors {
		col, ok := panel.Rets[tk]
		if !ok {
			return nil, fmt.Errorf("regressor %v not in panel", tk)
		}
		if tk == target {
			return nil, fmt.Errorf("regressor %v equals the target", tk)
		}
		xs[i] = col
	}

	t := panel.Len()
	n := t - k
	m := len(regressors)
	kTotal := (m + 1) * k
	if n < kTotal+2 {
		return nil, fmt.Errorf("DLM with %v lags needs more than %v observations, have %v: %w",
			k, kTotal+k+1, t, data.ErrInsufficientData)
	}

	yv := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		yv.Set(i, 0, y[k+i])
	}

	// Restricted design: constant plus own lags 1..k.
	xRes := mat.NewDense(n, 1+k, nil)
	namesRes := []string{"const"}
	for l := 1; l <= k; l++ {
		namesRes = append(namesRes, fmt.Sprintf("%v_Lag%v", target, l))
	}
	for i := 0; i < n; i++ {
		xRes.Set(i, 0, 1.0)
		for l := 1; l <= k; l++ {
			xRes.Set(i, l, y[k+i-l])
		}
	}

	// Unrestricted design: restricted columns plus each regressor's lags.
	xUn := mat.NewDense(n, 1+kTotal, nil)
	namesUn := append([]string(nil), namesRes...)
	for i := 0; i < n; i++ {
		for j := 0; j <= k; j++ {
			xUn.Set(i, j, xRes.At(i, j))
		}
	}
	for r, col := range xs {
		for l := 1; l <= k; l++ {
			namesUn = append(namesUn, fmt.Sprintf("%v_Lag%v", regressors[r], l))
			cidx := 1 + k + r*k + (l - 1)
			for i := 0; i < n; i++ {
				xUn.Set(i, cidx, col[k+i-l])
			}
		}
	}

	unres, err := fitOLS(xUn, yv, namesUn)
	if err != nil {
		return nil, fmt.Errorf("unrestricted DLM: %w", err)
	}
	res, err := fitOLS(xRes, yv, namesRes)
	if err != nil {
		return nil, fmt.Errorf("restricted DLM: %w", err)
	}

	kExtra := m * k
	fstat, pval, err := FTest(res.RSS, unres.RSS, kExtra, n, kTotal)
	if err != nil {
		return nil, err
	}

	out := &DLMComparison{
		Target:       target,
		Regressors:   append([]string(nil), regressors...),
		Lags:         k,
		Unrestricted: *unres,
		Restricted:   *res,
		FStat:        fstat,
		PValue:       pval,
		DFNum:        kExtra,
		DFDen:        n - kTotal - 1,
		LagSummary:   map[string]LagStructure{},
	}

	// Per-regressor lag timing from the unrestricted cross-lag coefficients.
	for r, tk := range regressors {
		betas := unres.Coef[1+k+r*k : 1+k+(r+1)*k]
		out.LagSummary[tk] = lagStructure(betas)
	}

	varPanel, err := panel.Select(append([]string{target}, regressors...))
	if err != nil {
		return nil, err
	}
	vfit, err := FitVAR(varPanel, k, AIC, 0)
	if err != nil {
		return nil, fmt.Errorf("VAR benchmark: %w", err)
	}
	out.VARLag = vfit.Lag
	out.VARAIC = vfit.AIC
	out.VARBIC = vfit.BIC
	return out, nil
}

// FTest computes the nested-model F statistic
//
//	F = ((RSS_r - RSS_u)/kExtra) / (RSS_u/(n - kTotal - 1))
//
// with kExtra coefficients dropped between the unrestricted model's kTotal
// non-constant coefficients and the restricted model, and its upper-tail
// p-value.
func FTest(rssRestricted, rssUnrestricted float64, kExtra, n, kTotal int) (fstat, pval float64, err error) {
	dfDen := n - kTotal - 1
	if kExtra < 1 || dfDen < 1 {
		return 0, 0, fmt.Errorf("degenerate F-test degrees of freedom (%v, %v): %w", kExtra, dfDen, ErrNotApplicable)
	}
	if rssUnrestricted <= 0 {
		return 0, 0, fmt.Errorf("unrestricted RSS must be positive: %w", ErrNotApplicable)
	}
	fstat = ((rssRestricted - rssUnrestricted) / float64(kExtra)) / (rssUnrestricted / float64(dfDen))
	dist := distuv.F{D1: float64(kExtra), D2: float64(dfDen)}
	pval = 1.0 - dist.CDF(fstat)
	return fstat, pval, nil
}

// lagStructure computes the coefficient-independent mean lag and the
// coefficient-weighted lag for one regressor's lag polynomial.
func lagStructure(betas []float64) LagStructure {
	k := len(betas)
	sumIdx, sumBeta, weighted := 0.0, 0.0, 0.0
	for i, b := range betas {
		lag := float64(i + 1)
		sumIdx += lag
		sumBeta += b
		weighted += lag * b
	}
	out := LagStructure{MeanLag: sumIdx / float64(k)}
	if sumBeta == 0 {
		out.WeightedLag = math.NaN()
		return out
	}
	out.WeightedLag = weighted / sumBeta
	out.Defined = true
	return out
}

func fitOLS(x, y *mat.Dense, names []string) (*OLSFit, error) {
	b, err := lstsq(x, y)
	if err != nil {
		return nil, err
	}
	u := residuals(x, y, b)
	n, _ := y.Dims()
	_, ncoef := x.Dims()

	rss := 0.0
	for i := 0; i < n; i++ {
		v := u.At(i, 0)
		rss += v * v
	}
	ll := gaussianLogLik(rss, n)
	coef := make([]float64, ncoef)
	for i := range coef {
		coef[i] = b.At(i, 0)
	}
	return &OLSFit{
		Names: names,
		Coef:  coef,
		RSS:   rss,
		Nobs:  n,
		NCoef: ncoef,
		AIC:   -2.0*ll + 2.0*float64(ncoef),
		BIC:   -2.0*ll + math.Log(float64(n))*float64(ncoef),
	}, nil
}
