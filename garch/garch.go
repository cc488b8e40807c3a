// Package garch fits constant-mean GARCH(p,q) models with normal innovations
// to single return series by maximum likelihood.
package garch

import (
	"fmt"
	"math"

	"github.com/banachtech/banklens/data"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fit holds the estimated model. Coefficient order is mu, omega, alpha[1..p],
// beta[1..q]. CondVol is the conditional volatility path in percent units,
// aligned one-to-one with the input return series.
type Fit struct {
	P, Q int

	Names   []string  `json:"names"`
	Coef    []float64 `json:"coef"`
	StdErr  []float64 `json:"std_err"`
	PValues []float64 `json:"p_values"`

	LogLikelihood float64 `json:"log_likelihood"`
	AIC           float64 `json:"aic"`
	BIC           float64 `json:"bic"`

	CondVol []float64 `json:"cond_vol"`
}

// model carries everything the likelihood needs. Returns are rescaled by x100
// before fitting for numerical conditioning, matching the percent-unit
// convention of the reference implementation.
type model struct {
	y        []float64
	p, q     int
	backcast float64
}

// FitModel estimates a GARCH(p,q) model on a return series. The numerical
// estimation is delegated to gonum's Nelder-Mead optimizer over
// log-transformed variance parameters, the same calibration pattern used for
// the pricing models.
func FitModel(returns []float64, p, q int) (*Fit, error) {
	if p < 1 || q < 0 {
		return nil, fmt.Errorf("invalid GARCH order (%v,%v)", p, q)
	}
	minObs := 10 * (p + q + 1)
	if len(returns) < minObs {
		return nil, fmt.Errorf("garch(%v,%v) needs at least %v observations, have %v: %w",
			p, q, minObs, len(returns), data.ErrInsufficientData)
	}

	y := make([]float64, len(returns))
	for i, r := range returns {
		y[i] = r * 100.0
	}
	m := &model{y: y, p: p, q: q, backcast: stat.Variance(y, nil)}

	problem := optimize.Problem{
		Func: func(theta []float64) float64 {
			return m.negLogLik(m.natural(theta))
		},
	}
	res, err := optimize.Minimize(problem, m.start(), nil, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("garch optimization: %w", err)
	}

	coef := m.natural(res.X)
	ll := -m.negLogLik(coef)
	k := float64(len(coef))
	n := float64(len(y))

	fit := &Fit{
		P:             p,
		Q:             q,
		Names:         m.names(),
		Coef:          coef,
		LogLikelihood: ll,
		AIC:           2.0*k - 2.0*ll,
		BIC:           math.Log(n)*k - 2.0*ll,
	}

	sigma2 := m.variancePath(coef)
	fit.CondVol = make([]float64, len(sigma2))
	for i, v := range sigma2 {
		fit.CondVol[i] = math.Sqrt(v)
	}

	fit.StdErr, fit.PValues = m.inference(coef)
	return fit, nil
}

// start returns the transformed initial parameter vector: sample mean, a small
// omega share of the sample variance and the usual 0.05/0.90 ARCH/GARCH split.
func (m *model) start() []float64 {
	v := m.backcast
	theta := []float64{stat.Mean(m.y, nil), math.Log(0.05 * v)}
	for i := 0; i < m.p; i++ {
		theta = append(theta, math.Log(0.05/float64(m.p)))
	}
	for j := 0; j < m.q; j++ {
		theta = append(theta, math.Log(0.90/float64(m.q)))
	}
	return theta
}

// natural maps the optimizer's unconstrained vector back to model parameters.
// The exp transform keeps omega, alpha and beta positive.
func (m *model) natural(theta []float64) []float64 {
	out := make([]float64, len(theta))
	out[0] = theta[0]
	for i := 1; i < len(theta); i++ {
		out[i] = math.Exp(theta[i])
	}
	return out
}

func (m *model) names() []string {
	names := []string{"mu", "omega"}
	for i := 1; i <= m.p; i++ {
		names = append(names, fmt.Sprintf("alpha[%v]", i))
	}
	for j := 1; j <= m.q; j++ {
		names = append(names, fmt.Sprintf("beta[%v]", j))
	}
	return names
}

// variancePath runs the GARCH recursion over the full sample. Pre-sample
// squared residuals and variances are set to the backcast value, so the path
// length equals the input length with no trimming.
func (m *model) variancePath(coef []float64) []float64 {
	n := len(m.y)
	mu := coef[0]
	omega := coef[1]
	alpha := coef[2 : 2+m.p]
	beta := coef[2+m.p:]

	e2 := make([]float64, n)
	for i, v := range m.y {
		d := v - mu
		e2[i] = d * d
	}
	sigma2 := make([]float64, n)
	for t := 0; t < n; t++ {
		s := omega
		for i, a := range alpha {
			if lag := t - i - 1; lag >= 0 {
				s += a * e2[lag]
			} else {
				s += a * m.backcast
			}
		}
		for j, b := range beta {
			if lag := t - j - 1; lag >= 0 {
				s += b * sigma2[lag]
			} else {
				s += b * m.backcast
			}
		}
		sigma2[t] = s
	}
	return sigma2
}

func (m *model) negLogLik(coef []float64) float64 {
	mu := coef[0]
	sigma2 := m.variancePath(coef)
	nll := 0.0
	for t, v := range m.y {
		s2 := sigma2[t]
		if s2 <= 0 || math.IsNaN(s2) || math.IsInf(s2, 0) {
			return math.Inf(1)
		}
		d := v - mu
		nll += 0.5 * (math.Log(2.0*math.Pi) + math.Log(s2) + d*d/s2)
	}
	return nll
}

// inference derives standard errors and two-sided normal p-values from a
// numerical Hessian of the negative log-likelihood in natural parameters.
// A singular Hessian reports NaN rather than failing the fit.
func (m *model) inference(coef []float64) (stderr, pvals []float64) {
	k := len(coef)
	stderr = make([]float64, k)
	pvals = make([]float64, k)
	for i := range stderr {
		stderr[i] = math.NaN()
		pvals[i] = math.NaN()
	}

	hess := mat.NewDense(k, k, nil)
	h := make([]float64, k)
	for i, c := range coef {
		h[i] = 1e-4 * (math.Abs(c) + 1e-4)
	}
	f := m.negLogLik
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			pp := perturb(coef, i, h[i], j, h[j])
			pm := perturb(coef, i, h[i], j, -h[j])
			mp := perturb(coef, i, -h[i], j, h[j])
			mm := perturb(coef, i, -h[i], j, -h[j])
			v := (f(pp) - f(pm) - f(mp) + f(mm)) / (4.0 * h[i] * h[j])
			hess.Set(i, j, v)
			hess.Set(j, i, v)
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(hess); err != nil {
		return stderr, pvals
	}
	norm := distuv.Normal{Mu: 0.0, Sigma: 1.0}
	for i := 0; i < k; i++ {
		v := inv.At(i, i)
		if v <= 0 || math.IsNaN(v) {
			continue
		}
		stderr[i] = math.Sqrt(v)
		z := math.Abs(coef[i] / stderr[i])
		pvals[i] = 2.0 * (1.0 - norm.CDF(z))
	}
	return stderr, pvals
}

func perturb(x []float64, i int, di float64, j int, dj float64) []float64 {
	out := append([]float64(nil), x...)
	out[i] += di
	out[j] += dj
	return out
}
