package dynamics

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrNotApplicable reports a model that is undefined for the given inputs,
// e.g. a VECM requested with cointegrating rank zero.
var ErrNotApplicable = errors.New("model not applicable")

// lstsq solves the multivariate least-squares problem X·B = Y through a QR
// factorization. X is n×k, Y is n×m, B comes back k×m.
func lstsq(x, y *mat.Dense) (*mat.Dense, error) {
	var qr mat.QR
	qr.Factorize(x)
	var b mat.Dense
	if err := qr.SolveTo(&b, false, y); err != nil {
		return nil, err
	}
	return &b, nil
}

// residuals returns Y - X·B for a fitted coefficient matrix.
func residuals(x, y, b *mat.Dense) *mat.Dense {
	var fitted mat.Dense
	fitted.Mul(x, b)
	var u mat.Dense
	u.Sub(y, &fitted)
	return &u
}

// gaussianLogLik is the concentrated log-likelihood of an OLS regression.
func gaussianLogLik(rss float64, n int) float64 {
	nf := float64(n)
	return -0.5 * nf * (math.Log(2.0*math.Pi) + math.Log(rss/nf) + 1.0)
}

// logDet computes ln|A| via an LU factorization. A singular or non-positive
// determinant maps to +Inf so the candidate loses any criterion comparison.
func logDet(a *mat.Dense) float64 {
	var lu mat.LU
	lu.Factorize(a)
	det, sign := lu.LogDet()
	if sign <= 0 {
		return math.Inf(1)
	}
	return det
}
