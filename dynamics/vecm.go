package dynamics

import (
	"fmt"

	"github.com/banachtech/banklens/data"
	"gonum.org/v1/gonum/mat"
)

// VECMFit holds the error-correction representation: long-run cointegrating
// vectors (beta) and short-run adjustment speeds (alpha), keyed by instrument,
// one entry per cointegrating relation.
type VECMFit struct {
	Tickers []string `json:"tickers"`
	Rank    int      `json:"rank"`
	LagDiff int      `json:"lag_diff"`

	Beta  map[string][]float64 `json:"beta"`
	Alpha map[string][]float64 `json:"alpha"`
}

// FitVECM estimates the error-correction model for a panel with the given
// cointegrating rank, as inferred by Johansen. Rank zero means no
// cointegration and the VECM is undefined.
func FitVECM(panel data.ReturnPanel, rank, lagDiff int) (*VECMFit, error) {
	k := len(panel.Tickers)
	if rank <= 0 {
		return nil, fmt.Errorf("no cointegration at chosen significance: %w", ErrNotApplicable)
	}
	if rank >= k {
		return nil, fmt.Errorf("cointegrating rank %v must be below the number of instruments %v: %w",
			rank, k, ErrNotApplicable)
	}

	st, err := johansenEstimate(panel, lagDiff)
	if err != nil {
		return nil, err
	}

	// Leading r eigenvectors form beta; normalize so the top r×r block is the
	// identity (Phillips normalization), then recover alpha by reduced-rank
	// regression: alpha = S01 b (b' S11 b)^-1.
	beta := mat.NewDense(k, rank, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < rank; j++ {
			beta.Set(i, j, st.beta.At(i, j))
		}
	}
	top := mat.NewDense(rank, rank, nil)
	for i := 0; i < rank; i++ {
		for j := 0; j < rank; j++ {
			top.Set(i, j, beta.At(i, j))
		}
	}
	var topInv mat.Dense
	if err := topInv.Inverse(top); err != nil {
		return nil, fmt.Errorf("beta normalization block singular: %w", ErrNotApplicable)
	}
	var betaN mat.Dense
	betaN.Mul(beta, &topInv)

	var bs11b mat.Dense
	var s11b mat.Dense
	s11b.Mul(st.s11, &betaN)
	bs11b.Mul(betaN.T(), &s11b)
	var inv mat.Dense
	if err := inv.Inverse(&bs11b); err != nil {
		return nil, fmt.Errorf("reduced-rank projection singular: %w", ErrNotApplicable)
	}
	var s01b mat.Dense
	s01b.Mul(st.s01, &betaN)
	var alpha mat.Dense
	alpha.Mul(&s01b, &inv)

	fit := &VECMFit{
		Tickers: st.tickers,
		Rank:    rank,
		LagDiff: lagDiff,
		Beta:    map[string][]float64{},
		Alpha:   map[string][]float64{},
	}
	for i, tk := range st.tickers {
		b := make([]float64, rank)
		a := make([]float64, rank)
		for j := 0; j < rank; j++ {
			b[j] = betaN.At(i, j)
			a[j] = alpha.At(i, j)
		}
		fit.Beta[tk] = b
		fit.Alpha[tk] = a
	}
	return fit, nil
}
