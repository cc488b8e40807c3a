package portfolio

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInfeasible reports that a quadratic program has no feasible solution or
// that the solver failed to converge. In grid scans the offending point is
// dropped; it only escalates when no point succeeds.
var ErrInfeasible = errors.New("optimization infeasible")

const (
	qpTol     = 1e-10
	qpMaxIter = 500
)

// qp holds the convex program min wᵀQw subject to aeq·w = beq (rows) and
// g·w ≥ h (rows). The long-only bound w ≥ 0 is expressed through g.
type qp struct {
	Q       *mat.SymDense
	aeq     [][]float64
	beq     []float64
	g       [][]float64
	h       []float64
	x0      []float64
	maxIter int
}

// solve runs a primal active-set method: repeatedly solve the equality
// constrained subproblem given by the working set via its KKT system, step to
// the nearest blocking inequality, and drop active constraints with negative
// multipliers until the KKT conditions hold.
func (p *qp) solve() ([]float64, error) {
	w := append([]float64(nil), p.x0...)
	if !p.feasible(w) {
		return nil, ErrInfeasible
	}
	maxIter := p.maxIter
	if maxIter == 0 {
		maxIter = qpMaxIter
	}

	// Working set over inequality rows; start with the bounds active at x0.
	active := make([]bool, len(p.g))
	for i, gi := range p.g {
		if math.Abs(dot(gi, w)-p.h[i]) < qpTol {
			active[i] = true
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		d, lambda, err := p.kktStep(w, active)
		if err != nil {
			return nil, err
		}

		if norm(d) < 1e-9 {
			// Stationary on the working set; check inequality multipliers.
			worst, worstIdx := 0.0, -1
			j := 0
			for i := range p.g {
				if !active[i] {
					continue
				}
				if lambda[j] < worst {
					worst, worstIdx = lambda[j], i
				}
				j++
			}
			if worstIdx < 0 || worst > -qpTol {
				return w, nil
			}
			active[worstIdx] = false
			continue
		}

		// Step to the nearest blocking constraint.
		alpha, blocker := 1.0, -1
		for i, gi := range p.g {
			if active[i] {
				continue
			}
			gd := dot(gi, d)
			if gd >= -qpTol {
				continue
			}
			a := (p.h[i] - dot(gi, w)) / gd
			if a < alpha {
				alpha, blocker = a, i
			}
		}
		for i := range w {
			w[i] += alpha * d[i]
		}
		if blocker >= 0 {
			active[blocker] = true
		}
	}
	return nil, ErrInfeasible
}

// kktStep solves the equality-constrained subproblem at w for the direction d
// and the active-inequality multipliers.
func (p *qp) kktStep(w []float64, active []bool) ([]float64, []float64, error) {
	n := len(w)
	var rows [][]float64
	rows = append(rows, p.aeq...)
	nact := 0
	for i, gi := range p.g {
		if active[i] {
			rows = append(rows, gi)
			nact++
		}
	}

	// A vertex working set can carry more rows than dimensions, which makes the
	// KKT matrix singular even though the point itself is feasible. Drop rows
	// that are linear combinations of earlier ones; a dropped inequality keeps
	// a zero multiplier and is re-examined once the working set changes.
	kept := independentRows(rows)
	var sys [][]float64
	for r, row := range rows {
		if kept[r] {
			sys = append(sys, row)
		}
	}
	mc := len(sys)
	dim := n + mc

	kkt := mat.NewDense(dim, dim, nil)
	rhs := mat.NewVecDense(dim, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			kkt.Set(i, j, 2.0*p.Q.At(i, j))
		}
	}
	for r, row := range sys {
		for j := 0; j < n; j++ {
			kkt.Set(n+r, j, row[j])
			kkt.Set(j, n+r, row[j])
		}
	}
	// Gradient of wᵀQw at w.
	for i := 0; i < n; i++ {
		gi := 0.0
		for j := 0; j < n; j++ {
			gi += 2.0 * p.Q.At(i, j) * w[j]
		}
		rhs.SetVec(i, -gi)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		// Singular KKT system: retry with a small ridge on Q.
		for i := 0; i < n; i++ {
			kkt.Set(i, i, kkt.At(i, i)+1e-10)
		}
		if err := sol.SolveVec(kkt, rhs); err != nil {
			return nil, nil, ErrInfeasible
		}
	}
	d := make([]float64, n)
	for i := range d {
		d[i] = sol.AtVec(i)
	}
	// The KKT block solves H d + Cᵀν = -∇f; the Lagrange multipliers of the
	// g·w ≥ h rows are the negated ν entries, aligned back to the working set
	// with zeros for the dropped dependent rows.
	lambda := make([]float64, nact)
	pos := 0
	for r := range rows {
		if !kept[r] {
			continue
		}
		if r >= len(p.aeq) {
			lambda[r-len(p.aeq)] = -sol.AtVec(n + pos)
		}
		pos++
	}
	return d, lambda, nil
}

// independentRows marks a maximal linearly independent prefix-greedy subset of
// the rows via modified Gram-Schmidt with a relative tolerance.
func independentRows(rows [][]float64) []bool {
	kept := make([]bool, len(rows))
	var basis [][]float64
	for r, row := range rows {
		v := append([]float64(nil), row...)
		for _, b := range basis {
			c := dot(v, b)
			for i := range v {
				v[i] -= c * b[i]
			}
		}
		on := norm(row)
		rn := norm(v)
		if on == 0 || rn <= 1e-8*on {
			continue
		}
		for i := range v {
			v[i] /= rn
		}
		basis = append(basis, v)
		kept[r] = true
	}
	return kept
}

func (p *qp) feasible(w []float64) bool {
	for i, row := range p.aeq {
		if math.Abs(dot(row, w)-p.beq[i]) > 1e-7 {
			return false
		}
	}
	for i, gi := range p.g {
		if dot(gi, w) < p.h[i]-1e-7 {
			return false
		}
	}
	return true
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(a []float64) float64 {
	s := 0.0
	for _, v := range a {
		s += v * v
	}
	return math.Sqrt(s)
}
