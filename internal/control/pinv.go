package control

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// svdStats describes the conditioning of one projected task Jacobian.
type svdStats struct {
	SigmaMin float64
	SigmaMax float64
	Lambda   float64 // damping actually applied
	Rank     int     // singular values above the rank tolerance
}

// pseudoInverses returns the damped pseudo-inverse of J used for the
// velocity update and the undamped, rank-truncated pseudo-inverse used for
// the null-space projector. Singular values at or below rankTol are
// dropped from both.
//
// Damping follows the singular-region rule λ² = (1 − (σmin/ε)²)·λmax² when
// σmin < ε and zero otherwise, where σmin is the smallest retained singular
// value. Directions already taken by higher-priority tasks are truncated
// rather than damped, so the rest of the task is solved exactly.
func pseudoInverses(J mat.Matrix, eps, lambdaMax, rankTol float64) (damped, truncated *mat.Dense, st svdStats, ok bool) {
	var svd mat.SVD
	if !svd.Factorize(J, mat.SVDThin) {
		return nil, nil, svdStats{}, false
	}
	s := svd.Values(nil)
	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	k := len(s)
	st.SigmaMax = s[0]
	st.SigmaMin = s[k-1]
	for _, sigma := range s {
		if sigma > rankTol {
			st.SigmaMin = sigma
			st.Rank++
		}
	}

	var lambda2 float64
	if st.Rank > 0 && st.SigmaMin < eps {
		r := st.SigmaMin / eps
		lambda2 = (1 - r*r) * lambdaMax * lambdaMax
	}
	st.Lambda = math.Sqrt(lambda2)

	n, _ := V.Dims()
	Vd := mat.NewDense(n, k, nil)
	Vt := mat.NewDense(n, k, nil)
	for i, sigma := range s {
		var d, tr float64
		if sigma > rankTol {
			d = sigma / (sigma*sigma + lambda2)
			tr = 1 / sigma
		}
		for r := 0; r < n; r++ {
			Vd.Set(r, i, V.At(r, i)*d)
			Vt.Set(r, i, V.At(r, i)*tr)
		}
	}

	damped = new(mat.Dense)
	damped.Mul(Vd, U.T())
	truncated = new(mat.Dense)
	truncated.Mul(Vt, U.T())
	return damped, truncated, st, true
}
