package estimator

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

func identity(n int) *mat.Dense {
	I := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		I.Set(i, i, 1)
	}
	return I
}

// symmetrize returns (A + Aᵀ)/2.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// clampPSD projects s onto the positive semidefinite cone by zeroing
// negative eigenvalues. It reports whether anything was clamped.
func clampPSD(s *mat.SymDense) bool {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, true); !ok {
		return false
	}
	vals := eig.Values(nil)
	negative := false
	for _, v := range vals {
		if v < 0 {
			negative = true
			break
		}
	}
	if !negative {
		return false
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := len(vals)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var sum float64
			for k, v := range vals {
				if v > 0 {
					sum += vecs.At(i, k) * v * vecs.At(j, k)
				}
			}
			s.SetSym(i, j, sum)
		}
	}
	return true
}

func traceSym(s mat.Matrix) float64 {
	n, _ := s.Dims()
	var tr float64
	for i := 0; i < n; i++ {
		tr += s.At(i, i)
	}
	return tr
}

// addDiag adds v to the diagonal entries [from, from+n).
func addDiag(s *mat.SymDense, from, n int, v float64) {
	for i := from; i < from+n; i++ {
		s.SetSym(i, i, s.At(i, i)+v)
	}
}

func finiteSlice(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// noiseMatrix builds a 6×6 covariance, from the observation override when
// present and otherwise from the per-block diagonal defaults.
func noiseMatrix(override []float64, first, second, scale float64) *mat.SymDense {
	R := mat.NewSymDense(6, nil)
	if override != nil {
		for i := 0; i < 6; i++ {
			for j := i; j < 6; j++ {
				R.SetSym(i, j, scale*0.5*(override[i*6+j]+override[j*6+i]))
			}
		}
		return R
	}
	for i := 0; i < 3; i++ {
		R.SetSym(i, i, scale*first)
		R.SetSym(i+3, i+3, scale*second)
	}
	return R
}
