package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/mobile-manipulator/internal/geom"
)

// nominal is the full (non-error) filter state.
type nominal struct {
	p [3]float64
	q quat.Number
	v [3]float64
	w [3]float64
}

// retract applies an error-state increment to the nominal state.
func (n nominal) retract(dx []float64) nominal {
	var dth, dp, dv, dw [3]float64
	copy(dp[:], dx[idxPos:idxPos+3])
	copy(dth[:], dx[idxAtt:idxAtt+3])
	copy(dv[:], dx[idxVel:idxVel+3])
	copy(dw[:], dx[idxRate:idxRate+3])
	return nominal{
		p: geom.Add(n.p, dp),
		q: geom.Normalize(quat.Mul(n.q, geom.FromRotationVector(dth))),
		v: geom.Add(n.v, dv),
		w: geom.Add(n.w, dw),
	}
}

func (n nominal) pose() geom.Pose {
	return geom.Pose{Position: n.p, Orientation: n.q}
}

// fdStep is the central-difference step on the error state.
const fdStep = 1e-6

// symmetryTolerance bounds |Rij - Rji| for an observation covariance.
const symmetryTolerance = 1e-9

// validateObservation rejects observations that cannot be linearised.
func validateObservation(obs Observation) error {
	if obs.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	switch obs.Kind {
	case ObservationOdometry:
		if !geom.FiniteVec(obs.LinearVelocity) || !geom.FiniteVec(obs.AngularVelocity) {
			return fmt.Errorf("non-finite odometry twist")
		}
	case ObservationMarker:
		if !geom.FiniteVec(obs.RelativePosition) {
			return fmt.Errorf("non-finite marker position")
		}
		if !geom.FiniteQuat(obs.RelativeOrientation) {
			return fmt.Errorf("marker orientation is not a finite non-zero quaternion")
		}
		if math.IsNaN(obs.Confidence) || obs.Confidence < 0 || obs.Confidence > 1 {
			return fmt.Errorf("marker confidence %v outside [0, 1]", obs.Confidence)
		}
	default:
		return fmt.Errorf("unknown observation kind %v", obs.Kind)
	}

	if obs.Covariance != nil {
		if len(obs.Covariance) != 36 {
			return fmt.Errorf("covariance must have 36 entries, got %d", len(obs.Covariance))
		}
		if !finiteSlice(obs.Covariance) {
			return fmt.Errorf("non-finite covariance")
		}
		for i := 0; i < 6; i++ {
			if !(obs.Covariance[i*6+i] > 0) {
				return fmt.Errorf("covariance diagonal %d must be positive", i)
			}
			for j := i + 1; j < 6; j++ {
				a, b := obs.Covariance[i*6+j], obs.Covariance[j*6+i]
				if math.Abs(a-b) > symmetryTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
					return fmt.Errorf("covariance is not symmetric at (%d,%d)", i, j)
				}
			}
		}
	}
	return nil
}

// innovation is a linearised measurement at the current nominal state.
type innovation struct {
	y    *mat.VecDense
	H    *mat.Dense
	R    *mat.SymDense
	gate float64
}

// odometryInnovation: the body twist is observed directly, H = [0 0 I 0; 0 0 0 I].
func (e *Estimator) odometryInnovation(obs Observation) innovation {
	y := mat.NewVecDense(6, nil)
	for i := 0; i < 3; i++ {
		y.SetVec(i, obs.LinearVelocity[i]-e.x.v[i])
		y.SetVec(i+3, obs.AngularVelocity[i]-e.x.w[i])
	}
	H := mat.NewDense(6, StateDim, nil)
	for i := 0; i < 3; i++ {
		H.Set(i, idxVel+i, 1)
		H.Set(i+3, idxRate+i, 1)
	}
	return innovation{
		y:    y,
		H:    H,
		R:    noiseMatrix(obs.Covariance, e.cfg.OdomLinearNoise, e.cfg.OdomAngularNoise, 1),
		gate: e.cfg.OdomGateThreshold,
	}
}

// predictMarker returns the expected pose of the marker in the camera frame.
func (e *Estimator) predictMarker(n nominal, marker geom.Pose) geom.Pose {
	camera := n.pose().Compose(e.cfg.CameraExtrinsic)
	return camera.Inverse().Compose(marker)
}

// markerInnovation linearises the camera-frame marker pose. The orientation
// residual is the rotation vector of ẑ⁻¹ ⊗ z; H is obtained by central
// differences on the error state.
func (e *Estimator) markerInnovation(obs Observation) innovation {
	marker := e.cfg.Markers[obs.MarkerID]
	h0 := e.predictMarker(e.x, marker)
	invQ := quat.Conj(h0.Orientation)

	y := mat.NewVecDense(6, nil)
	dp := geom.Sub(obs.RelativePosition, h0.Position)
	dq := geom.RotationVector(quat.Mul(invQ, geom.Normalize(obs.RelativeOrientation)))
	for i := 0; i < 3; i++ {
		y.SetVec(i, dp[i])
		y.SetVec(i+3, dq[i])
	}

	h := func(dst, dx []float64) {
		m := e.predictMarker(e.x.retract(dx), marker)
		rv := geom.RotationVector(quat.Mul(invQ, m.Orientation))
		copy(dst[:3], m.Position[:])
		copy(dst[3:], rv[:])
	}
	H := mat.NewDense(6, StateDim, nil)
	fd.Jacobian(H, h, make([]float64, StateDim), &fd.JacobianSettings{
		Formula: fd.Central,
		Step:    fdStep,
	})

	conf := obs.Confidence
	if conf == 0 {
		conf = 1
	}
	return innovation{
		y:    y,
		H:    H,
		R:    noiseMatrix(obs.Covariance, e.cfg.MarkerPositionNoise, e.cfg.MarkerOrientationNoise, 1/conf),
		gate: e.cfg.MarkerGateThreshold,
	}
}

// skew returns element (r, c) of the cross-product matrix [v]ₓ.
func skew(v [3]float64, r, c int) float64 {
	switch {
	case r == 0 && c == 1:
		return -v[2]
	case r == 0 && c == 2:
		return v[1]
	case r == 1 && c == 0:
		return v[2]
	case r == 1 && c == 2:
		return -v[0]
	case r == 2 && c == 0:
		return -v[1]
	case r == 2 && c == 1:
		return v[0]
	}
	return 0
}

// quatMulExp returns q ⊗ exp(rv).
func quatMulExp(q quat.Number, rv [3]float64) quat.Number {
	return quat.Mul(q, geom.FromRotationVector(rv))
}
