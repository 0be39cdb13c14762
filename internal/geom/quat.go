// Package geom holds the rigid-body helpers shared by the estimator, the
// kinematic model and the simulated actuator. Orientations are unit
// quaternions from gonum's num/quat, rotating body vectors into the parent
// frame.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// smallAngle is the rotation below which the first-order expansions of the
// exponential and logarithm maps are used.
const smallAngle = 1e-9

// IdentityQuat is the unit quaternion with no rotation.
var IdentityQuat = quat.Number{Real: 1}

// QuatFromArray builds a quaternion from (w, x, y, z).
func QuatFromArray(a [4]float64) quat.Number {
	return quat.Number{Real: a[0], Imag: a[1], Jmag: a[2], Kmag: a[3]}
}

// QuatToArray returns (w, x, y, z).
func QuatToArray(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// Normalize scales q to unit length. A zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return IdentityQuat
	}
	return quat.Scale(1/n, q)
}

// FiniteQuat reports whether every component of q is finite and q is not
// the zero quaternion.
func FiniteQuat(q quat.Number) bool {
	for _, v := range QuatToArray(q) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return quat.Abs(q) > 0
}

// Rotate applies the rotation q to v.
func Rotate(q quat.Number, v [3]float64) [3]float64 {
	p := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// FromRotationVector is the exponential map from a rotation vector (axis
// times angle, radians) to a unit quaternion.
func FromRotationVector(v [3]float64) quat.Number {
	angle := Norm(v)
	if angle < smallAngle {
		return Normalize(quat.Number{Real: 1, Imag: v[0] / 2, Jmag: v[1] / 2, Kmag: v[2] / 2})
	}
	s := math.Sin(angle/2) / angle
	return quat.Number{Real: math.Cos(angle / 2), Imag: v[0] * s, Jmag: v[1] * s, Kmag: v[2] * s}
}

// RotationVector is the logarithm map of a unit quaternion, returning the
// shortest rotation (angle in [0, π]).
func RotationVector(q quat.Number) [3]float64 {
	q = Normalize(q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	im := [3]float64{q.Imag, q.Jmag, q.Kmag}
	s := Norm(im)
	if s < smallAngle {
		return Scale(2, im)
	}
	angle := 2 * math.Atan2(s, q.Real)
	return Scale(angle/s, im)
}

// RotationMatrix returns the row-major 3×3 matrix of q.
func RotationMatrix(q quat.Number) [9]float64 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// FromYaw returns the rotation of yaw radians about +z.
func FromYaw(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

// Yaw extracts the heading of q about +z.
func Yaw(q quat.Number) float64 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}

// WrapAngle maps a to (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// AngleBetween returns the rotation angle taking a onto b.
func AngleBetween(a, b quat.Number) float64 {
	return Norm(RotationVector(quat.Mul(quat.Conj(Normalize(a)), Normalize(b))))
}
