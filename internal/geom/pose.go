package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: Orientation rotates child-frame vectors into
// the parent frame and Position is the child origin in the parent frame.
type Pose struct {
	Position    [3]float64
	Orientation quat.Number
}

// IdentityPose returns the transform with no translation or rotation.
func IdentityPose() Pose {
	return Pose{Orientation: IdentityQuat}
}

// Compose returns p ∘ o, the pose of o's child frame in p's parent frame.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Position:    Add(p.Position, Rotate(p.Orientation, o.Position)),
		Orientation: Normalize(quat.Mul(p.Orientation, o.Orientation)),
	}
}

// Inverse returns the transform from parent to child.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(Normalize(p.Orientation))
	return Pose{
		Position:    Scale(-1, Rotate(inv, p.Position)),
		Orientation: inv,
	}
}

// Apply maps a child-frame point into the parent frame.
func (p Pose) Apply(v [3]float64) [3]float64 {
	return Add(p.Position, Rotate(p.Orientation, v))
}

// Finite reports whether every component of p is finite.
func (p Pose) Finite() bool {
	return FiniteVec(p.Position) && FiniteQuat(p.Orientation)
}

// Add returns a + b.
func Add(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Sub returns a - b.
func Sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// Scale returns f·v.
func Scale(f float64, v [3]float64) [3]float64 {
	return [3]float64{f * v[0], f * v[1], f * v[2]}
}

// Cross returns a × b.
func Cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Norm returns the Euclidean length of v.
func Norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// FiniteVec reports whether every component of v is finite.
func FiniteVec(v [3]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
