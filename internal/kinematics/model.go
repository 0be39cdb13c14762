// Package kinematics is the differential-kinematic model of the wheeled base
// carrying the 4-joint arm. The controlled quasi-velocity vector is
// [ω_base, v_base, q̇1, q̇2, q̇3, q̇4].
package kinematics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
)

// Quasi-velocity indices.
const (
	BaseRotate = iota
	BaseTranslate
	Joint1
	Joint2
	Joint3
	Joint4

	NumQuasi = config.QuasiJointCount
	NumArm   = config.ArmJointCount
)

// End-effector Jacobian rows.
const (
	RowX = iota
	RowY
	RowZ
	RowRoll
	RowPitch
	RowYaw
)

// Params is the arm geometry in metres. MountX is the forward offset of the
// arm's first joint from the base origin.
type Params struct {
	BX, BZ float64
	D1, D2 float64
	MZ, MX float64
	MountX float64
}

// ParamsFromTuning builds the geometry from the tuning config.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		BX:     cfg.GetManiBX(),
		BZ:     cfg.GetManiBZ(),
		D1:     cfg.GetManiD1(),
		D2:     cfg.GetManiD2(),
		MZ:     cfg.GetManiMZ(),
		MX:     cfg.GetManiMX(),
		MountX: cfg.GetManiMountX(),
	}
}

// DefaultParams returns the built-in arm geometry.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// BaseState is the planar base pose. Z is carried through so end-effector
// heights are expressed in the world frame.
type BaseState struct {
	X, Y, Z float64
	Yaw     float64
}

// BaseFromPose projects a 3-D pose onto the planar base state.
func BaseFromPose(p geom.Pose) BaseState {
	return BaseState{X: p.Position[0], Y: p.Position[1], Z: p.Position[2], Yaw: geom.Yaw(p.Orientation)}
}

// Pose lifts the base state back into a 3-D pose.
func (b BaseState) Pose() geom.Pose {
	return geom.Pose{Position: [3]float64{b.X, b.Y, b.Z}, Orientation: geom.FromYaw(b.Yaw)}
}

// Model evaluates forward kinematics and Jacobians. It holds no state and is
// safe for concurrent use.
type Model struct {
	p Params
}

// NewModel returns a model for the given geometry.
func NewModel(p Params) *Model {
	return &Model{p: p}
}

// Params returns the model geometry.
func (m *Model) Params() Params { return m.p }

// Reach is the horizontal distance from the first arm joint to the
// end-effector.
func (m *Model) Reach(q [NumArm]float64) float64 {
	return m.p.BX - m.p.D1*math.Sin(q[1]) + m.p.D2*math.Cos(q[2]) + m.p.MX
}

// EEPose returns the end-effector (x, y, z, yaw) in the world frame.
// z follows the arm convention of growing downwards from the base plane.
func (m *Model) EEPose(b BaseState, q [NumArm]float64) [4]float64 {
	l := m.Reach(q)
	phi := b.Yaw + q[0]
	return [4]float64{
		b.X + m.p.MountX*math.Cos(b.Yaw) + l*math.Cos(phi),
		b.Y + m.p.MountX*math.Sin(b.Yaw) + l*math.Sin(phi),
		b.Z - (m.p.BZ + m.p.D1*math.Cos(q[1]) + m.p.D2*math.Sin(q[2]) - m.p.MZ),
		geom.WrapAngle(b.Yaw + q[0] + q[3]),
	}
}

// EEJacobian returns the 6×6 end-effector Jacobian over the quasi-velocity
// vector. Rows are x, y, z, roll, pitch, yaw; roll and pitch are not
// actuated and stay zero.
func (m *Model) EEJacobian(b BaseState, q [NumArm]float64) *mat.Dense {
	l := m.Reach(q)
	phi := b.Yaw + q[0]
	sPsi, cPsi := math.Sincos(b.Yaw)
	sPhi, cPhi := math.Sincos(phi)
	d1c := m.p.D1 * math.Cos(q[1])
	d2s := m.p.D2 * math.Sin(q[2])

	J := mat.NewDense(6, NumQuasi, nil)

	J.Set(RowX, BaseRotate, -m.p.MountX*sPsi-l*sPhi)
	J.Set(RowY, BaseRotate, m.p.MountX*cPsi+l*cPhi)
	J.Set(RowYaw, BaseRotate, 1)

	J.Set(RowX, BaseTranslate, cPsi)
	J.Set(RowY, BaseTranslate, sPsi)

	J.Set(RowX, Joint1, -l*sPhi)
	J.Set(RowY, Joint1, l*cPhi)
	J.Set(RowYaw, Joint1, 1)

	J.Set(RowX, Joint2, -d1c*cPhi)
	J.Set(RowY, Joint2, -d1c*sPhi)
	J.Set(RowZ, Joint2, m.p.D1*math.Sin(q[1]))

	J.Set(RowX, Joint3, -d2s*cPhi)
	J.Set(RowY, Joint3, -d2s*sPhi)
	J.Set(RowZ, Joint3, -m.p.D2*math.Cos(q[2]))

	J.Set(RowYaw, Joint4, 1)
	return J
}

// BaseJacobian returns the 3×6 Jacobian of the base (x, y, yaw).
func (m *Model) BaseJacobian(b BaseState) *mat.Dense {
	J := mat.NewDense(3, NumQuasi, nil)
	J.Set(0, BaseTranslate, math.Cos(b.Yaw))
	J.Set(1, BaseTranslate, math.Sin(b.Yaw))
	J.Set(2, BaseRotate, 1)
	return J
}

// IntegrationMode selects how base velocities are integrated over a step.
type IntegrationMode int

const (
	// MoveThenRotate translates along the current heading, then turns.
	MoveThenRotate IntegrationMode = iota
	// RotateThenMove turns first and translates along the new heading.
	RotateThenMove
	// MoveRotateSimultaneous follows the exact arc about the
	// instantaneous centre of curvature.
	MoveRotateSimultaneous
)

func (m IntegrationMode) String() string {
	switch m {
	case MoveThenRotate:
		return "MTR"
	case RotateThenMove:
		return "RTM"
	case MoveRotateSimultaneous:
		return "MRS"
	default:
		return fmt.Sprintf("IntegrationMode(%d)", int(m))
	}
}

// ParseIntegrationMode accepts "MTR", "RTM" or "MRS".
func ParseIntegrationMode(s string) (IntegrationMode, error) {
	switch s {
	case "MTR", "":
		return MoveThenRotate, nil
	case "RTM":
		return RotateThenMove, nil
	case "MRS":
		return MoveRotateSimultaneous, nil
	}
	return 0, fmt.Errorf("unknown integration mode %q", s)
}

// arcEpsilon is the turn rate below which the arc integration degenerates
// to a straight line.
const arcEpsilon = 1e-9

// Integrate advances the base and arm by the quasi-velocity u over dt
// seconds.
func Integrate(b BaseState, q [NumArm]float64, u [NumQuasi]float64, dt float64, mode IntegrationMode) (BaseState, [NumArm]float64) {
	w, v := u[BaseRotate], u[BaseTranslate]
	switch {
	case mode == RotateThenMove:
		b.Yaw += w * dt
		b.X += v * math.Cos(b.Yaw) * dt
		b.Y += v * math.Sin(b.Yaw) * dt
	case mode == MoveRotateSimultaneous && math.Abs(w) > arcEpsilon:
		r := v / w
		iccX := b.X - r*math.Sin(b.Yaw)
		iccY := b.Y + r*math.Cos(b.Yaw)
		s, c := math.Sincos(w * dt)
		dx, dy := b.X-iccX, b.Y-iccY
		b.X = c*dx - s*dy + iccX
		b.Y = s*dx + c*dy + iccY
		b.Yaw += w * dt
	default:
		b.X += v * math.Cos(b.Yaw) * dt
		b.Y += v * math.Sin(b.Yaw) * dt
		b.Yaw += w * dt
	}
	b.Yaw = geom.WrapAngle(b.Yaw)
	for i := range q {
		q[i] += u[Joint1+i] * dt
	}
	return b, q
}
