package control

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/kinematics"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

// resolved is a task evaluated at the current state.
type resolved struct {
	task    tasks.Task
	J       *mat.Dense // rows × NumQuasi
	desired *mat.VecDense
	err     []float64 // task-space error before gain
}

// state is what task resolution is evaluated against.
type state struct {
	base kinematics.BaseState
	q    [kinematics.NumArm]float64
}

// resolve turns a task descriptor into (J, ẋ_d, e). A nil J means the task
// contributes nothing this cycle.
func (c *Controller) resolve(t tasks.Task, s state) (resolved, error) {
	r := resolved{task: t}

	var rows []int
	var J *mat.Dense
	var e []float64

	switch t.Kind {
	case tasks.KindEEPosition, tasks.KindEEOrientation, tasks.KindEEConfiguration:
		ee := c.model.EEPose(s.base, s.q)
		full := c.model.EEJacobian(s.base, s.q)
		switch t.Kind {
		case tasks.KindEEPosition:
			rows = []int{kinematics.RowX, kinematics.RowY, kinematics.RowZ}
			e = []float64{t.Target[0] - ee[0], t.Target[1] - ee[1], t.Target[2] - ee[2]}
		case tasks.KindEEOrientation:
			rows = []int{kinematics.RowYaw}
			e = []float64{geom.WrapAngle(t.Target[0] - ee[3])}
		default:
			rows = []int{kinematics.RowX, kinematics.RowY, kinematics.RowZ, kinematics.RowYaw}
			e = []float64{t.Target[0] - ee[0], t.Target[1] - ee[1], t.Target[2] - ee[2], geom.WrapAngle(t.Target[3] - ee[3])}
		}
		J = selectRows(full, rows)

	case tasks.KindBaseHeading:
		J = selectRows(c.model.BaseJacobian(s.base), []int{2})
		e = []float64{geom.WrapAngle(t.Target[0] - s.base.Yaw)}

	case tasks.KindBasePosition:
		J = selectRows(c.model.BaseJacobian(s.base), []int{0, 1})
		e = []float64{t.Target[0] - s.base.X, t.Target[1] - s.base.Y}

	case tasks.KindJointPosition:
		j := int(t.Target[0]) - 1
		J = mat.NewDense(1, kinematics.NumQuasi, nil)
		J.Set(0, kinematics.Joint1+j, 1)
		e = []float64{t.Target[1] - s.q[j]}

	case tasks.KindJointLimit:
		var idx []int
		for i, a := range t.Activation {
			if a != 0 {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			return r, nil
		}
		J = mat.NewDense(len(idx), kinematics.NumQuasi, nil)
		d := mat.NewVecDense(len(idx), nil)
		e = make([]float64, len(idx))
		for row, i := range idx {
			J.Set(row, kinematics.Joint1+i, 1)
			e[row] = float64(t.Activation[i])
			d.SetVec(row, float64(t.Activation[i])*t.Gain)
		}
		r.J, r.desired, r.err = J, d, e
		return r, nil

	case tasks.KindObstacle:
		ee := c.model.EEPose(s.base, s.q)
		dx, dy := ee[0]-t.Target[0], ee[1]-t.Target[1]
		dist := math.Hypot(dx, dy)
		if dist == 0 {
			return r, nil
		}
		J = selectRows(c.model.EEJacobian(s.base, s.q), []int{kinematics.RowX, kinematics.RowY})
		e = []float64{dx / dist, dy / dist}

	case tasks.KindRaw:
		J = mat.NewDense(len(t.Jacobian), kinematics.NumQuasi, nil)
		for i, row := range t.Jacobian {
			if len(row) != kinematics.NumQuasi {
				return r, fmt.Errorf("%w: %s: jacobian row %d has %d columns, want %d",
					ErrDimensionMismatch, t.Label(), i, len(row), kinematics.NumQuasi)
			}
			J.SetRow(i, row)
		}
		d := mat.NewVecDense(len(t.Desired), append([]float64(nil), t.Desired...))
		r.J, r.desired, r.err = J, d, append([]float64(nil), t.Desired...)
		return r, nil

	default:
		return r, fmt.Errorf("%w: %s: unknown kind %q", ErrMalformedTask, t.Label(), t.Kind)
	}

	d := mat.NewVecDense(len(e), nil)
	for i, v := range e {
		ff := 0.0
		if len(t.FeedForward) == len(e) {
			ff = t.FeedForward[i]
		}
		d.SetVec(i, ff+t.Gain*v)
	}
	r.J, r.desired, r.err = J, d, e
	return r, nil
}

func selectRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

// isZero reports whether every entry of m is zero.
func isZero(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}
