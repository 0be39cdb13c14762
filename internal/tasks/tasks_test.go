package tasks

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mobile-manipulator/internal/config"
)

// --------------------------------------------------------------------------
// Task validation
// --------------------------------------------------------------------------

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"ee position", Task{Kind: KindEEPosition, Target: []float64{0.3, 0, -0.1}, Gain: 1}, false},
		{"ee position with feed forward", Task{Kind: KindEEPosition, Target: []float64{0, 0, 0}, FeedForward: []float64{0, 0, 0.1}}, false},
		{"unknown kind", Task{Kind: "teleport"}, true},
		{"short target", Task{Kind: KindEEConfiguration, Target: []float64{1, 2, 3}}, true},
		{"negative gain", Task{Kind: KindBaseHeading, Target: []float64{0}, Gain: -1}, true},
		{"nan target", Task{Kind: KindBaseHeading, Target: []float64{math.NaN()}}, true},
		{"feed forward length", Task{Kind: KindBasePosition, Target: []float64{1, 1}, FeedForward: []float64{1}}, true},
		{"joint index", Task{Kind: KindJointPosition, Target: []float64{2, 0.4}}, false},
		{"joint index zero", Task{Kind: KindJointPosition, Target: []float64{0, 0.4}}, true},
		{"joint index fractional", Task{Kind: KindJointPosition, Target: []float64{1.5, 0.4}}, true},
		{"joint limit", Task{Kind: KindJointLimit, Activation: []int{0, -1, 1, 0}, Gain: 0.5}, false},
		{"joint limit bad activation", Task{Kind: KindJointLimit, Activation: []int{0, 2, 0, 0}}, true},
		{"joint limit short", Task{Kind: KindJointLimit, Activation: []int{0}}, true},
		{"raw", Task{Kind: KindRaw, Jacobian: [][]float64{{0, 1, 0, 0, 0, 0}}, Desired: []float64{0.2}}, false},
		{"raw row mismatch", Task{Kind: KindRaw, Jacobian: [][]float64{{0, 1, 0, 0, 0, 0}}, Desired: []float64{0.2, 0}}, true},
		{"raw inf", Task{Kind: KindRaw, Jacobian: [][]float64{{math.Inf(1), 0, 0, 0, 0, 0}}, Desired: []float64{0}}, true},
	}
	for _, tt := range tests {
		err := tt.task.Validate()
		if tt.wantErr {
			require.Error(t, err, tt.name)
			assert.True(t, errors.Is(err, ErrMalformedTask), tt.name)
		} else {
			assert.NoError(t, err, tt.name)
		}
	}
}

func TestValidateRanks(t *testing.T) {
	t.Parallel()

	set := []Task{
		{Rank: 1, Kind: KindBaseHeading, Name: "heading", Active: true},
		{Rank: 2, Kind: KindEEPosition, Name: "reach", Active: true},
		{Rank: 1, Kind: KindObstacle, Name: "obstacle", Active: false},
	}
	require.NoError(t, ValidateRanks(set))

	set[2].Active = true
	err := ValidateRanks(set)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePriority))
	assert.Contains(t, err.Error(), "heading")
	assert.Contains(t, err.Error(), "obstacle")
}

func TestActiveByRank(t *testing.T) {
	t.Parallel()

	set := []Task{
		{Rank: 3, Name: "c", Active: true},
		{Rank: 1, Name: "a", Active: true},
		{Rank: 2, Name: "off", Active: false},
		{Rank: 2, Name: "b", Active: true},
	}
	got := ActiveByRank(set)
	names := make([]string, len(got))
	for i, tk := range got {
		names[i] = tk.Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestTaskLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "reach", Task{Name: "reach"}.Label())
	assert.Equal(t, "base_heading#4", Task{Kind: KindBaseHeading, Rank: 4}.Label())
}

// --------------------------------------------------------------------------
// Joint configuration
// --------------------------------------------------------------------------

func TestJointConfigurationFromTuning(t *testing.T) {
	t.Parallel()

	jc := JointConfigurationFromTuning(config.EmptyTuningConfig())
	assert.True(t, math.IsInf(jc.MinPosition[0], -1))
	assert.True(t, math.IsInf(jc.MaxPosition[1], 1))
	assert.Equal(t, 0.3, jc.MaxVelocity[1])
	assert.Equal(t, 0.05, jc.MaxPosition[3])
	assert.Equal(t, -1.571, jc.MinPosition[5])
	require.NoError(t, jc.Validate())

	jc = jc.WithArm([4]float64{0.1, -0.2, -0.3, 0.4})
	assert.Equal(t, [4]float64{0.1, -0.2, -0.3, 0.4}, jc.Arm())

	jc.Position[2] = math.NaN()
	assert.Error(t, jc.Validate())
}

// --------------------------------------------------------------------------
// Monitors
// --------------------------------------------------------------------------

func TestJointLimitMonitorHysteresis(t *testing.T) {
	t.Parallel()

	m := JointLimitMonitorFromTuning(config.EmptyTuningConfig())

	// joint1 range [-1.571, 1.571]; activate 0.05, deactivate 0.08.
	q := [4]float64{1.50, -0.5, -0.5, 0}
	assert.Equal(t, [4]int{0, 0, 0, 0}, m.Update(q))
	assert.False(t, m.Task(0).Active)

	q[0] = 1.53
	assert.Equal(t, [4]int{-1, 0, 0, 0}, m.Update(q))

	// Inside the hysteresis band the activation holds.
	q[0] = 1.50
	assert.Equal(t, -1, m.Update(q)[0])

	q[0] = 1.49
	assert.Equal(t, 0, m.Update(q)[0])

	// joint2 lower limit -1.571.
	q[1] = -1.53
	assert.Equal(t, [4]int{0, 1, 0, 0}, m.Update(q))
	task := m.Task(0)
	assert.True(t, task.Active)
	assert.Equal(t, KindJointLimit, task.Kind)
	assert.Equal(t, []int{0, 1, 0, 0}, task.Activation)
	assert.Equal(t, 0.5, task.Gain)
	require.NoError(t, task.Validate())
}

func TestObstacleMonitorHysteresis(t *testing.T) {
	t.Parallel()

	m := NewObstacleMonitor([2]float64{1, 0}, 0.15, 0.25)
	assert.False(t, m.Update([2]float64{0.7, 0}))
	assert.True(t, m.Update([2]float64{0.9, 0}))
	assert.InDelta(t, 0.1, m.Distance(), 1e-12)

	// Between the thresholds the task stays on.
	assert.True(t, m.Update([2]float64{0.8, 0}))
	assert.False(t, m.Update([2]float64{0.7, 0}))

	task := m.Task(1, 0.3)
	assert.False(t, task.Active)
	assert.Equal(t, []float64{1, 0}, task.Target)
	require.NoError(t, task.Validate())
}

// --------------------------------------------------------------------------
// Wire format and history
// --------------------------------------------------------------------------

func TestDecodeTaskSet(t *testing.T) {
	t.Parallel()

	in := TaskSet{
		Seq: 9,
		Tasks: []Task{
			{Rank: 0, Kind: KindJointLimit, Activation: []int{0, 0, 0, 0}, Gain: 0.5},
			{Rank: 1, Kind: KindEEPosition, Name: "reach", Target: []float64{0.4, 0.1, -0.1}, Gain: 0.8, Active: true},
			{Rank: 2, Kind: KindRaw, Jacobian: [][]float64{{1, 0, 0, 0, 0, 0}}, Desired: []float64{0}, Active: true},
		},
	}
	data, err := EncodeTaskSet(in)
	require.NoError(t, err)

	got, err := DecodeTaskSet(data)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("task set mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeTaskSet([]byte(`{"tasks":[{"kind":"ee_position","target":[1]}]}`))
	assert.True(t, errors.Is(err, ErrMalformedTask))

	_, err = DecodeTaskSet([]byte(`{"tasks":[{"rank":1,"kind":"base_heading","target":[0],"active":true},{"rank":1,"kind":"base_heading","target":[1],"active":true}]}`))
	assert.True(t, errors.Is(err, ErrDuplicatePriority))

	_, err = DecodeTaskSet([]byte(`{not json`))
	assert.True(t, errors.Is(err, ErrMalformedTask))
}

func TestErrorHistory(t *testing.T) {
	t.Parallel()

	h := NewErrorHistory(3)
	base := time.Unix(100, 0)
	for i := 0; i < 5; i++ {
		h.Record("reach", base.Add(time.Duration(i)*time.Second), float64(i))
	}
	h.Record("heading", base, 0.1)

	s := h.Series("reach")
	require.Len(t, s, 3)
	assert.Equal(t, 2.0, s[0].Norm)
	assert.Equal(t, 4.0, s[2].Norm)
	assert.Equal(t, []string{"heading", "reach"}, h.Names())
	assert.Empty(t, h.Series("missing"))
}
