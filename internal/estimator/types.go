package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/mobile-manipulator/internal/geom"
)

// StateDim is the dimension of the error state [δp, δθ, δv, δω].
const StateDim = 12

// Error-state block offsets.
const (
	idxPos  = 0
	idxAtt  = 3
	idxVel  = 6
	idxRate = 9
)

// Sentinel errors. Statistical rejections are reported through Outcome and
// Stats, never as errors.
var (
	ErrNonPositiveDt        = errors.New("estimator: non-positive predict interval")
	ErrMalformedObservation = errors.New("estimator: malformed observation")
)

// PoseEstimate is a value snapshot of the filter. Copies are independent.
type PoseEstimate struct {
	Position        [3]float64  // world frame (m)
	Orientation     quat.Number // world←body, unit
	LinearVelocity  [3]float64  // body frame (m/s)
	AngularVelocity [3]float64  // body frame (rad/s)

	// Covariance is the row-major error-state covariance.
	Covariance [StateDim * StateDim]float64

	Timestamp      time.Time
	Seq            uint64
	VisionDegraded bool // no marker accepted within the marker timeout
}

// Pose returns the base pose.
func (p PoseEstimate) Pose() geom.Pose {
	return geom.Pose{Position: p.Position, Orientation: p.Orientation}
}

// CovarianceAt returns element (i, j) of the covariance.
func (p PoseEstimate) CovarianceAt(i, j int) float64 {
	return p.Covariance[i*StateDim+j]
}

// CovarianceTrace returns the trace of the covariance.
func (p PoseEstimate) CovarianceTrace() float64 {
	var tr float64
	for i := 0; i < StateDim; i++ {
		tr += p.Covariance[i*StateDim+i]
	}
	return tr
}

// CovarianceMatrix returns a copy of the covariance as a symmetric matrix.
func (p PoseEstimate) CovarianceMatrix() *mat.SymDense {
	data := make([]float64, len(p.Covariance))
	copy(data, p.Covariance[:])
	return mat.NewSymDense(StateDim, data)
}

// PositionSigma returns the per-axis position standard deviation.
func (p PoseEstimate) PositionSigma() [3]float64 {
	var s [3]float64
	for i := range s {
		s[i] = math.Sqrt(math.Max(p.CovarianceAt(idxPos+i, idxPos+i), 0))
	}
	return s
}

// ObservationKind tags an Observation.
type ObservationKind uint8

const (
	ObservationOdometry ObservationKind = iota + 1
	ObservationMarker
)

func (k ObservationKind) String() string {
	switch k {
	case ObservationOdometry:
		return "odometry"
	case ObservationMarker:
		return "marker"
	default:
		return fmt.Sprintf("ObservationKind(%d)", uint8(k))
	}
}

// Observation is a single timestamped measurement, consumed once.
type Observation struct {
	Kind      ObservationKind
	Timestamp time.Time

	// Odometry: body-frame twist.
	LinearVelocity  [3]float64
	AngularVelocity [3]float64

	// Marker: marker pose in the camera frame.
	MarkerID            int
	RelativePosition    [3]float64
	RelativeOrientation quat.Number
	Confidence          float64 // (0, 1]; zero means unset and is treated as 1
	Valid               bool

	// Covariance optionally overrides the configured 6×6 noise (row-major).
	Covariance []float64
}

// NewOdometryObservation returns an odometry observation with default noise.
func NewOdometryObservation(ts time.Time, linear, angular [3]float64) Observation {
	return Observation{
		Kind:            ObservationOdometry,
		Timestamp:       ts,
		LinearVelocity:  linear,
		AngularVelocity: angular,
	}
}

// NewMarkerObservation returns a valid, full-confidence marker observation.
func NewMarkerObservation(ts time.Time, id int, pos [3]float64, ori quat.Number) Observation {
	return Observation{
		Kind:                ObservationMarker,
		Timestamp:           ts,
		MarkerID:            id,
		RelativePosition:    pos,
		RelativeOrientation: ori,
		Confidence:          1,
		Valid:               true,
	}
}

// Outcome reports what Correct did with an observation.
type Outcome uint8

const (
	OutcomeApplied Outcome = iota
	OutcomeGated
	OutcomeStale
	OutcomeBuffered
	OutcomeInvalid
	OutcomeUnknownMarker
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeGated:
		return "gated"
	case OutcomeStale:
		return "stale"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeUnknownMarker:
		return "unknown_marker"
	case OutcomeMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Stats are cumulative filter counters.
type Stats struct {
	Predicts         uint64
	NonPositiveDt    uint64
	Applied          uint64
	Gated            uint64
	Stale            uint64
	Malformed        uint64
	Invalid          uint64
	UnknownMarker    uint64
	Buffered         uint64
	Dropped          uint64 // buffered observations evicted by a full buffer
	Replayed         uint64 // late observations applied at their own epoch
	CovarianceCapped uint64
	LastMahalanobis  float64
}

// Sink receives every published estimate. PublishEstimate is called with
// the estimator locked and must not call back into it.
type Sink interface {
	PublishEstimate(PoseEstimate)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(PoseEstimate)

// PublishEstimate calls f(p).
func (f SinkFunc) PublishEstimate(p PoseEstimate) { f(p) }
