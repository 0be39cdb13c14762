// Package ingest receives estimator observations, task sets and joint
// states as JSON datagrams, either live over UDP or replayed from a pcap
// capture.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/config"
	"github.com/banshee-data/mobile-manipulator/internal/estimator"
	"github.com/banshee-data/mobile-manipulator/internal/geom"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

// ErrUnknownType is returned for a datagram whose type is not recognised.
var ErrUnknownType = errors.New("ingest: unknown message type")

// Message types carried in the "type" field.
const (
	TypeOdometry = "odom"
	TypeMarker   = "marker"
	TypeTasks    = "tasks"
	TypeJoints   = "joints"
)

// envelope holds every field any message type may carry.
type envelope struct {
	Type        string `json:"type"`
	TimestampNs int64  `json:"timestamp_ns"`

	Linear  *[3]float64 `json:"linear,omitempty"`
	Angular *[3]float64 `json:"angular,omitempty"`

	ID          int        `json:"id"`
	Position    []float64  `json:"position,omitempty"`
	Orientation [4]float64 `json:"orientation"`
	Confidence  float64    `json:"confidence"`
	Valid       *bool      `json:"valid,omitempty"`

	Covariance []float64 `json:"covariance,omitempty"`

	Velocity []float64 `json:"velocity,omitempty"`
}

// OdometryMessage builds the wire form of an odometry observation.
func OdometryMessage(obs estimator.Observation) ([]byte, error) {
	return json.Marshal(envelope{
		Type:        TypeOdometry,
		TimestampNs: obs.Timestamp.UnixNano(),
		Linear:      &obs.LinearVelocity,
		Angular:     &obs.AngularVelocity,
		Covariance:  obs.Covariance,
	})
}

// MarkerMessage builds the wire form of a marker observation.
func MarkerMessage(obs estimator.Observation) ([]byte, error) {
	valid := obs.Valid
	return json.Marshal(envelope{
		Type:        TypeMarker,
		TimestampNs: obs.Timestamp.UnixNano(),
		ID:          obs.MarkerID,
		Position:    obs.RelativePosition[:],
		Orientation: geom.QuatToArray(obs.RelativeOrientation),
		Confidence:  obs.Confidence,
		Valid:       &valid,
		Covariance:  obs.Covariance,
	})
}

// JointsMessage builds the wire form of a joint state report.
func JointsMessage(jc tasks.JointConfiguration) ([]byte, error) {
	return json.Marshal(envelope{
		Type:        TypeJoints,
		TimestampNs: jc.Timestamp.UnixNano(),
		Position:    jc.Position[:],
		Velocity:    jc.Velocity[:],
	})
}

func peekType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.Type, nil
}

func decodeObservation(kind string, data []byte) (estimator.Observation, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return estimator.Observation{}, err
	}
	var ts time.Time
	if e.TimestampNs != 0 {
		ts = time.Unix(0, e.TimestampNs)
	}

	switch kind {
	case TypeOdometry:
		if e.Linear == nil || e.Angular == nil {
			return estimator.Observation{}, fmt.Errorf("odom: linear and angular are required")
		}
		obs := estimator.NewOdometryObservation(ts, *e.Linear, *e.Angular)
		obs.Covariance = e.Covariance
		return obs, nil
	default:
		if len(e.Position) != 3 {
			return estimator.Observation{}, fmt.Errorf("marker: position needs 3 values, got %d", len(e.Position))
		}
		obs := estimator.NewMarkerObservation(ts, e.ID, [3]float64{e.Position[0], e.Position[1], e.Position[2]},
			geom.QuatFromArray(e.Orientation))
		obs.Confidence = e.Confidence
		if e.Valid != nil {
			obs.Valid = *e.Valid
		}
		obs.Covariance = e.Covariance
		return obs, nil
	}
}

// decodeJoints overlays reported positions and velocities on template,
// which carries the joint limits.
func decodeJoints(data []byte, template tasks.JointConfiguration) (tasks.JointConfiguration, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return tasks.JointConfiguration{}, err
	}
	if len(e.Position) != config.QuasiJointCount {
		return tasks.JointConfiguration{}, fmt.Errorf("joints: position needs %d values, got %d", config.QuasiJointCount, len(e.Position))
	}
	if n := len(e.Velocity); n != 0 && n != config.QuasiJointCount {
		return tasks.JointConfiguration{}, fmt.Errorf("joints: velocity needs %d values, got %d", config.QuasiJointCount, n)
	}
	jc := template
	copy(jc.Position[:], e.Position)
	jc.Velocity = [config.QuasiJointCount]float64{}
	copy(jc.Velocity[:], e.Velocity)
	if e.TimestampNs != 0 {
		jc.Timestamp = time.Unix(0, e.TimestampNs)
	}
	if err := jc.Validate(); err != nil {
		return tasks.JointConfiguration{}, err
	}
	return jc, nil
}
