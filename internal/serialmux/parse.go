package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/estimator"
)

const (
	EventTypeOdometry = "odometry"
	EventTypeStatus   = "status"
	EventTypeUnknown  = "unknown"
)

// ErrNotOdometry is returned by ParseOdometryLine for non-odometry lines.
var ErrNotOdometry = errors.New("serialmux: not an odometry line")

// ClassifyLine returns the event type of a device line. JSON lines with
// a twist are odometry; other JSON lines are status reports.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "ODOM,"):
		return EventTypeOdometry
	case strings.HasPrefix(line, "{"):
		if strings.Contains(line, `"v"`) && strings.Contains(line, `"w"`) {
			return EventTypeOdometry
		}
		return EventTypeStatus
	}
	return EventTypeUnknown
}

// jsonOdometry is the JSON line form: {"t":<unix_nanos>,"v":[3],"w":[3]}.
type jsonOdometry struct {
	T int64       `json:"t"`
	V *[3]float64 `json:"v"`
	W *[3]float64 `json:"w"`
}

// ParseOdometryLine parses either
//
//	ODOM,<unix_nanos>,vx,vy,vz,wx,wy,wz
//
// or the equivalent JSON line into a body-frame odometry observation.
func ParseOdometryLine(line string) (estimator.Observation, error) {
	line = strings.TrimSpace(line)
	if ClassifyLine(line) != EventTypeOdometry {
		return estimator.Observation{}, ErrNotOdometry
	}

	if strings.HasPrefix(line, "{") {
		var j jsonOdometry
		if err := json.Unmarshal([]byte(line), &j); err != nil {
			return estimator.Observation{}, fmt.Errorf("odometry json: %w", err)
		}
		if j.V == nil || j.W == nil {
			return estimator.Observation{}, fmt.Errorf("odometry json: v and w are required")
		}
		return estimator.NewOdometryObservation(nanos(j.T), *j.V, *j.W), nil
	}

	fields := strings.Split(line, ",")
	if len(fields) != 8 {
		return estimator.Observation{}, fmt.Errorf("odometry csv: want 8 fields, got %d", len(fields))
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return estimator.Observation{}, fmt.Errorf("odometry csv: timestamp: %w", err)
	}
	var vals [6]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(fields[2+i]), 64)
		if err != nil {
			return estimator.Observation{}, fmt.Errorf("odometry csv: field %d: %w", 2+i, err)
		}
	}
	return estimator.NewOdometryObservation(nanos(ns),
		[3]float64{vals[0], vals[1], vals[2]},
		[3]float64{vals[3], vals[4], vals[5]}), nil
}

// FormatOdometryLine renders obs in the CSV line form.
func FormatOdometryLine(obs estimator.Observation) string {
	v, w := obs.LinearVelocity, obs.AngularVelocity
	return fmt.Sprintf("ODOM,%d,%g,%g,%g,%g,%g,%g", obs.Timestamp.UnixNano(), v[0], v[1], v[2], w[0], w[1], w[2])
}

func nanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
