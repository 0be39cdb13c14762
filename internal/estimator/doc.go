// Package estimator fuses body-frame odometry with intermittent fiducial
// marker observations into a pose estimate of the mobile base.
//
// The filter is an error-state EKF. The nominal state is position (world),
// orientation (world←body quaternion), body linear velocity and body angular
// rate; the 12-D error state is [δp, δθ, δv, δω] with attitude errors applied
// on the right (q = q̂ ⊗ exp(δθ)). Prediction uses a constant-velocity model.
//
// Observations older than the filter epoch by more than the staleness
// threshold are discarded. Observations stamped in the future are buffered
// and applied when a Predict reaches their timestamp. Late observations
// inside the threshold rewind the filter to a recent checkpoint and replay
// the history after it, so every correction is linearised at the state
// epoch it belongs to. Innovations beyond the
// per-kind Mahalanobis gate are rejected without touching the mean.
//
// An Estimator is safe for concurrent use: Predict and Correct are
// serialised by a mutex and Estimate returns an independent copy.
package estimator
