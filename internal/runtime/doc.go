// Package runtime runs the estimator and the controller as independent
// periodic loops. The loops share state only through snapshot.Latest
// values and a bounded observation queue, so neither ever waits on the
// other.
package runtime
