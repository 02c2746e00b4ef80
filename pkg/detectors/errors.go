package detectors

import "fmt"

// NotFittedError is returned when a prediction method is called on a
// detector that has not been trained.
type NotFittedError struct {
	// Detector names the algorithm that was used before fitting.
	Detector string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s: detector is not fitted, call Fit first", e.Detector)
}

// InputShapeError is returned when input data is malformed or its
// dimensions do not match what the detector was trained on.
type InputShapeError struct {
	Reason string
	Want   int
	Got    int
}

func (e *InputShapeError) Error() string {
	if e.Want != 0 || e.Got != 0 {
		return fmt.Sprintf("invalid input shape: %s (want %d, got %d)", e.Reason, e.Want, e.Got)
	}
	return fmt.Sprintf("invalid input shape: %s", e.Reason)
}

// ConfigurationError is returned at construction or build time when a
// detector's configuration is invalid. It always surfaces before any
// training begins.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}
