// Package telemetry wraps OpenTelemetry SDK initialization, providing a
// centrally configured TracerProvider for cueflow. When telemetry is
// disabled the noop implementation is used and no external service is
// contacted.
package telemetry
