// Package vision provides reference detectors, trackers and camera sources.
//
// [ColorDetector] and [CentroidTracker] are pure Go. The OpenCV backed
// [YOLODetector] and [Camera] require building with -tags gocv; without the
// tag their constructors return [servo.ErrUnavailable].
package vision
