// Package opencv runs the YuNet face detector and the ArcFace recognizer
// locally through gocv. Building with the noopencv tag drops the cgo
// dependency; the constructors then always fail with ErrDisabled and the
// service runs on the grpc or none backends.
package opencv

import "errors"

// ErrDisabled is returned by every constructor in noopencv builds.
var ErrDisabled = errors.New("opencv backend not compiled in (built with noopencv)")
