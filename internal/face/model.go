package face

import (
	"context"
	"errors"

	"github.com/example/faceverify/internal/imageprocessor"
)

// ErrModelUnavailable is reported by a ModelState that was never made ready.
var ErrModelUnavailable = errors.New("model unavailable")

// RelativeBox is a detection box expressed as fractions of the image size.
type RelativeBox struct {
	XMin   float64 `json:"xmin"`
	YMin   float64 `json:"ymin"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RawDetection is one face reported by a Detector.
type RawDetection struct {
	Score float64     `json:"score"`
	Box   RelativeBox `json:"box"`
}

// RawFace is one face reported by an Embedder. BBox holds pixel corners
// x1, y1, x2, y2 and Descriptor is not normalised.
type RawFace struct {
	BBox       [4]float64 `json:"bbox"`
	Descriptor []float32  `json:"embedding"`
	DetScore   float64    `json:"det_score"`
}

// Area is the bounding box area.
func (f RawFace) Area() float64 {
	return (f.BBox[2] - f.BBox[0]) * (f.BBox[3] - f.BBox[1])
}

// Detector locates faces in an RGB image. The minimum confidence is fixed when
// the detector is constructed.
type Detector interface {
	Name() string
	Detect(ctx context.Context, rgb *imageprocessor.PixelImage) ([]RawDetection, error)
}

// Embedder locates faces in an RGB image and describes each of them.
type Embedder interface {
	Name() string
	Analyze(ctx context.Context, rgb *imageprocessor.PixelImage) ([]RawFace, error)
}

// ModelState is either Ready with a model or Unavailable with the reason. It is
// built once at startup and never changes afterwards. The zero value is
// Unavailable.
type ModelState[M any] struct {
	model M
	err   error
	ready bool
}

// Ready wraps a loaded model.
func Ready[M any](model M) ModelState[M] {
	return ModelState[M]{model: model, ready: true}
}

// Unavailable records why a model could not be loaded.
func Unavailable[M any](err error) ModelState[M] {
	if err == nil {
		err = ErrModelUnavailable
	}
	return ModelState[M]{err: err}
}

// StateOf returns Ready(model) when err is nil and Unavailable(err) otherwise.
func StateOf[M any](model M, err error) ModelState[M] {
	if err != nil {
		return Unavailable[M](err)
	}
	return Ready(model)
}

// Get returns the model and whether it is ready.
func (s ModelState[M]) Get() (M, bool) {
	return s.model, s.ready
}

// Available reports whether the model is ready.
func (s ModelState[M]) Available() bool {
	return s.ready
}

// Err is nil for a ready model.
func (s ModelState[M]) Err() error {
	if s.ready {
		return nil
	}
	if s.err == nil {
		return ErrModelUnavailable
	}
	return s.err
}
