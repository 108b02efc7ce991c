package handlers

import (
	"math"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/example/faceverify/internal/face"
)

type compareRequest struct {
	Embedding1 []float64 `json:"embedding1" binding:"required,min=1,dive,float32"`
	Embedding2 []float64 `json:"embedding2" binding:"required,min=1,dive,float32"`
}

var registerOnce sync.Once

// registerValidators adds the "float32" tag, which accepts finite numbers that
// fit a float32 without overflowing.
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("float32", func(fl validator.FieldLevel) bool {
				f := fl.Field().Float()
				return !math.IsNaN(f) && math.Abs(f) <= math.MaxFloat32
			})
		}
	})
}

func toEmbedding(values []float64) face.Embedding {
	out := make(face.Embedding, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
