package face

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// ErrInvalidReference is returned for any reference descriptor that is not a
// JSON array of exactly EmbeddingSize finite numbers.
var ErrInvalidReference = errors.New("invalid reference descriptor")

// ParseReference strictly decodes a serialised reference descriptor.
func ParseReference(raw []byte) (Embedding, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing", ErrInvalidReference)
	}
	if raw[0] != '[' {
		return nil, fmt.Errorf("%w: not a list", ErrInvalidReference)
	}

	var values []*float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return NewReference(values)
}

// NewReference validates already decoded values. Nil entries stand for JSON
// nulls and are rejected.
func NewReference(values []*float64) (Embedding, error) {
	if len(values) != EmbeddingSize {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInvalidReference, EmbeddingSize, len(values))
	}
	out := make(Embedding, len(values))
	for i, v := range values {
		if v == nil {
			return nil, fmt.Errorf("%w: element %d is null", ErrInvalidReference, i)
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || math.Abs(*v) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: element %d is not a finite number", ErrInvalidReference, i)
		}
		out[i] = float32(*v)
	}
	return out, nil
}
