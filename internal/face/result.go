package face

// EmbeddingSize is the length of every descriptor the service produces or accepts.
const EmbeddingSize = 512

// FailureKind classifies why an operation did not succeed.
type FailureKind string

const (
	KindNone              FailureKind = ""
	KindInvalidInput      FailureKind = "invalid_input"
	KindModelUnavailable  FailureKind = "model_unavailable"
	KindNoFaceFound       FailureKind = "no_face_found"
	KindDimensionMismatch FailureKind = "dimension_mismatch"
	KindSecurityRejection FailureKind = "security_rejection"
	KindInternal          FailureKind = "internal"
)

// Embedding is a face descriptor. Two embeddings are comparable only when they
// have the same length.
type Embedding []float32

// BoundingBox is a pixel rectangle within the processed image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectionResult is returned by FaceLocator.Detect.
type DetectionResult struct {
	Success       bool         `json:"success"`
	Confidence    *float64     `json:"confidence"`
	BoundingBox   *BoundingBox `json:"bounding_box"`
	FacesDetected int          `json:"faces_detected"`
	Message       string       `json:"message"`
	Kind          FailureKind  `json:"error_kind,omitempty"`
}

// EmbeddingResult is returned by EmbeddingExtractor.Extract. Mock results carry
// random values and must never be compared.
type EmbeddingResult struct {
	Success    bool        `json:"success"`
	Embedding  Embedding   `json:"embedding"`
	Confidence *float64    `json:"confidence"`
	Mock       bool        `json:"mock"`
	Message    string      `json:"message"`
	Kind       FailureKind `json:"error_kind,omitempty"`
}

// MatchResult is returned by MatchEngine.Compare.
type MatchResult struct {
	Success    bool        `json:"success"`
	Similarity float64     `json:"similarity"`
	IsMatch    bool        `json:"is_match"`
	Message    string      `json:"message"`
	Kind       FailureKind `json:"error_kind,omitempty"`
}

func floatPtr(v float64) *float64 {
	return &v
}
