package handlers

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/usecase"
)

// maxJSONBody allows for the base64 expansion of a MaxUploadSize image.
const maxJSONBody = MaxUploadSize*4/3 + multipartOverhead

type verifyJSONRequest struct {
	Image           string          `json:"image"`
	StoredEmbedding json.RawMessage `json:"stored_embedding"`
	StudentID       string          `json:"student_id"`
}

func verifyFaceJSON(uc *usecase.VerificationUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxJSONBody))
		if err != nil {
			if isTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Unable to read request body"})
			return
		}

		var req verifyJSONRequest
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Request body must be a JSON object"})
			return
		}
		reference := bytes.TrimSpace(req.StoredEmbedding)
		if req.Image == "" || len(reference) == 0 || bytes.Equal(reference, []byte("null")) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Missing image or stored_embedding in JSON body"})
			return
		}

		outcome, err := uc.VerifyFaceJSON(c.Request.Context(), callerID(c), req.StudentID, req.Image, reference)
		if err != nil {
			respondError(c, err)
			return
		}

		switch outcome.Stage {
		case face.StageInputValidation:
			c.JSON(http.StatusBadRequest, gin.H{"detail": outcome.Message})
			return
		case face.StageFailClosed:
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid stored_embedding format. Must be a JSON array of 512 float values."})
			return
		}

		c.JSON(http.StatusOK, comparisonBody(outcome.RequestID, outcome.MatchResult))
	}
}
