package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/faceverify/internal/auth"
	"github.com/example/faceverify/internal/face"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/usecase"
)

const (
	// ServiceName is reported by the health endpoint.
	ServiceName = "face-verification-service"
	// ServiceVersion is reported by the health endpoint.
	ServiceVersion = "1.0.0"
)

// RegisterRoutes wires the HTTP handlers to the Gin router. When authMiddleware
// is nil every route is public.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc) {
	registerValidators()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName, "version": ServiceVersion})
	})

	protected := router.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}

	protected.GET("/system-info", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.SystemInfo())
	})

	protected.POST("/detect-face", func(c *gin.Context) {
		data, ok := readImage(c)
		if !ok {
			return
		}

		outcome, err := uc.DetectFace(c.Request.Context(), callerID(c), data)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":     outcome.RequestID,
			"success":        outcome.Success,
			"embedding":      outcome.Embedding,
			"confidence":     outcome.Confidence,
			"message":        outcome.Message,
			"faces_detected": outcome.FacesDetected,
			"bounding_box":   outcome.BoundingBox,
		})
	})

	protected.POST("/generate-embedding", func(c *gin.Context) {
		data, ok := readImage(c)
		if !ok {
			return
		}

		outcome, err := uc.GenerateEmbedding(c.Request.Context(), callerID(c), data)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": outcome.RequestID,
			"success":    outcome.Success,
			"embedding":  outcome.Embedding,
			"confidence": outcome.Confidence,
			"mock":       outcome.Mock,
			"message":    outcome.Message,
		})
	})

	protected.POST("/compare-faces", func(c *gin.Context) {
		var req compareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
		if len(req.Embedding1) != len(req.Embedding2) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "Embeddings must have the same dimensions"})
			return
		}

		outcome, err := uc.CompareEmbeddings(c.Request.Context(), callerID(c), toEmbedding(req.Embedding1), toEmbedding(req.Embedding2))
		if err != nil {
			respondError(c, err)
			return
		}
		if !outcome.Success {
			c.JSON(http.StatusBadRequest, gin.H{"detail": outcome.Message})
			return
		}

		c.JSON(http.StatusOK, comparisonBody(outcome.RequestID, outcome.MatchResult))
	})

	protected.POST("/verify-face", func(c *gin.Context) {
		data, ok := readImage(c)
		if !ok {
			return
		}
		reference, err := storedEmbedding(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}

		outcome, err := uc.VerifyFace(c.Request.Context(), callerID(c), c.PostForm("student_id"), data, reference)
		if err != nil {
			respondError(c, err)
			return
		}
		if outcome.Stage == face.StageInputValidation {
			c.JSON(http.StatusBadRequest, gin.H{"detail": outcome.Message})
			return
		}

		c.JSON(http.StatusOK, comparisonBody(outcome.RequestID, outcome.MatchResult))
	})

	protected.POST("/verify-face-json", verifyFaceJSON(uc))

	protected.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := uc.GetResult(c.Request.Context(), callerID(c), requestID)
		switch {
		case errors.Is(err, usecase.ErrResultPending):
			c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": "processing"})
			return
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		case err != nil:
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": log.RequestID,
			"operation":  log.Operation,
			"student_id": log.SubjectID,
			"success":    log.Success,
			"is_match":   log.IsMatch,
			"similarity": log.Similarity,
			"confidence": log.Confidence,
			"error_kind": log.Kind,
			"message":    log.Message,
			"sha1_hash":  log.ImageSHA1,
			"latency_ms": log.LatencyMs,
			"created_at": log.CreatedAt,
		})
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func callerID(c *gin.Context) string {
	caller, _ := auth.CallerID(c.Request.Context())
	return caller
}

// comparisonBody reports the similarity a second time as the confidence.
// Failed comparisons report zero for both.
func comparisonBody(requestID string, res face.MatchResult) gin.H {
	similarity := 0.0
	if res.Success {
		similarity = res.Similarity
	}
	return gin.H{
		"request_id": requestID,
		"success":    res.Success,
		"similarity": similarity,
		"is_match":   res.Success && res.IsMatch,
		"confidence": similarity,
		"message":    res.Message,
	}
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrInvalidImage) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid image format"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
