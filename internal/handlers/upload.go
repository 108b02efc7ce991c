package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

// MaxUploadSize bounds the size of an uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form fields and part headers.
const multipartOverhead = 1 << 20

// maxReferenceSize bounds a stored_embedding sent as a file part.
const maxReferenceSize = 256 << 10

// readImage reads the "image" part of a multipart request and writes the error
// response itself when the upload is missing, too large or not an image.
func readImage(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Image exceeds the maximum upload size"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Image exceeds the maximum upload size"})
		return nil, false
	}
	if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"detail": "File must be an image"})
		return nil, false
	}

	data, err := readPart(file, MaxUploadSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	if detected := mimetype.Detect(data); !strings.HasPrefix(detected.String(), "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"detail": "File must be an image"})
		return nil, false
	}
	return data, true
}

// storedEmbedding returns the serialised reference of a multipart request,
// sent either as a plain form value or as a file part. A missing reference
// is returned as nil and rejected later by the verification policy.
func storedEmbedding(c *gin.Context) ([]byte, error) {
	if value, ok := c.GetPostForm("stored_embedding"); ok {
		return []byte(value), nil
	}
	file, err := c.FormFile("stored_embedding")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read stored_embedding: %w", err)
	}
	if file.Size > maxReferenceSize {
		return nil, fmt.Errorf("stored_embedding exceeds %d bytes", maxReferenceSize)
	}
	return readPart(file, maxReferenceSize)
}

func readPart(file *multipart.FileHeader, limit int64) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(io.LimitReader(src, limit))
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}
