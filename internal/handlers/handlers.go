package handlers

import (
	"context"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/age-gate/internal/auth"
	"github.com/example/age-gate/internal/capture"
	"github.com/example/age-gate/internal/repository"
	"github.com/example/age-gate/internal/usecase"
)

// MaxUploadSize bounds a single captured photo.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers on top of the file itself.
const multipartOverhead = 1 << 20

//go:embed capture.html
var capturePage []byte

// Verifier is the use case surface the HTTP layer depends on.
type Verifier interface {
	VerifyAge(ctx context.Context, subjectID string, raw []byte) (*usecase.Outcome, error)
	GetResult(ctx context.Context, subjectID, requestID string) (*usecase.Outcome, error)
	GetDuplicateReport(ctx context.Context, subjectID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. requireAuth guards the
// result and metrics endpoints; optionalAuth identifies the subject of a capture when
// a token is sent.
func RegisterRoutes(router *gin.Engine, uc Verifier, requireAuth, optionalAuth gin.HandlerFunc) {
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", capturePage)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/verify", optionalAuth, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if file.Size == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is empty"})
			return
		}
		if contentType := file.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be an image/* upload"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		subject, _ := auth.GetSubject(c.Request.Context())
		outcome, err := uc.VerifyAge(c.Request.Context(), subject, data)
		if err != nil {
			switch {
			case errors.Is(err, capture.ErrUnsupportedType):
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "uploaded file is not an image"})
			case errors.Is(err, usecase.ErrInvalidImage):
				c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded image could not be read"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			}
			return
		}

		c.JSON(http.StatusOK, outcome)
	})

	router.GET("/result/:id", requireAuth, func(c *gin.Context) {
		subject, _ := auth.GetSubject(c.Request.Context())
		outcome, err := uc.GetResult(c.Request.Context(), subject, c.Param("id"))
		if err != nil {
			lookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	router.GET("/result/:id/duplicates", requireAuth, func(c *gin.Context) {
		subject, _ := auth.GetSubject(c.Request.Context())
		report, err := uc.GetDuplicateReport(c.Request.Context(), subject, c.Param("id"))
		if err != nil {
			lookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	router.GET("/metrics", requireAuth, func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func lookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
}
