package capture

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const jpegQuality = 90

var (
	ErrEmptyImage      = errors.New("captured image is empty")
	ErrUnsupportedType = errors.New("captured payload is not an image")
	ErrUndecodable     = errors.New("captured image could not be decoded")
)

// Image is one captured photo, normalized to JPEG.
type Image struct {
	Data           []byte
	MIMEType       string
	SourceMIMEType string
	CapturedAt     time.Time
}

// Normalize sniffs, decodes and re-encodes raw camera output as JPEG.
func Normalize(data []byte, capturedAt time.Time) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("capture - imaging.Encode: %w", err)
	}

	return &Image{
		Data:           buf.Bytes(),
		MIMEType:       "image/jpeg",
		SourceMIMEType: detected.String(),
		CapturedAt:     capturedAt,
	}, nil
}
