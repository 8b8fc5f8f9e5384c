package estimator

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// Instruction is the prompt sent alongside every captured image.
const Instruction = "Estimate my age from this image. Predict the age from facial features and reply with the age as a number only."

// ErrEmptyImage is returned when Estimate is called without image data.
var ErrEmptyImage = errors.New("image is empty")

// ErrBlocked is returned when the model refuses to answer for the captured image.
var ErrBlocked = errors.New("estimator refused the request")

// Estimator exposes the remote age estimation used by the verification flow.
type Estimator interface {
	Estimate(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Collect folds streamed text fragments into one string in arrival order.
// The first fragment error stops the fold and is returned with the text gathered so far.
func Collect(fragments iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for fragment, err := range fragments {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}
