package estimator

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/example/age-gate/internal/logging"
)

type streamFunc func(ctx context.Context, model string, contents []*genai.Content) iter.Seq2[*genai.GenerateContentResponse, error]

// GeminiEstimator asks a Gemini model for an age estimate and collects the streamed reply.
type GeminiEstimator struct {
	model   string
	timeout time.Duration
	stream  streamFunc
	logger  *zap.Logger
}

// NewGeminiEstimator creates a client for the Gemini API using apiKey.
func NewGeminiEstimator(ctx context.Context, apiKey, model string, timeout time.Duration, logger *zap.Logger) (*GeminiEstimator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	stream := func(ctx context.Context, model string, contents []*genai.Content) iter.Seq2[*genai.GenerateContentResponse, error] {
		return client.Models.GenerateContentStream(ctx, model, contents, nil)
	}
	return newGeminiEstimator(model, timeout, stream, logger), nil
}

func newGeminiEstimator(model string, timeout time.Duration, stream streamFunc, logger *zap.Logger) *GeminiEstimator {
	return &GeminiEstimator{
		model:   model,
		timeout: timeout,
		stream:  stream,
		logger:  logger.Named("gemini_estimator"),
	}
}

// Estimate sends the image with Instruction and returns the whole reply text.
func (g *GeminiEstimator) Estimate(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(Instruction),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	started := time.Now()
	text, err := Collect(textFragments(g.stream(ctx, g.model, contents)))
	if err != nil {
		wrapped := logging.NewOperationError("estimator.generate_content", "", err)
		g.logger.Error("gemini call failed", zap.Error(wrapped), zap.String("model", g.model))
		return "", wrapped
	}

	g.logger.Debug("gemini reply collected",
		zap.String("model", g.model),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return text, nil
}

func textFragments(responses iter.Seq2[*genai.GenerateContentResponse, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range responses {
			if err != nil {
				yield("", err)
				return
			}
			if resp == nil {
				continue
			}
			text := resp.Text()
			if reason, blocked := blockReason(resp); blocked && text == "" {
				yield("", fmt.Errorf("%w: %s", ErrBlocked, reason))
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

var blockingFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:                 true,
	genai.FinishReasonRecitation:             true,
	genai.FinishReasonBlocklist:              true,
	genai.FinishReasonProhibitedContent:      true,
	genai.FinishReasonSPII:                   true,
	genai.FinishReasonImageSafety:            true,
	genai.FinishReasonImageProhibitedContent: true,
}

// blockReason reports why a chunk was refused, either for the whole prompt or
// for its first candidate.
func blockReason(resp *genai.GenerateContentResponse) (string, bool) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason), true
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		if reason := resp.Candidates[0].FinishReason; blockingFinishReasons[reason] {
			return string(reason), true
		}
	}
	return "", false
}
