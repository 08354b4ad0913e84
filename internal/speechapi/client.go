// Package speechapi implements APIClient (M, §4.4 step 3, §6): submitting
// one audio blob to the remote speech service and returning text with
// segment timings, or a typed apierr.Kind-classified error. It wraps
// github.com/sashabaranov/go-openai's CreateTranscription, which already
// performs the multipart upload §6 describes. Error classification keeps
// the teacher's errors.As(&openai.APIError{}) + HTTPStatusCode switch
// exactly as internal/restructure/restructurer.go does it, generalized to
// the §6 status table (401, 400, 413, 429, 5xx).
package speechapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
)

// Segment is one timed span in a transcription result (§3).
type Segment struct {
	StartS float64
	EndS   float64
	Text   string
}

// Result is APIClient's successful response (§3).
type Result struct {
	Text     string
	Segments []Segment
	Duration float64
	Language string
}

// transcriptionCreator is satisfied by *openai.Client; injectable for tests.
type transcriptionCreator interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Client submits audio slices to the remote speech service (§4.4, §6).
type Client struct {
	inner  transcriptionCreator
	model  string
	prompt string
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the transcription model (default "whisper-1").
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithPrompt sets an optional context prompt (§6: "prompt string ≤ 224 tokens").
func WithPrompt(prompt string) Option {
	return func(c *Client) { c.prompt = prompt }
}

const defaultModel = "whisper-1"

// New constructs a Client around an *openai.Client (or any type
// implementing CreateTranscription, for tests).
func New(inner transcriptionCreator, opts ...Option) *Client {
	c := &Client{inner: inner, model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe submits audioPath's bytes for transcription (§4.4 step 3,
// §6). filePath must point at a file already on disk — the SDK streams it
// directly, so the slice is never buffered fully in memory.
func (c *Client) Transcribe(ctx context.Context, filePath string) (Result, error) {
	req := openai.AudioRequest{
		Model:                  c.model,
		FilePath:               filePath,
		Format:                 openai.AudioResponseFormatVerboseJSON,
		Prompt:                 c.prompt,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment},
	}

	resp, err := c.inner.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, classify(err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{StartS: float64(s.Start), EndS: float64(s.End), Text: s.Text})
	}

	return Result{
		Text:     resp.Text,
		Segments: segments,
		Duration: float64(resp.Duration),
		Language: resp.Language,
	}, nil
}

// classify maps the SDK's typed openai.APIError to the shared apierr
// sentinels (§4.4 step 5, §7): 401 auth, 400 and 413 bad request, 429 rate
// limit, 415 unsupported media, 408 and 504 timeout, any other 5xx server;
// a deadline-exceeded context is a timeout and anything else is network.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrAuthFailed)
		case http.StatusBadRequest:
			return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrBadRequest)
		case http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrBadRequest)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrRateLimit)
		case http.StatusUnsupportedMediaType:
			return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrUnsupportedMedia)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrTimeout)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return fmt.Errorf("%s: %w", apiErr.Message, apierr.ErrServer)
			}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", apierr.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", apierr.ErrNetwork, err)
}
