package speechapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlegis/hearing-transcribe/internal/apierr"
)

type fakeTranscriber struct {
	resp openai.AudioResponse
	err  error
}

func (f fakeTranscriber) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	return f.resp, f.err
}

func TestTranscribeSuccess(t *testing.T) {
	t.Parallel()
	resp := openai.AudioResponse{
		Text:     "hello world",
		Duration: 12.5,
		Language: "en",
		Segments: []openai.Segment{{Start: 0, End: 1.2, Text: "hello"}, {Start: 1.2, End: 2.5, Text: "world"}},
	}
	c := New(fakeTranscriber{resp: resp})

	result, err := c.Transcribe(context.Background(), "slice.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	assert.Len(t, result.Segments, 2)
	assert.Equal(t, "en", result.Language)
}

func TestTranscribeClassifiesRateLimit(t *testing.T) {
	t.Parallel()
	c := New(fakeTranscriber{err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}})

	_, err := c.Transcribe(context.Background(), "slice.mp3")
	assert.ErrorIs(t, err, apierr.ErrRateLimit)
}

func TestTranscribeClassifiesAuth(t *testing.T) {
	t.Parallel()
	c := New(fakeTranscriber{err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}})

	_, err := c.Transcribe(context.Background(), "slice.mp3")
	assert.ErrorIs(t, err, apierr.ErrAuthFailed)
}

func TestTranscribeClassifiesPayloadTooLargeAsBadRequest(t *testing.T) {
	t.Parallel()
	c := New(fakeTranscriber{err: &openai.APIError{HTTPStatusCode: http.StatusRequestEntityTooLarge, Message: "too big"}})

	_, err := c.Transcribe(context.Background(), "slice.mp3")
	assert.ErrorIs(t, err, apierr.ErrBadRequest)
}

func TestTranscribeClassifiesServerError(t *testing.T) {
	t.Parallel()
	c := New(fakeTranscriber{err: &openai.APIError{HTTPStatusCode: http.StatusBadGateway, Message: "oops"}})

	_, err := c.Transcribe(context.Background(), "slice.mp3")
	assert.ErrorIs(t, err, apierr.ErrServer)
}

func TestTranscribeClassifiesUnknownAsNetwork(t *testing.T) {
	t.Parallel()
	c := New(fakeTranscriber{err: errors.New("dial tcp: connection refused")})

	_, err := c.Transcribe(context.Background(), "slice.mp3")
	assert.ErrorIs(t, err, apierr.ErrNetwork)
}
