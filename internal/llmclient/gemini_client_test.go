package llmclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// geminiServer serves a scripted sequence of responses, repeating the last
// one, and counts the requests it received.
type geminiServer struct {
	*httptest.Server
	calls   atomic.Int32
	lastReq atomic.Value
}

type scripted struct {
	status int
	body   string
}

func newGeminiServer(t *testing.T, responses ...scripted) *geminiServer {
	t.Helper()
	gs := &geminiServer{}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(gs.calls.Add(1))
		body, _ := io.ReadAll(r.Body)
		gs.lastReq.Store(body)
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		resp := responses[min(n, len(responses))-1]
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(gs.Close)
	return gs
}

// newTestGeminiClient points a client at srv with a fast, bounded retry policy.
func newTestGeminiClient(t *testing.T, srv *geminiServer) (*GoogleClient, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	cfg := getValidLLMConfig()
	cfg.Endpoint = srv.URL

	client, err := NewGoogleClient(cfg, zap.New(core))
	require.NoError(t, err)
	client.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return client, logs
}

const planJSON = `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"subtasks\":"},{"text":"[]}"}]},"finishReason":"STOP"}],
"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":4,"totalTokenCount":16}}`

func TestNewGoogleClient(t *testing.T) {
	logger := setupTestLogger(t)

	t.Run("Default Endpoint", func(t *testing.T) {
		cfg := getValidLLMConfig()
		client, err := NewGoogleClient(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/test-model:generateContent", client.endpoint)
		assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	})

	t.Run("Missing API Key", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.APIKey = ""
		_, err := NewGoogleClient(cfg, logger)
		assert.ErrorContains(t, err, "API Key is required")
	})

	t.Run("Missing Model Without Endpoint", func(t *testing.T) {
		cfg := getValidLLMConfig()
		cfg.Model = ""
		_, err := NewGoogleClient(cfg, logger)
		assert.ErrorContains(t, err, "model name is required")
	})
}

func TestNewGeminiRequest(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.MaxTokens = 2048
	cfg.SafetyFilters = map[string]string{
		"HARM_CATEGORY_HARASSMENT":        "BLOCK_NONE",
		"HARM_CATEGORY_DANGEROUS_CONTENT": "BLOCK_ONLY_HIGH",
	}

	payload := newGeminiRequest(schemas.GenerationRequest{
		SystemPrompt: "Decompose the request.",
		UserPrompt:   "scan example.com",
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	}, cfg)

	require.Len(t, payload.Contents, 1)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, "scan example.com", payload.Contents[0].Parts[0].Text)
	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, "Decompose the request.", payload.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.7, payload.GenerationConfig.Temperature, 1e-6, "zero request temperature uses the model default")
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
	assert.Equal(t, []geminiSafetySetting{
		{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
		{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	}, payload.SafetySettings)

	plain := newGeminiRequest(schemas.GenerationRequest{UserPrompt: "hi", Options: schemas.GenerationOptions{Temperature: 0.1}}, getValidLLMConfig())
	assert.Nil(t, plain.SystemInstruction)
	assert.Empty(t, plain.GenerationConfig.ResponseMimeType)
	assert.Equal(t, 0.1, plain.GenerationConfig.Temperature)
}

func TestDecodeGeminiResponse(t *testing.T) {
	t.Run("Joins Parts", func(t *testing.T) {
		text, usage, err := decodeGeminiResponse([]byte(planJSON))
		require.NoError(t, err)
		assert.Equal(t, `{"subtasks":[]}`, text)
		assert.Equal(t, 16, usage.TotalTokenCount)
	})

	blocked := map[string]string{
		"Finish Reason Safety": `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`,
		"Prompt Blocked":       `{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`,
	}
	for name, body := range blocked {
		t.Run(name, func(t *testing.T) {
			_, _, err := decodeGeminiResponse([]byte(body))
			assert.ErrorIs(t, err, schemas.ErrContentBlocked)
			var permanent *backoff.PermanentError
			assert.True(t, errors.As(err, &permanent), "blocks are not retried")
		})
	}

	t.Run("Empty Content Is Retryable", func(t *testing.T) {
		_, _, err := decodeGeminiResponse([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`))
		require.Error(t, err)
		var permanent *backoff.PermanentError
		assert.False(t, errors.As(err, &permanent))
		assert.NotErrorIs(t, err, schemas.ErrContentBlocked)
	})

	t.Run("No Candidates", func(t *testing.T) {
		_, _, err := decodeGeminiResponse([]byte(`{"candidates":[]}`))
		assert.ErrorContains(t, err, "no candidates")
	})

	t.Run("Malformed Body", func(t *testing.T) {
		_, _, err := decodeGeminiResponse([]byte(`<html>`))
		assert.ErrorContains(t, err, "failed to decode response payload")
	})
}

func TestGoogleClient_Generate(t *testing.T) {
	ctx := context.Background()
	req := schemas.GenerationRequest{SystemPrompt: "plan", UserPrompt: "scan example.com"}

	t.Run("Success Logs Usage", func(t *testing.T) {
		srv := newGeminiServer(t, scripted{http.StatusOK, planJSON})
		client, logs := newTestGeminiClient(t, srv)

		text, err := client.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, `{"subtasks":[]}`, text)

		var sent geminiRequest
		require.NoError(t, json.Unmarshal(srv.lastReq.Load().([]byte), &sent))
		assert.Equal(t, "scan example.com", sent.Contents[0].Parts[0].Text)

		entries := logs.FilterMessage("Model generation complete.").All()
		require.Len(t, entries, 1)
		assert.EqualValues(t, 16, entries[0].ContextMap()["total_tokens"])
	})

	t.Run("Retries Throttling Then Succeeds", func(t *testing.T) {
		srv := newGeminiServer(t,
			scripted{http.StatusTooManyRequests, `{"error":"quota"}`},
			scripted{http.StatusBadGateway, `bad gateway`},
			scripted{http.StatusOK, planJSON},
		)
		client, _ := newTestGeminiClient(t, srv)

		text, err := client.Generate(ctx, req)
		require.NoError(t, err)
		assert.NotEmpty(t, text)
		assert.EqualValues(t, 3, srv.calls.Load())
	})

	t.Run("Gives Up After Retries", func(t *testing.T) {
		srv := newGeminiServer(t, scripted{http.StatusServiceUnavailable, `overloaded`})
		client, _ := newTestGeminiClient(t, srv)

		_, err := client.Generate(ctx, req)
		assert.ErrorContains(t, err, "status 503")
		assert.EqualValues(t, 4, srv.calls.Load(), "first attempt plus three retries")
	})

	t.Run("Client Error Is Not Retried", func(t *testing.T) {
		srv := newGeminiServer(t, scripted{http.StatusBadRequest, `{"error":"bad key"}`})
		client, logs := newTestGeminiClient(t, srv)

		_, err := client.Generate(ctx, req)
		assert.ErrorContains(t, err, "status 400")
		assert.EqualValues(t, 1, srv.calls.Load())
		assert.Equal(t, 1, logs.FilterMessage("Gemini API returned error status.").Len())
	})

	t.Run("Safety Block Is A Refusal", func(t *testing.T) {
		srv := newGeminiServer(t, scripted{http.StatusOK, `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`})
		client, _ := newTestGeminiClient(t, srv)

		_, err := client.Generate(ctx, req)
		assert.ErrorIs(t, err, schemas.ErrContentBlocked)
		assert.EqualValues(t, 1, srv.calls.Load())
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		srv := newGeminiServer(t, scripted{http.StatusOK, planJSON})
		client, _ := newTestGeminiClient(t, srv)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := client.Generate(cancelled, req)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
