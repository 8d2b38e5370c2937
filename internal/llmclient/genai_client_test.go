package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

func TestGenAIClient_BuildConfig(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.MaxTokens = 1024
	cfg.SafetyFilters = map[string]string{
		"HARM_CATEGORY_HARASSMENT":        "BLOCK_NONE",
		"HARM_CATEGORY_DANGEROUS_CONTENT": "BLOCK_ONLY_HIGH",
	}
	client, err := NewGenAIClient(context.Background(), cfg, setupTestLogger(t))
	require.NoError(t, err)

	gc := client.buildConfig(schemas.GenerationRequest{
		SystemPrompt: "You are a planner.",
		UserPrompt:   "scan example.com",
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})

	require.NotNil(t, gc.Temperature)
	assert.Equal(t, float32(0.7), *gc.Temperature, "zero request temperature falls back to the model default")
	require.NotNil(t, gc.TopK)
	assert.Equal(t, float32(50), *gc.TopK)
	assert.Equal(t, int32(1024), gc.MaxOutputTokens)
	assert.Equal(t, "application/json", gc.ResponseMIMEType)
	require.NotNil(t, gc.SystemInstruction)
	assert.Equal(t, "You are a planner.", gc.SystemInstruction.Parts[0].Text)

	require.Len(t, gc.SafetySettings, 2)
	assert.Equal(t, genai.HarmCategory("HARM_CATEGORY_DANGEROUS_CONTENT"), gc.SafetySettings[0].Category)
	assert.Equal(t, genai.HarmBlockThreshold("BLOCK_NONE"), gc.SafetySettings[1].Threshold)

	plain := client.buildConfig(schemas.GenerationRequest{UserPrompt: "hi", Options: schemas.GenerationOptions{Temperature: 0.1}})
	assert.Nil(t, plain.SystemInstruction)
	assert.Empty(t, plain.ResponseMIMEType)
	assert.InDelta(t, 0.1, float64(*plain.Temperature), 1e-6)
}

func TestNewGenAIClient_MissingKey(t *testing.T) {
	cfg := getValidLLMConfig()
	cfg.APIKey = ""
	_, err := NewGenAIClient(context.Background(), cfg, setupTestLogger(t))
	assert.ErrorContains(t, err, "API Key is required")
}
