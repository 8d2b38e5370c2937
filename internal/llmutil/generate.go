// internal/llmutil/generate.go
package llmutil

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// GenerateJSON runs one generation with JSON output forced and decodes the
// object it contains. The raw response is returned alongside parse errors so
// callers can log or fall back on it.
func GenerateJSON[T any](ctx context.Context, client schemas.LLMClient, req schemas.GenerationRequest) (*T, string, error) {
	if client == nil {
		return nil, "", fmt.Errorf("no reasoning backend configured")
	}
	req.Options.ForceJSONFormat = true
	raw, err := client.Generate(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("generation failed: %w", err)
	}
	parsed, err := ParseJSONResponse[T](raw)
	if err != nil {
		return nil, raw, err
	}
	return parsed, raw, nil
}
