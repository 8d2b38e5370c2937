// internal/llmclient/router.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
)

// LLMRouter routes requests to a fast or a powerful model by tier.
type LLMRouter struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
}

var _ schemas.LLMClient = (*LLMRouter)(nil)

// NewLLMRouter requires a client for both tiers; they may be the same client.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	return &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}, nil
}

// Generate sends the request to the client for its tier, powerful when unset.
// A failed fast-tier call is retried once on the powerful tier when that is a
// different client, unless the context ended or the content was blocked.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}
	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	text, err := client.Generate(ctx, req)
	if err == nil || tier != schemas.TierFast {
		return text, err
	}
	powerful := r.clients[schemas.TierPowerful]
	if powerful == client || ctx.Err() != nil || errors.Is(err, schemas.ErrContentBlocked) {
		return "", err
	}

	r.logger.Warn("Fast tier failed, retrying on the powerful tier.", zap.Error(err))
	req.Tier = schemas.TierPowerful
	text, perr := powerful.Generate(ctx, req)
	if perr != nil {
		return "", errors.Join(err, perr)
	}
	return text, nil
}

// Close closes every tier client once, even when both tiers share a client.
func (r *LLMRouter) Close() error {
	seen := make(map[schemas.LLMClient]bool, len(r.clients))
	var errs []error
	for _, tier := range []schemas.ModelTier{schemas.TierFast, schemas.TierPowerful} {
		c := r.clients[tier]
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s client: %w", tier, err))
		}
	}
	return errors.Join(errs...)
}
