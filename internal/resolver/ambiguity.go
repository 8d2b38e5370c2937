// File: internal/resolver/ambiguity.go
package resolver

import (
	"math"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// Ambiguity scores how uncertain the target identity is, in [0,1]. No
// candidates is maximally ambiguous and one candidate scores 1-confidence.
// Several candidates start from a base that grows with their count, shrunk
// when the confidence spread is wide or when both name and location are known.
func Ambiguity(candidates []schemas.EntityCandidate, hasName, hasLocation bool, cfg config.ResolverConfig) float64 {
	switch len(candidates) {
	case 0:
		return 1.0
	case 1:
		return clamp01(1 - candidates[0].Confidence)
	}

	n := float64(len(candidates))
	score := math.Min(cfg.AmbiguityCap, cfg.BaseAmbiguity+(n-1)*cfg.AmbiguityStep)

	lo, hi := candidates[0].Confidence, candidates[0].Confidence
	for _, c := range candidates[1:] {
		lo = math.Min(lo, c.Confidence)
		hi = math.Max(hi, c.Confidence)
	}
	if hi-lo > cfg.SpreadThreshold {
		score *= cfg.SpreadFactor
	}
	if hasName && hasLocation {
		score *= cfg.NameLocationFactor
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
