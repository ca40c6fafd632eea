package aggregate

import (
	"github.com/claimlens/claimlens/internal/model"
)

// AssessEvidenceBalance computes the directional composition of the evidence
// pool. It is pure: same pool and config always yield the same result, and it
// never mutates anything.
//
// The ratio is taken over non-neutral items only. Below the minimum
// directional count the pool is too small to judge and Evaluated stays false.
// Skew uses strict inequality, so a threshold of 1.0 can never flag.
func AssessEvidenceBalance(pool []model.EvidenceItem, cfg model.AggregateConfig) model.EvidenceBalance {
	b := model.EvidenceBalance{Threshold: cfg.BalanceSkewThreshold}

	for i := range pool {
		switch pool[i].Direction {
		case model.DirectionSupports:
			b.Supporting++
		case model.DirectionContradicts:
			b.Contradicting++
		default:
			b.Neutral++
		}
	}

	directional := b.Supporting + b.Contradicting
	if directional == 0 {
		return b
	}
	b.Ratio = float64(b.Supporting) / float64(directional)

	if directional < cfg.MinDirectionalItems {
		return b
	}
	b.Evaluated = true

	dominant := b.Ratio
	if 1-b.Ratio > dominant {
		dominant = 1 - b.Ratio
	}
	b.Skewed = dominant > cfg.BalanceSkewThreshold

	return b
}
