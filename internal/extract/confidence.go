package extract

import "github.com/spherical/register-extractor/internal/domain"

// DefaultExpectedDensity is the registers-per-analyzed-page yield below which
// a run without high-relevance pages is considered weak.
const DefaultExpectedDensity = 2.0

// ConfidenceInput carries the run figures confidence is derived from
type ConfidenceInput struct {
	PagesAnalyzed      int
	HighRelevancePages int
	RegistersFound     int
	FallbackUsed       bool
	ExpectedDensity    float64
}

// AssessConfidence grades a finished run.
//
//	low:    fallback selection, no registers, or a thin yield with no high-relevance pages
//	high:   at least half the analyzed pages are high relevance and the yield meets the density
//	medium: everything else
func AssessConfidence(in ConfidenceInput) domain.ConfidenceLevel {
	expected := in.ExpectedDensity
	if expected <= 0 {
		expected = DefaultExpectedDensity
	}

	if in.FallbackUsed || in.RegistersFound == 0 || in.PagesAnalyzed == 0 {
		return domain.ConfidenceLow
	}

	density := float64(in.RegistersFound) / float64(in.PagesAnalyzed)
	if in.HighRelevancePages == 0 && density < expected {
		return domain.ConfidenceLow
	}

	highRatio := float64(in.HighRelevancePages) / float64(in.PagesAnalyzed)
	if in.HighRelevancePages > 0 && density >= expected && highRatio >= 0.5 {
		return domain.ConfidenceHigh
	}

	return domain.ConfidenceMedium
}
