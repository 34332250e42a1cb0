package scoring

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/spherical/register-extractor/internal/domain"
)

const (
	hintContextBefore = 50
	hintContextAfter  = 100
	maxHintsPerRule   = 3
	MaxHints          = 20
)

type hintRule struct {
	kind    domain.HintType
	pattern *regexp.Regexp
}

var hintRules = []hintRule{
	{domain.HintAddressPattern, regexp.MustCompile(`(?i)add\s*40[,.]?000\s*to\s*(the\s*)?address`)},
	{domain.HintAddressPattern, regexp.MustCompile(`(?i)pdu\s*address(ing)?`)},
	{domain.HintAddressPattern, regexp.MustCompile(`(?i)\b(zero|one|0|1)[- ]based\s+address`)},
	{domain.HintAddressRange, regexp.MustCompile(`(?i)address\s*range`)},
	{domain.HintAddressRange, regexp.MustCompile(`\b[34]0{3}[1-9]\s*(-|–|to)\s*[34]\d{4}\b`)},
	{domain.HintBaseAddress, regexp.MustCompile(`(?i)base\s*address`)},
	{domain.HintByteOrder, regexp.MustCompile(`(?i)(big|little)[- ]?endian`)},
	{domain.HintByteOrder, regexp.MustCompile(`(?i)byte\s*(order|swap)`)},
	{domain.HintWordOrder, regexp.MustCompile(`(?i)word\s*(swap|order)`)},
	{domain.HintWordOrder, regexp.MustCompile(`(?i)(high|low)\s*word\s*first`)},
	{domain.HintDataType, regexp.MustCompile(`(?i)\b(float32|float64|u?int16|u?int32|ieee[\s-]*754)\b`)},
}

// ExtractHints scans document text for addressing and encoding conventions.
// Results are in rule order, deduplicated, and capped at MaxHints.
func ExtractHints(text string) []domain.ExtractionHint {
	hints := make([]domain.ExtractionHint, 0)
	seen := make(map[string]bool)

	for _, rule := range hintRules {
		for _, loc := range rule.pattern.FindAllStringIndex(text, maxHintsPerRule) {
			ctx := surrounding(text, loc[0], loc[1])
			key := string(rule.kind) + "|" + strings.ToLower(ctx)
			if seen[key] {
				continue
			}
			seen[key] = true
			hints = append(hints, domain.ExtractionHint{Type: rule.kind, Context: ctx})
			if len(hints) == MaxHints {
				return hints
			}
		}
	}
	return hints
}

// MergeHints combines per-page hint lists, keeping first occurrences.
func MergeHints(lists ...[]domain.ExtractionHint) []domain.ExtractionHint {
	out := make([]domain.ExtractionHint, 0)
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, h := range list {
			key := string(h.Type) + "|" + strings.ToLower(h.Context)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, h)
			if len(out) == MaxHints {
				return out
			}
		}
	}
	return out
}

func surrounding(text string, start, end int) string {
	from := start - hintContextBefore
	if from < 0 {
		from = 0
	}
	to := end + hintContextAfter
	if to > len(text) {
		to = len(text)
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return strings.Join(strings.Fields(text[from:to]), " ")
}
