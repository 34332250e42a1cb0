// Package scoring ranks PDF pages by how likely they are to hold a register table.
package scoring

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/spherical/register-extractor/internal/domain"
)

const (
	HighRelevanceThreshold = 5.0
	TableAssistedThreshold = 2.0

	registerIndicatorBonus = 5.0
	keywordCap             = 5.0
	sectionTitleLines      = 10
)

type weighted struct {
	term   string
	weight float64
}

var keywordWeights = []weighted{
	{"modbus", 1.5}, {"register", 1.0}, {"holding", 0.8}, {"coil", 0.8},
	{"scaling", 1.2}, {"offset", 1.0}, {"data range", 1.0}, {"address", 0.5},
	{"uint16", 0.8}, {"int16", 0.8}, {"uint32", 0.8}, {"int32", 0.8}, {"float32", 0.8},
	{"r/w", 0.7}, {"read/write", 0.7}, {"function code", 0.6},
	{"fc03", 0.8}, {"fc06", 0.8}, {"fc16", 0.8},
	{"slave", 0.4}, {"master", 0.4}, {"rtu", 0.5}, {"tcp/ip", 0.4},
	{"parameter", 0.3}, {"setpoint", 0.4}, {"status", 0.3},
}

var headerWeights = []weighted{
	{"address", 2.5}, {"register", 2.5}, {"offset", 2.0}, {"holding", 2.0},
	{"name", 1.0}, {"parameter", 1.5}, {"description", 1.0}, {"desc", 1.0},
	{"type", 1.0}, {"datatype", 2.0}, {"data type", 2.0}, {"ct", 1.0},
	{"access", 1.5}, {"r/w", 2.0}, {"rw", 2.0}, {"read/write", 2.0},
	{"scaling", 2.0}, {"resolution", 1.5}, {"range", 1.0}, {"unit", 0.8},
	{"sec lvl", 1.0}, {"security", 0.8},
}

var registerHeaders = []string{
	"address", "register", "offset", "holding", "datatype", "data type",
	"r/w", "access", "scaling",
}

var (
	indicatorPatterns = compileAll(
		`modbus`,
		`register\s*(address|map|table|list)`,
		`\b40[0-9]{3,4}\b`,
		`\b30[0-9]{3,4}\b`,
		`holding\s*register`,
		`input\s*register`,
		`coil.*address`,
		`read[- ]?write`,
		`\br/?w\b`,
		`\b0x[0-9a-f]{2,4}\b`,
		`scaling:\s*[\d./]+`,
		`offset:\s*-?[\d.]+`,
		`data\s*range`,
	)

	hexAddressPattern = regexp.MustCompile(`\b0x[0-9a-f]{2,4}\b`)
	scalingPattern    = regexp.MustCompile(`scaling:\s*[\d.]+\s*\w+/bit`)
	offsetPattern     = regexp.MustCompile(`offset:\s*-?[\d.]+`)
	addressCell       = regexp.MustCompile(`^(0x[0-9a-f]{1,4}|[0-9a-f]{1,4}h|[0-9]{1,6})$`)

	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(APPENDIX\s+[A-Z])`),
		regexp.MustCompile(`^(\d+\.?\d*\.?\d*\s+)?[A-Z][A-Z\s]{3,50}$`),
		regexp.MustCompile(`^(Chapter|Section|Appendix)\s+\w`),
	}
	titleKeywords = []string{"modbus", "register", "appendix", "data point"}
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Score computes the relevance of one page. It is pure: identical features
// give identical metadata. Pages whose features failed to load score zero.
func Score(f domain.PageFeatures) domain.PageMetadata {
	meta := domain.PageMetadata{PageNum: f.PageNum}
	if f.Err != nil {
		return meta
	}

	lower := strings.ToLower(f.Text())
	score := 0.0

	if hasRegisterIndicators(lower, f.Tables) {
		score += registerIndicatorBonus
	}

	score += keywordDensity(lower)

	for _, t := range f.Tables {
		score += tableScore(t)
	}

	if title := detectSectionTitle(f.Lines); title != "" {
		meta.SectionTitle = title
		score += titleScore(strings.ToLower(title), lower)
	}

	if hexAddressPattern.MatchString(lower) {
		score += 2
	}
	if scalingPattern.MatchString(lower) {
		score += 3
	}
	if offsetPattern.MatchString(lower) {
		score += 2
	}

	meta.Score = math.Round(score*100) / 100
	meta.HasTable = len(f.Tables) > 0
	return meta
}

func hasRegisterIndicators(lower string, tables []domain.Table) bool {
	for _, p := range indicatorPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	for _, t := range tables {
		if countHeaderMatches(t.Header(), registerHeaders) >= 2 {
			return true
		}
	}
	return false
}

func keywordDensity(lower string) float64 {
	total := 0.0
	for _, kw := range keywordWeights {
		n := strings.Count(lower, kw.term)
		if n == 0 {
			continue
		}
		total += math.Min(float64(n)*kw.weight, keywordCap)
	}
	return total
}

func tableScore(t domain.Table) float64 {
	score := 0.0

	header := lowerCells(t.Header())
	for _, hw := range headerWeights {
		for _, cell := range header {
			if cellHasTerm(cell, hw.term) {
				score += hw.weight
				break
			}
		}
	}

	addressLike := 0
	if len(t.Rows) > 1 {
		for _, row := range t.Rows[1:] {
			for i, cell := range row {
				if i > 1 {
					break
				}
				if addressCell.MatchString(strings.ToLower(strings.TrimSpace(cell))) {
					addressLike++
					break
				}
			}
		}
	}
	switch {
	case addressLike >= 3:
		score += 4
	case addressLike >= 1:
		score += 2
	}

	switch rows := len(t.Rows); {
	case rows > 20:
		score += 2
	case rows > 10:
		score += 1
	}

	return score
}

// cellHasTerm matches short terms as whole words so "ct" does not hit "function".
func cellHasTerm(cell, term string) bool {
	if len(term) > 3 {
		return strings.Contains(cell, term)
	}
	for _, field := range strings.FieldsFunc(cell, func(r rune) bool {
		return r == ' ' || r == '(' || r == ')' || r == '.' || r == ':' || r == '-'
	}) {
		if field == term {
			return true
		}
	}
	return false
}

func countHeaderMatches(header []string, terms []string) int {
	n := 0
	lower := lowerCells(header)
	for _, term := range terms {
		for _, cell := range lower {
			if cellHasTerm(cell, term) {
				n++
				break
			}
		}
	}
	return n
}

func lowerCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}
	return out
}

func detectSectionTitle(lines []string) string {
	seen := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if seen == sectionTitleLines {
			break
		}
		seen++
		for _, p := range titlePatterns {
			if p.MatchString(line) {
				return line
			}
		}
	}
	return ""
}

func titleScore(title, lowerText string) float64 {
	score := 0.0
	for _, kw := range titleKeywords {
		if strings.Contains(title, kw) {
			score += 4
			break
		}
	}
	if strings.Contains(title, "appendix") &&
		(strings.Contains(lowerText, "register") || strings.Contains(lowerText, "address") || strings.Contains(lowerText, "scaling")) {
		score += 6
	}
	return score
}

// IsHighRelevance reports score > 5.
func IsHighRelevance(p domain.PageMetadata) bool {
	return p.Score > HighRelevanceThreshold
}

// IsTableAssisted reports a detected table with score > 2.
func IsTableAssisted(p domain.PageMetadata) bool {
	return p.HasTable && p.Score > TableAssistedThreshold
}

// IsSuggested reports whether the page should be sent for deep extraction.
func IsSuggested(p domain.PageMetadata) bool {
	return IsHighRelevance(p) || IsTableAssisted(p)
}

// Rank returns a copy of pages sorted by score descending, ties by page number.
func Rank(pages []domain.PageMetadata) []domain.PageMetadata {
	out := make([]domain.PageMetadata, len(pages))
	copy(out, pages)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PageNum < out[j].PageNum
	})
	return out
}

// Suggested returns the suggested pages, ranked.
func Suggested(pages []domain.PageMetadata) []domain.PageMetadata {
	var out []domain.PageMetadata
	for _, p := range pages {
		if IsSuggested(p) {
			out = append(out, p)
		}
	}
	return Rank(out)
}

// SuggestedPageNumbers returns suggested page numbers in ascending order.
func SuggestedPageNumbers(pages []domain.PageMetadata) []int {
	var out []int
	for _, p := range pages {
		if IsSuggested(p) {
			out = append(out, p.PageNum)
		}
	}
	sort.Ints(out)
	return out
}

// CountHighRelevance counts pages with score > 5 among the given page numbers.
// A nil filter counts every page.
func CountHighRelevance(pages []domain.PageMetadata, only []int) int {
	var include map[int]bool
	if only != nil {
		include = make(map[int]bool, len(only))
		for _, n := range only {
			include[n] = true
		}
	}
	n := 0
	for _, p := range pages {
		if include != nil && !include[p.PageNum] {
			continue
		}
		if IsHighRelevance(p) {
			n++
		}
	}
	return n
}
