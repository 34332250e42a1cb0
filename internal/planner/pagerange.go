// Package planner parses page-range hints and groups pages into extraction batches.
package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spherical/register-extractor/internal/domain"
)

// DefaultMaxPage bounds hint ranges so a typo cannot expand to millions of pages.
const DefaultMaxPage = 10000

var (
	singlePage = regexp.MustCompile(`^\d+$`)
	pageSpan   = regexp.MustCompile(`^(\d+)\s*[-–]\s*(\d+)$`)
	separators = regexp.MustCompile(`[,;]`)
)

// PageSelection is the parsed, normalized form of one or more page-range hints.
type PageSelection struct {
	Ranges []string // canonical tokens, in input order
	Pages  []int    // union of covered pages, ascending, unique
}

// String renders the selection as a compact canonical expression.
func (s PageSelection) String() string {
	return FormatRanges(s.Pages)
}

// ParsePageRanges parses hint expressions such as "54-70" or "10, 15-20; 45".
// Any invalid token fails the whole request with an error naming it.
func ParsePageRanges(maxPage int, exprs ...string) (PageSelection, error) {
	if maxPage <= 0 {
		maxPage = DefaultMaxPage
	}

	var sel PageSelection
	seen := make(map[int]bool)
	tokens := 0

	for _, expr := range exprs {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		for _, raw := range separators.Split(expr, -1) {
			token := strings.TrimSpace(raw)
			if token == "" {
				return PageSelection{}, domain.ValidationError(
					fmt.Sprintf("invalid page range %q: empty segment", expr), nil)
			}

			start, end, err := parseToken(token, maxPage)
			if err != nil {
				return PageSelection{}, err
			}
			tokens++

			if start == end {
				sel.Ranges = append(sel.Ranges, strconv.Itoa(start))
			} else {
				sel.Ranges = append(sel.Ranges, fmt.Sprintf("%d-%d", start, end))
			}
			for p := start; p <= end; p++ {
				if !seen[p] {
					seen[p] = true
					sel.Pages = append(sel.Pages, p)
				}
			}
		}
	}

	if tokens == 0 {
		return PageSelection{}, domain.ValidationError("page range is empty", nil)
	}

	sort.Ints(sel.Pages)
	return sel, nil
}

func parseToken(token string, maxPage int) (int, int, error) {
	invalid := func(reason string) error {
		return domain.ValidationError(fmt.Sprintf("invalid page range %q: %s", token, reason), nil)
	}

	if singlePage.MatchString(token) {
		n, err := strconv.Atoi(token)
		if err != nil {
			return 0, 0, invalid("page number too large")
		}
		if n < 1 {
			return 0, 0, invalid("page numbers start at 1")
		}
		if n > maxPage {
			return 0, 0, invalid(fmt.Sprintf("page numbers above %d are not supported", maxPage))
		}
		return n, n, nil
	}

	m := pageSpan.FindStringSubmatch(token)
	if m == nil {
		return 0, 0, invalid("expected a page number or a range like 54-70")
	}

	start, err1 := strconv.Atoi(m[1])
	end, err2 := strconv.Atoi(m[2])
	switch {
	case err1 != nil || err2 != nil:
		return 0, 0, invalid("page number too large")
	case start < 1 || end < 1:
		return 0, 0, invalid("page numbers start at 1")
	case start > end:
		return 0, 0, invalid("start page is after end page")
	case end > maxPage:
		return 0, 0, invalid(fmt.Sprintf("page numbers above %d are not supported", maxPage))
	}
	return start, end, nil
}

// FormatRanges compresses ascending unique pages into "1-3,7,9-10".
func FormatRanges(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	sorted := make([]int, len(pages))
	copy(sorted, pages)
	sort.Ints(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	emit := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, p := range sorted[1:] {
		if p == prev {
			continue
		}
		if p == prev+1 {
			prev = p
			continue
		}
		emit()
		start, prev = p, p
	}
	emit()
	return strings.Join(parts, ",")
}
