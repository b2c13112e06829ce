package selection

import (
	"strconv"
	"strings"

	"github.com/Lllllllleong/pdftransform/internal/pdferr"
)

// MaxPageNumber bounds page numbers and the expanded length of a page spec.
const MaxPageNumber = 100_000

// ParsePages parses a user page spec such as "1-3, 5,7" into 1-based page
// numbers, keeping the written order. It does not range-check against a
// document; the resolvers do that.
func ParsePages(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var pages []int
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(token, "-")
		first, err := parsePageNumber(lo)
		if err != nil {
			return nil, err
		}
		if !isRange {
			if len(pages) >= MaxPageNumber {
				return nil, pdferr.Newf(pdferr.CodeValidation, "page spec selects more than %d pages", MaxPageNumber)
			}
			pages = append(pages, first)
			continue
		}
		last, err := parsePageNumber(hi)
		if err != nil {
			return nil, err
		}
		if last < first {
			return nil, pdferr.Newf(pdferr.CodeValidation, "page range %q runs backwards", token)
		}
		if len(pages)+last-first+1 > MaxPageNumber {
			return nil, pdferr.Newf(pdferr.CodeValidation, "page spec selects more than %d pages", MaxPageNumber)
		}
		for n := first; n <= last; n++ {
			pages = append(pages, n)
		}
	}
	return pages, nil
}

func parsePageNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, pdferr.Newf(pdferr.CodeValidation, "invalid page number %q", s)
	}
	if n > MaxPageNumber {
		return 0, pdferr.Newf(pdferr.CodeValidation, "page number %d exceeds %d", n, MaxPageNumber)
	}
	return n, nil
}

// ParseOrder parses a comma separated 0-based permutation such as "2,0,1".
func ParseOrder(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	fields := strings.Split(spec, ",")
	order := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return nil, pdferr.Newf(pdferr.CodeValidation, "invalid page index %q", f)
		}
		order = append(order, n)
	}
	return order, nil
}
