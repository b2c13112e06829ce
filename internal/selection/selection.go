// Package selection resolves which source pages, in which order, make up the
// output of a transform.
//
// User-facing page numbers are 1-based; everything this package returns is
// 0-based. Out-of-range user page numbers are dropped silently: callers rely
// on that permissive policy, so it is not an error here.
package selection

import (
	"github.com/Lllllllleong/pdftransform/internal/pdferr"
)

// Entry is one output page: page Page (0-based) of input document Source.
type Entry struct {
	Source int
	Page   int
}

// Selection is the ordered list of pages the output document will contain.
type Selection []Entry

// Len is the number of output pages.
func (s Selection) Len() int { return len(s) }

// Merge concatenates every page of every document, in list order.
// pageCounts[i] is the page count of input i.
func Merge(pageCounts []int) Selection {
	total := 0
	for _, n := range pageCounts {
		total += n
	}
	sel := make(Selection, 0, total)
	for src, n := range pageCounts {
		for p := 0; p < n; p++ {
			sel = append(sel, Entry{Source: src, Page: p})
		}
	}
	return sel
}

// Extract keeps the requested 1-based pages in the requested order.
// Duplicates are kept; numbers outside [1, pageCount] are dropped.
func Extract(pageCount int, pages []int) Selection {
	sel := make(Selection, 0, len(pages))
	for _, n := range pages {
		if n >= 1 && n <= pageCount {
			sel = append(sel, Entry{Page: n - 1})
		}
	}
	return sel
}

// Remove returns every page in original order except the listed 1-based pages.
func Remove(pageCount int, pages []int) Selection {
	drop := make(map[int]struct{}, len(pages))
	for _, n := range pages {
		drop[n] = struct{}{}
	}
	sel := make(Selection, 0, pageCount)
	for p := 0; p < pageCount; p++ {
		if _, ok := drop[p+1]; !ok {
			sel = append(sel, Entry{Page: p})
		}
	}
	return sel
}

// Reorder takes a 0-based permutation verbatim. It may be shorter than the
// document (the tail is dropped) or repeat entries (pages are replicated).
// Unlike user page numbers, an index outside the document is a RANGE error.
func Reorder(pageCount int, order []int) (Selection, error) {
	sel := make(Selection, len(order))
	for i, p := range order {
		if p < 0 || p >= pageCount {
			return nil, pdferr.Newf(pdferr.CodeRange, "permutation entry %d is %d, document has %d pages", i, p, pageCount)
		}
		sel[i] = Entry{Page: p}
	}
	return sel, nil
}

// RotationTargets returns the 0-based pages a rotation applies to, ascending
// and without duplicates. An empty pages list targets every page.
func RotationTargets(pageCount int, pages []int) []int {
	if len(pages) == 0 {
		all := make([]int, pageCount)
		for i := range all {
			all[i] = i
		}
		return all
	}
	want := make([]bool, pageCount)
	for _, n := range pages {
		if n >= 1 && n <= pageCount {
			want[n-1] = true
		}
	}
	targets := make([]int, 0, len(pages))
	for i, ok := range want {
		if ok {
			targets = append(targets, i)
		}
	}
	return targets
}
